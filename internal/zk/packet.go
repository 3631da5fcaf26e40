package zk

import (
	"encoding/binary"
	"fmt"
	"io"
)

type packet struct {
	Command   uint16
	Checksum  uint16
	SessionID uint16
	ReplyID   uint16
	Data      []byte
}

// checksum is the device's 16-bit ones-complement style sum.
func checksum(p []byte) uint16 {
	sum := 0
	for len(p) > 1 {
		sum += int(binary.LittleEndian.Uint16(p))
		p = p[2:]
		if sum > ushrtMax {
			sum -= ushrtMax
		}
	}
	if len(p) == 1 {
		sum += int(p[0])
	}
	for sum > ushrtMax {
		sum -= ushrtMax
	}
	sum = ^sum
	for sum < 0 {
		sum += ushrtMax
	}
	return uint16(sum)
}

// encodePacket builds a command packet. The checksum covers the header with
// the current reply id; the id written on the wire is the next one, which is
// what the firmware expects.
func encodePacket(command, sessionID, replyID uint16, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint16(buf[0:], command)
	binary.LittleEndian.PutUint16(buf[4:], sessionID)
	binary.LittleEndian.PutUint16(buf[6:], replyID)
	copy(buf[8:], data)

	sum := checksum(buf)
	next := uint32(replyID) + 1
	if next >= ushrtMax {
		next -= ushrtMax
	}
	binary.LittleEndian.PutUint16(buf[2:], sum)
	binary.LittleEndian.PutUint16(buf[6:], uint16(next))
	return buf
}

func decodePacket(b []byte) (packet, error) {
	if len(b) < 8 {
		return packet{}, fmt.Errorf("%w: packet of %d bytes", ErrProtocol, len(b))
	}
	return packet{
		Command:   binary.LittleEndian.Uint16(b[0:]),
		Checksum:  binary.LittleEndian.Uint16(b[2:]),
		SessionID: binary.LittleEndian.Uint16(b[4:]),
		ReplyID:   binary.LittleEndian.Uint16(b[6:]),
		Data:      b[8:],
	}, nil
}

func writeFrame(w io.Writer, pkt []byte) error {
	frame := make([]byte, 8+len(pkt))
	binary.LittleEndian.PutUint16(frame[0:], machinePrepareData1)
	binary.LittleEndian.PutUint16(frame[2:], machinePrepareData2)
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(pkt)))
	copy(frame[8:], pkt)
	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader) (packet, error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return packet{}, err
	}
	if binary.LittleEndian.Uint16(head[0:]) != machinePrepareData1 ||
		binary.LittleEndian.Uint16(head[2:]) != machinePrepareData2 {
		return packet{}, fmt.Errorf("%w: bad frame magic", ErrProtocol)
	}
	size := binary.LittleEndian.Uint32(head[4:])
	if size < 8 || size > maxFrame {
		return packet{}, fmt.Errorf("%w: frame length %d", ErrProtocol, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return packet{}, err
	}
	return decodePacket(body)
}

// commKey derives the authentication payload from the numeric device
// password and the session id handed out on connect.
func commKey(key int, sessionID uint16, ticks uint8) []byte {
	var k uint32
	for i := 0; i < 32; i++ {
		if key&(1<<i) != 0 {
			k = k<<1 | 1
		} else {
			k <<= 1
		}
	}
	k += uint32(sessionID)

	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, k)
	b[0] ^= 'Z'
	b[1] ^= 'K'
	b[2] ^= 'S'
	b[3] ^= 'O'
	b[0], b[1], b[2], b[3] = b[2], b[3], b[0], b[1]

	return []byte{b[0] ^ ticks, b[1] ^ ticks, ticks, b[3] ^ ticks}
}
