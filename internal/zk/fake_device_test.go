package zk

import (
	"bytes"
	"encoding/binary"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeDevice is a minimal in-process terminal speaking the TCP protocol.
type fakeDevice struct {
	t        *testing.T
	ln       net.Listener
	password int
	session  uint16

	mu         sync.Mutex
	users      []User
	packetSize int
	templates  []Template
	clock      time.Time
	// chunked forces buffered reads through PREPARE_DATA transfers.
	chunked   bool
	pending   []byte
	enabled   bool
	refreshes int
	voices    []int
	commands  []uint16
	// writeSizes records the length of every user record written.
	writeSizes []int
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &fakeDevice{
		t:          t,
		ln:         ln,
		session:    4242,
		packetSize: userPacketNew,
		enabled:    true,
		clock:      time.Date(2024, 5, 17, 9, 41, 3, 0, time.Local),
	}
	go d.serve()
	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *fakeDevice) addr() string {
	return d.ln.Addr().String()
}

func (d *fakeDevice) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

func (d *fakeDevice) reply(conn net.Conn, command, replyID uint16, data []byte) {
	buf := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint16(buf[0:], command)
	binary.LittleEndian.PutUint16(buf[4:], d.session)
	binary.LittleEndian.PutUint16(buf[6:], replyID)
	copy(buf[8:], data)
	_ = writeFrame(conn, buf)
}

func (d *fakeDevice) handle(conn net.Conn) {
	defer conn.Close()
	authed := d.password == 0

	for {
		req, err := readFrame(conn)
		if err != nil {
			return
		}
		d.mu.Lock()
		d.commands = append(d.commands, req.Command)
		d.mu.Unlock()

		rid := req.ReplyID
		switch req.Command {
		case cmdConnect:
			if authed {
				d.reply(conn, cmdAckOK, rid, nil)
			} else {
				d.reply(conn, cmdAckUnauth, rid, nil)
			}
		case cmdAuth:
			if bytes.Equal(req.Data, commKey(d.password, d.session, 50)) {
				authed = true
				d.reply(conn, cmdAckOK, rid, nil)
			} else {
				d.reply(conn, cmdAckUnauth, rid, nil)
			}
		case cmdExit:
			d.reply(conn, cmdAckOK, rid, nil)
			return
		default:
			if !authed {
				d.reply(conn, cmdAckUnauth, rid, nil)
				continue
			}
			d.dispatch(conn, req)
		}
	}
}

func (d *fakeDevice) dispatch(conn net.Conn, req packet) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rid := req.ReplyID
	switch req.Command {
	case cmdGetFreeSizes:
		sizes := make([]byte, 80)
		binary.LittleEndian.PutUint32(sizes[4*4:], uint32(len(d.users)))
		binary.LittleEndian.PutUint32(sizes[6*4:], uint32(len(d.templates)))
		binary.LittleEndian.PutUint32(sizes[8*4:], 17)
		binary.LittleEndian.PutUint32(sizes[15*4:], 3000)
		d.reply(conn, cmdAckOK, rid, sizes)

	case cmdDataWRRQ:
		var table []byte
		switch binary.LittleEndian.Uint16(req.Data[1:3]) {
		case cmdUserTempRRQ:
			table = d.userTable()
		case cmdDBRRQ:
			table = d.templateTable()
		}
		if !d.chunked {
			d.reply(conn, cmdData, rid, table)
			return
		}
		d.pending = table
		head := make([]byte, 9)
		binary.LittleEndian.PutUint32(head[1:], uint32(len(table)))
		d.reply(conn, cmdAckOK, rid, head)

	case cmdReadBuffer:
		start := int(binary.LittleEndian.Uint32(req.Data[0:]))
		size := int(binary.LittleEndian.Uint32(req.Data[4:]))
		chunk := d.pending[start : start+size]
		head := make([]byte, 4)
		binary.LittleEndian.PutUint32(head, uint32(len(chunk)))
		d.reply(conn, cmdPrepareData, rid, head)
		for len(chunk) > 0 {
			n := min(len(chunk), 16)
			d.reply(conn, cmdData, rid, chunk[:n])
			chunk = chunk[n:]
		}
		d.reply(conn, cmdAckOK, rid, nil)

	case cmdFreeData, cmdRefreshData:
		if req.Command == cmdRefreshData {
			d.refreshes++
		}
		d.reply(conn, cmdAckOK, rid, nil)

	case cmdUserWRQ:
		d.writeSizes = append(d.writeSizes, len(req.Data))
		var u User
		if len(req.Data) == userPacketOld {
			u = decodeUserOld(req.Data)
		} else {
			u = decodeUserNew(req.Data)
		}
		d.putUser(u)
		d.reply(conn, cmdAckOK, rid, nil)

	case cmdDeleteUser:
		uid := binary.LittleEndian.Uint16(req.Data)
		for i, u := range d.users {
			if u.UID == uid {
				d.users = append(d.users[:i], d.users[i+1:]...)
				d.reply(conn, cmdAckOK, rid, nil)
				return
			}
		}
		d.reply(conn, cmdAckError, rid, nil)

	case cmdGetTime:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, encodeTime(d.clock))
		d.reply(conn, cmdAckOK, rid, b)

	case cmdSetTime:
		d.clock = decodeTime(binary.LittleEndian.Uint32(req.Data))
		d.reply(conn, cmdAckOK, rid, nil)

	case cmdOptionsRRQ:
		values := map[string]string{
			"~SerialNumber": "OIN7030067",
			"~DeviceName":   "F22/ID",
			"~Platform":     "ZMM220_TFT",
			"MAC":           "00:17:61:10:50:2c",
		}
		key := strings.TrimRight(string(req.Data), "\x00")
		d.reply(conn, cmdAckOK, rid, []byte(key+"="+values[key]+"\x00"))

	case cmdGetVersion:
		d.reply(conn, cmdAckOK, rid, []byte("Ver 6.60 Apr 28 2017\x00"))

	case cmdEnableDevice:
		d.enabled = true
		d.reply(conn, cmdAckOK, rid, nil)

	case cmdDisableDevice:
		d.enabled = false
		d.reply(conn, cmdAckOK, rid, nil)

	case cmdTestVoice:
		d.voices = append(d.voices, int(binary.LittleEndian.Uint32(req.Data)))
		d.reply(conn, cmdAckOK, rid, nil)

	default:
		d.reply(conn, cmdAckError, rid, nil)
	}
}

func (d *fakeDevice) putUser(u User) {
	for i := range d.users {
		if d.users[i].UID == u.UID {
			d.users[i] = u
			return
		}
	}
	d.users = append(d.users, u)
}

func (d *fakeDevice) userTable() []byte {
	var body []byte
	for _, u := range d.users {
		if d.packetSize == userPacketOld {
			rec, err := encodeUserOld(u)
			require.NoError(d.t, err)
			body = append(body, rec...)
		} else {
			body = append(body, encodeUserNew(u)...)
		}
	}
	out := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...)
}

func (d *fakeDevice) templateTable() []byte {
	var body []byte
	for _, tpl := range d.templates {
		head := make([]byte, 6)
		binary.LittleEndian.PutUint16(head[0:], uint16(6+len(tpl.Data)))
		binary.LittleEndian.PutUint16(head[2:], tpl.UID)
		head[4] = byte(tpl.FID)
		head[5] = byte(tpl.Valid)
		body = append(body, head...)
		body = append(body, tpl.Data...)
	}
	out := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...)
}

func (d *fakeDevice) snapshot() []User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]User(nil), d.users...)
}

// locked runs fn while holding the device state lock.
func (d *fakeDevice) locked(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}
