package zk

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"
)

// Client is a connected device session.
type Client struct {
	conn      net.Conn
	addr      string
	opts      Options
	sessionID uint16
	replyID   uint16
	closed    bool

	// userPacketSize is learned from the first user download: 28 bytes on
	// old firmware, 72 on current ones. Until then it is the configured
	// Options.UserRecordSize.
	userPacketSize int
}

// Dial connects to the terminal at addr and opens a session, retrying the
// whole handshake up to opts.Retries times.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		c, err := dialOnce(ctx, addr, opts)
		if err == nil {
			return c, nil
		}
		lastErr = err

		// An explicit rejection will not change on retry.
		if errors.Is(err, ErrUnauthorized) || attempt == opts.Retries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryDelay):
		}
	}
	return nil, lastErr
}

func dialOnce(ctx context.Context, addr string, opts Options) (*Client, error) {
	d := net.Dialer{Timeout: opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:    conn,
		addr:    addr,
		opts:    opts,
		replyID: ushrtMax - 1,

		userPacketSize: opts.UserRecordSize,
	}
	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, cmdConnect, nil)
	if err != nil {
		return err
	}
	c.sessionID = resp.SessionID

	switch resp.Command {
	case cmdAckOK:
		return nil
	case cmdAckUnauth:
		resp, err = c.roundTrip(ctx, cmdAuth, commKey(c.opts.Password, c.sessionID, 50))
		if err != nil {
			return err
		}
		if resp.Command != cmdAckOK {
			return ErrUnauthorized
		}
		return nil
	default:
		return fmt.Errorf("%w: connect answered with %d", ErrProtocol, resp.Command)
	}
}

// Addr returns the address the client is connected to.
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.opts.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		d = dl
	}
	return d
}

// roundTrip writes one command and reads one reply frame.
func (c *Client) roundTrip(ctx context.Context, command uint16, data []byte) (packet, error) {
	if c.closed {
		return packet{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return packet{}, err
	}
	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return packet{}, err
	}
	if err := writeFrame(c.conn, encodePacket(command, c.sessionID, c.replyID, data)); err != nil {
		return packet{}, err
	}
	resp, err := readFrame(c.conn)
	if err != nil {
		return packet{}, err
	}
	c.replyID = resp.ReplyID
	return resp, nil
}

// command runs a command and fails unless the device acknowledged it.
func (c *Client) command(ctx context.Context, command uint16, data []byte) (packet, error) {
	resp, err := c.roundTrip(ctx, command, data)
	if err != nil {
		return packet{}, err
	}
	switch resp.Command {
	case cmdAckOK, cmdPrepareData, cmdData:
		return resp, nil
	}
	return packet{}, &CommandError{Command: command, Reply: resp.Command}
}

// next reads a follow-up frame without sending anything.
func (c *Client) next(ctx context.Context) (packet, error) {
	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return packet{}, err
	}
	return readFrame(c.conn)
}

// readWithBuffer downloads a data table. Small tables come back inline;
// large ones are announced by size and then pulled in chunks.
func (c *Client) readWithBuffer(ctx context.Context, command uint16, fct, ext int) ([]byte, error) {
	req := make([]byte, 11)
	req[0] = 1
	binary.LittleEndian.PutUint16(req[1:], command)
	binary.LittleEndian.PutUint32(req[3:], uint32(fct))
	binary.LittleEndian.PutUint32(req[7:], uint32(ext))

	resp, err := c.command(ctx, cmdDataWRRQ, req)
	if err != nil {
		return nil, err
	}
	if resp.Command == cmdData {
		return resp.Data, nil
	}
	if len(resp.Data) < 5 {
		return nil, fmt.Errorf("%w: buffer size missing", ErrProtocol)
	}

	size := int(binary.LittleEndian.Uint32(resp.Data[1:5]))
	var out bytes.Buffer
	for start := 0; start < size; {
		n := size - start
		if n > maxChunk {
			n = maxChunk
		}
		chunk, err := c.readChunk(ctx, start, n)
		if err != nil {
			return nil, err
		}
		out.Write(chunk)
		start += n
	}

	if _, err := c.command(ctx, cmdFreeData, nil); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (c *Client) readChunk(ctx context.Context, start, size int) ([]byte, error) {
	req := make([]byte, 8)
	binary.LittleEndian.PutUint32(req[0:], uint32(start))
	binary.LittleEndian.PutUint32(req[4:], uint32(size))

	resp, err := c.command(ctx, cmdReadBuffer, req)
	if err != nil {
		return nil, err
	}
	return c.receiveData(ctx, resp)
}

func (c *Client) receiveData(ctx context.Context, resp packet) ([]byte, error) {
	switch resp.Command {
	case cmdData:
		return resp.Data, nil
	case cmdPrepareData:
	default:
		return nil, fmt.Errorf("%w: unexpected reply %d to data request", ErrProtocol, resp.Command)
	}
	if len(resp.Data) < 4 {
		return nil, fmt.Errorf("%w: prepare without size", ErrProtocol)
	}

	size := int(binary.LittleEndian.Uint32(resp.Data[:4]))
	buf := make([]byte, 0, size)
	for len(buf) < size {
		pkt, err := c.next(ctx)
		if err != nil {
			return nil, err
		}
		if pkt.Command != cmdData {
			return nil, fmt.Errorf("%w: expected data, got %d", ErrProtocol, pkt.Command)
		}
		buf = append(buf, pkt.Data...)
	}

	ack, err := c.next(ctx)
	if err != nil {
		return nil, err
	}
	if ack.Command != cmdAckOK {
		return nil, fmt.Errorf("%w: transfer not acknowledged", ErrProtocol)
	}
	return buf[:size], nil
}

// Close ends the session and releases the socket. The socket is closed even
// when the exit command fails.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()

	_, exitErr := c.roundTrip(ctx, cmdExit, nil)
	c.closed = true
	if err := c.conn.Close(); err != nil {
		return err
	}
	if exitErr != nil && !errors.Is(exitErr, net.ErrClosed) {
		return fmt.Errorf("zk: exit: %w", exitErr)
	}
	return nil
}
