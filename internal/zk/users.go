package zk

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// User is one enrollment record as stored on the device.
type User struct {
	UID uint16
	// Privilege is the raw privilege byte; bit 0 set means disabled.
	Privilege uint8
	Password  string
	Name      string
	Card      uint32
	GroupID   string
	UserID    string
}

// Template describes one stored fingerprint template.
type Template struct {
	UID   uint16
	FID   int8
	Valid int8
	Data  []byte
}

const (
	userPacketOld = 28
	userPacketNew = 72
)

// Users downloads every enrollment record.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	sizes, err := c.Sizes(ctx)
	if err != nil {
		return nil, err
	}
	if sizes.Users == 0 {
		return []User{}, nil
	}

	data, err := c.readWithBuffer(ctx, cmdUserTempRRQ, fctUser, 0)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	if len(data) < 4 {
		return []User{}, nil
	}

	total := int(binary.LittleEndian.Uint32(data[:4]))
	data = data[4:]
	if total > len(data) {
		total = len(data)
	}
	size := total / sizes.Users
	if size != userPacketOld && size != userPacketNew {
		return nil, fmt.Errorf("%w: user record size %d", ErrProtocol, size)
	}
	c.userPacketSize = size

	users := make([]User, 0, sizes.Users)
	for off := 0; off+size <= total; off += size {
		var u User
		if size == userPacketOld {
			u = decodeUserOld(data[off : off+size])
		} else {
			u = decodeUserNew(data[off : off+size])
		}
		users = append(users, u)
	}
	return users, nil
}

// SetUser creates or overwrites the record with u.UID, using the record
// layout the device returned on the last download. Without one, as after
// reading an empty terminal, Options.UserRecordSize decides.
func (c *Client) SetUser(ctx context.Context, u User) error {
	var (
		rec []byte
		err error
	)
	if c.userPacketSize == userPacketNew {
		rec = encodeUserNew(u)
	} else {
		rec, err = encodeUserOld(u)
		if err != nil {
			return err
		}
	}
	if _, err := c.command(ctx, cmdUserWRQ, rec); err != nil {
		return fmt.Errorf("write user %d: %w", u.UID, err)
	}
	return c.RefreshData(ctx)
}

// DeleteUser removes the record with the given uid.
func (c *Client) DeleteUser(ctx context.Context, uid uint16) error {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uid)
	if _, err := c.command(ctx, cmdDeleteUser, b); err != nil {
		return fmt.Errorf("delete user %d: %w", uid, err)
	}
	return c.RefreshData(ctx)
}

// Templates downloads the fingerprint templates of every user.
func (c *Client) Templates(ctx context.Context) ([]Template, error) {
	data, err := c.readWithBuffer(ctx, cmdDBRRQ, fctFingerTmp, 0)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return decodeTemplates(data)
}

func decodeTemplates(data []byte) ([]Template, error) {
	if len(data) < 4 {
		return []Template{}, nil
	}
	total := int(binary.LittleEndian.Uint32(data[:4]))
	data = data[4:]

	var out []Template
	for total > 0 {
		if len(data) < 6 {
			return nil, fmt.Errorf("%w: truncated template header", ErrProtocol)
		}
		size := int(binary.LittleEndian.Uint16(data[0:]))
		if size < 6 || size > len(data) {
			return nil, fmt.Errorf("%w: template size %d", ErrProtocol, size)
		}
		out = append(out, Template{
			UID:   binary.LittleEndian.Uint16(data[2:]),
			FID:   int8(data[4]),
			Valid: int8(data[5]),
			Data:  append([]byte(nil), data[6:size]...),
		})
		data = data[size:]
		total -= size
	}
	if out == nil {
		out = []Template{}
	}
	return out, nil
}

// cstring returns b up to the first NUL.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

func putString(dst []byte, s string) {
	copy(dst, s)
}

func decodeUserOld(b []byte) User {
	u := User{
		UID:       binary.LittleEndian.Uint16(b[0:]),
		Privilege: b[2],
		Password:  cstring(b[3:8]),
		Name:      cstring(b[8:16]),
		Card:      binary.LittleEndian.Uint32(b[16:]),
		GroupID:   strconv.Itoa(int(b[21])),
		UserID:    strconv.FormatUint(uint64(binary.LittleEndian.Uint32(b[24:])), 10),
	}
	if u.Name == "" {
		u.Name = "NN-" + u.UserID
	}
	return u
}

func encodeUserOld(u User) ([]byte, error) {
	b := make([]byte, userPacketOld)
	binary.LittleEndian.PutUint16(b[0:], u.UID)
	b[2] = u.Privilege
	putString(b[3:8], u.Password)
	putString(b[8:16], u.Name)
	binary.LittleEndian.PutUint32(b[16:], u.Card)

	group := 0
	if g := strings.TrimSpace(u.GroupID); g != "" {
		v, err := strconv.Atoi(g)
		if err != nil || v < 0 || v > 255 {
			return nil, fmt.Errorf("zk: group %q not valid for this device", u.GroupID)
		}
		group = v
	}
	b[21] = byte(group)

	id, err := strconv.ParseUint(strings.TrimSpace(u.UserID), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("zk: user id %q must be numeric on this device", u.UserID)
	}
	binary.LittleEndian.PutUint32(b[24:], uint32(id))
	return b, nil
}

func decodeUserNew(b []byte) User {
	u := User{
		UID:       binary.LittleEndian.Uint16(b[0:]),
		Privilege: b[2],
		Password:  cstring(b[3:11]),
		Name:      cstring(b[11:35]),
		Card:      binary.LittleEndian.Uint32(b[35:]),
		GroupID:   cstring(b[40:47]),
		UserID:    cstring(b[48:72]),
	}
	if u.Name == "" {
		u.Name = "NN-" + u.UserID
	}
	return u
}

func encodeUserNew(u User) []byte {
	b := make([]byte, userPacketNew)
	binary.LittleEndian.PutUint16(b[0:], u.UID)
	b[2] = u.Privilege
	putString(b[3:11], u.Password)
	putString(b[11:35], u.Name)
	binary.LittleEndian.PutUint32(b[35:], u.Card)
	putString(b[40:47], u.GroupID)
	putString(b[48:72], u.UserID)
	return b
}
