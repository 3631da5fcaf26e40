package zk

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"
)

// Sizes holds the device storage counters.
type Sizes struct {
	Users      int
	Fingers    int
	Records    int
	Cards      int
	FingersCap int
	UsersCap   int
	RecordsCap int
}

// Sizes reads the storage counters.
func (c *Client) Sizes(ctx context.Context) (Sizes, error) {
	resp, err := c.command(ctx, cmdGetFreeSizes, nil)
	if err != nil {
		return Sizes{}, fmt.Errorf("read sizes: %w", err)
	}
	if len(resp.Data) < 80 {
		return Sizes{}, fmt.Errorf("%w: sizes payload of %d bytes", ErrProtocol, len(resp.Data))
	}
	field := func(i int) int {
		return int(int32(binary.LittleEndian.Uint32(resp.Data[i*4:])))
	}
	return Sizes{
		Users:      field(4),
		Fingers:    field(6),
		Records:    field(8),
		Cards:      field(12),
		FingersCap: field(14),
		UsersCap:   field(15),
		RecordsCap: field(16),
	}, nil
}

// Time reads the device clock.
func (c *Client) Time(ctx context.Context) (time.Time, error) {
	resp, err := c.command(ctx, cmdGetTime, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("get time: %w", err)
	}
	if len(resp.Data) < 4 {
		return time.Time{}, fmt.Errorf("%w: time payload of %d bytes", ErrProtocol, len(resp.Data))
	}
	return decodeTime(binary.LittleEndian.Uint32(resp.Data)), nil
}

// SetTime sets the device clock. The device has no notion of time zones so
// the wall clock of t is sent as is.
func (c *Client) SetTime(ctx context.Context, t time.Time) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, encodeTime(t))
	if _, err := c.command(ctx, cmdSetTime, b); err != nil {
		return fmt.Errorf("set time: %w", err)
	}
	return nil
}

func encodeTime(t time.Time) uint32 {
	d := ((t.Year()%100)*12*31+(int(t.Month())-1)*31+t.Day()-1)*(24*60*60) +
		(t.Hour()*60+t.Minute())*60 + t.Second()
	return uint32(d)
}

func decodeTime(v uint32) time.Time {
	t := int(v)
	second := t % 60
	t /= 60
	minute := t % 60
	t /= 60
	hour := t % 24
	t /= 24
	day := t%31 + 1
	t /= 31
	month := t%12 + 1
	t /= 12
	return time.Date(t+2000, time.Month(month), day, hour, minute, second, 0, time.Local)
}

// option queries a "~Key" style device option and returns its value.
func (c *Client) option(ctx context.Context, key string) (string, error) {
	resp, err := c.command(ctx, cmdOptionsRRQ, append([]byte(key), 0))
	if err != nil {
		return "", fmt.Errorf("read option %s: %w", key, err)
	}
	data := resp.Data
	if i := bytes.IndexByte(data, '='); i >= 0 {
		data = data[i+1:]
	}
	return cstring(data), nil
}

func (c *Client) SerialNumber(ctx context.Context) (string, error) {
	return c.option(ctx, "~SerialNumber")
}

func (c *Client) DeviceName(ctx context.Context) (string, error) {
	return c.option(ctx, "~DeviceName")
}

func (c *Client) Platform(ctx context.Context) (string, error) {
	return c.option(ctx, "~Platform")
}

func (c *Client) MAC(ctx context.Context) (string, error) {
	return c.option(ctx, "MAC")
}

// FirmwareVersion returns the firmware version string.
func (c *Client) FirmwareVersion(ctx context.Context) (string, error) {
	resp, err := c.command(ctx, cmdGetVersion, nil)
	if err != nil {
		return "", fmt.Errorf("get version: %w", err)
	}
	return cstring(resp.Data), nil
}

// EnableDevice lets users interact with the terminal again.
func (c *Client) EnableDevice(ctx context.Context) error {
	if _, err := c.command(ctx, cmdEnableDevice, nil); err != nil {
		return fmt.Errorf("enable device: %w", err)
	}
	return nil
}

// DisableDevice locks the terminal keypad and sensor, used while writing.
func (c *Client) DisableDevice(ctx context.Context) error {
	if _, err := c.command(ctx, cmdDisableDevice, nil); err != nil {
		return fmt.Errorf("disable device: %w", err)
	}
	return nil
}

// RefreshData makes the device reload its user table after writes.
func (c *Client) RefreshData(ctx context.Context) error {
	if _, err := c.command(ctx, cmdRefreshData, nil); err != nil {
		return fmt.Errorf("refresh data: %w", err)
	}
	return nil
}

// TestVoice plays one of the built-in prompts; 0 is "thank you".
func (c *Client) TestVoice(ctx context.Context, index int) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(index))
	if _, err := c.command(ctx, cmdTestVoice, b); err != nil {
		return fmt.Errorf("test voice: %w", err)
	}
	return nil
}
