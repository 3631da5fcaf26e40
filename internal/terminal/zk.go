package terminal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zktools/zk-tools/internal/zk"
	"github.com/zktools/zk-tools/models"
)

// ZKDialer connects to real terminals over the ZK protocol.
type ZKDialer struct {
	Options zk.Options
}

// NewZKDialer returns a dialer using opts for every connection.
func NewZKDialer(opts zk.Options) *ZKDialer {
	return &ZKDialer{Options: opts}
}

func (d *ZKDialer) Connect(ctx context.Context, t models.Terminal) (Session, error) {
	c, err := zk.Dial(ctx, t.Address(), d.Options)
	if err != nil {
		kind := ErrUnreachable
		if errors.Is(err, zk.ErrUnauthorized) || errors.Is(err, zk.ErrProtocol) {
			kind = ErrDevice
		}
		return nil, &DeviceError{Op: "connect", Terminal: t, Kind: kind, Err: err}
	}
	return &zkSession{client: c, terminal: t}, nil
}

type zkSession struct {
	client   *zk.Client
	terminal models.Terminal
}

func (s *zkSession) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DeviceError{Op: op, Terminal: s.terminal, Kind: ErrDevice, Err: err}
}

func (s *zkSession) ListUsers(ctx context.Context) ([]models.Employee, error) {
	users, err := s.client.Users(ctx)
	if err != nil {
		return nil, s.fail("list users", err)
	}
	out := make([]models.Employee, 0, len(users))
	for _, u := range users {
		out = append(out, employeeFromUser(u))
	}
	return out, nil
}

func (s *zkSession) SetUser(ctx context.Context, e models.Employee) error {
	u, err := userFromEmployee(e)
	if err != nil {
		return err
	}
	return s.fail("set user", s.client.SetUser(ctx, u))
}

func (s *zkSession) DeleteUser(ctx context.Context, uid int) error {
	if uid < 1 || uid > 65535 {
		return fmt.Errorf("uid %d out of range", uid)
	}
	return s.fail("delete user", s.client.DeleteUser(ctx, uint16(uid)))
}

func (s *zkSession) Templates(ctx context.Context) ([]models.Template, error) {
	tpls, err := s.client.Templates(ctx)
	if err != nil {
		return nil, s.fail("templates", err)
	}
	out := make([]models.Template, 0, len(tpls))
	for _, t := range tpls {
		out = append(out, models.Template{
			UID:   int(t.UID),
			FID:   int(t.FID),
			Valid: int(t.Valid),
			Size:  len(t.Data),
		})
	}
	return out, nil
}

func (s *zkSession) EnableDevice(ctx context.Context) error {
	return s.fail("enable", s.client.EnableDevice(ctx))
}

func (s *zkSession) DisableDevice(ctx context.Context) error {
	return s.fail("disable", s.client.DisableDevice(ctx))
}

func (s *zkSession) Time(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx)
	return t, s.fail("get time", err)
}

func (s *zkSession) SetTime(ctx context.Context, t time.Time) error {
	return s.fail("set time", s.client.SetTime(ctx, t))
}

func (s *zkSession) TestVoice(ctx context.Context, index int) error {
	return s.fail("voice test", s.client.TestVoice(ctx, index))
}

// Info gathers what the terminal will tell about itself. Each query fails
// independently and lands in Errors.
func (s *zkSession) Info(ctx context.Context) models.TerminalStatus {
	st := models.TerminalStatus{Terminal: s.terminal}

	str := func(label string, dst *string, fn func(context.Context) (string, error)) {
		v, err := fn(ctx)
		if err != nil {
			st.Errors = append(st.Errors, fmt.Sprintf("%s: %v", label, err))
			return
		}
		*dst = v
	}
	str("serial number", &st.SerialNumber, s.client.SerialNumber)
	str("device name", &st.DeviceName, s.client.DeviceName)
	str("platform", &st.Platform, s.client.Platform)
	str("firmware", &st.Firmware, s.client.FirmwareVersion)
	str("mac", &st.MAC, s.client.MAC)

	if t, err := s.client.Time(ctx); err != nil {
		st.Errors = append(st.Errors, fmt.Sprintf("time: %v", err))
	} else {
		st.Time = t
	}

	if sizes, err := s.client.Sizes(ctx); err != nil {
		st.Errors = append(st.Errors, fmt.Sprintf("counters: %v", err))
	} else {
		st.Users = sizes.Users
		st.Fingers = sizes.Fingers
		st.Records = sizes.Records
	}
	return st
}

func (s *zkSession) Close() error {
	return s.client.Close()
}

func employeeFromUser(u zk.User) models.Employee {
	e := models.Employee{
		UID:       int(u.UID),
		Name:      u.Name,
		UserID:    u.UserID,
		Privilege: int(u.Privilege &^ 1),
		Enabled:   u.Privilege&1 == 0,
		GroupID:   u.GroupID,
		Password:  u.Password,
	}
	if u.Card != 0 {
		e.Card = strconv.FormatUint(uint64(u.Card), 10)
	}
	return e
}

func userFromEmployee(e models.Employee) (zk.User, error) {
	if e.UID < 1 || e.UID > 65535 {
		return zk.User{}, fmt.Errorf("uid %d out of range", e.UID)
	}
	u := zk.User{
		UID:       uint16(e.UID),
		Privilege: uint8(e.Privilege &^ 1),
		Password:  e.Password,
		Name:      e.Name,
		GroupID:   e.GroupID,
		UserID:    strings.TrimSpace(e.UserID),
	}
	if !e.Enabled {
		u.Privilege |= 1
	}
	if models.ValidCard(e.Card) {
		card, err := strconv.ParseUint(strings.TrimSpace(e.Card), 10, 32)
		if err != nil {
			return zk.User{}, fmt.Errorf("card %q is not a valid card number", e.Card)
		}
		u.Card = uint32(card)
	}
	return u, nil
}
