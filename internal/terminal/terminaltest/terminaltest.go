// Package terminaltest provides an in-memory terminal for tests.
package terminaltest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zktools/zk-tools/internal/terminal"
	"github.com/zktools/zk-tools/models"
)

// Device is the state of one fake terminal.
type Device struct {
	mu sync.Mutex

	Users     []models.Employee
	Templates []models.Template
	Clock     time.Time
	Enabled   bool
	Status    models.TerminalStatus

	// Failure injection.
	ListErr     error
	TemplateErr error
	SetUserErr  func(models.Employee) error
	DeleteErr   func(uid int) error
	TimeErr     error
	CloseErr    error

	Connects int
	Closes   int
	Writes   []models.Employee
	Deleted  []int
	History  []string
}

// NewDevice returns an enabled device holding users.
func NewDevice(users ...models.Employee) *Device {
	return &Device{
		Users:   users,
		Enabled: true,
		Clock:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local),
	}
}

// Snapshot returns a copy of the stored users.
func (d *Device) Snapshot() []models.Employee {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Employee(nil), d.Users...)
}

// Dialer resolves terminals to fake devices by address.
type Dialer struct {
	mu      sync.Mutex
	devices map[string]*Device
	// ConnectErr, when set, fails every Connect.
	ConnectErr error
}

func NewDialer() *Dialer {
	return &Dialer{devices: make(map[string]*Device)}
}

// Add registers d under the address of t.
func (f *Dialer) Add(t models.Terminal, d *Device) *Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[t.Address()] = d
	return d
}

func (f *Dialer) Connect(ctx context.Context, t models.Terminal) (terminal.Session, error) {
	f.mu.Lock()
	d, ok := f.devices[t.Address()]
	f.mu.Unlock()

	if f.ConnectErr != nil {
		return nil, &terminal.DeviceError{Op: "connect", Terminal: t, Kind: terminal.ErrUnreachable, Err: f.ConnectErr}
	}
	if !ok {
		return nil, &terminal.DeviceError{Op: "connect", Terminal: t, Kind: terminal.ErrUnreachable, Err: fmt.Errorf("no device at %s", t.Address())}
	}

	d.mu.Lock()
	d.Connects++
	d.mu.Unlock()
	return &session{dev: d, terminal: t}, nil
}

type session struct {
	dev      *Device
	terminal models.Terminal
	closed   bool
}

func (s *session) lock(op string) func() {
	s.dev.mu.Lock()
	s.dev.History = append(s.dev.History, op)
	return s.dev.mu.Unlock
}

func (s *session) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	return &terminal.DeviceError{Op: op, Terminal: s.terminal, Kind: terminal.ErrDevice, Err: err}
}

func (s *session) ListUsers(ctx context.Context) ([]models.Employee, error) {
	defer s.lock("list")()
	if s.dev.ListErr != nil {
		return nil, s.fail("list users", s.dev.ListErr)
	}
	out := make([]models.Employee, len(s.dev.Users))
	for i, u := range s.dev.Users {
		u.Biometrics = nil
		out[i] = u
	}
	return out, nil
}

func (s *session) SetUser(ctx context.Context, e models.Employee) error {
	defer s.lock("set")()
	if s.dev.SetUserErr != nil {
		if err := s.dev.SetUserErr(e); err != nil {
			return s.fail("set user", err)
		}
	}
	s.dev.Writes = append(s.dev.Writes, e)
	e.Biometrics = nil
	for i := range s.dev.Users {
		if s.dev.Users[i].UID == e.UID {
			s.dev.Users[i] = e
			return nil
		}
	}
	s.dev.Users = append(s.dev.Users, e)
	sort.SliceStable(s.dev.Users, func(i, j int) bool { return s.dev.Users[i].UID < s.dev.Users[j].UID })
	return nil
}

func (s *session) DeleteUser(ctx context.Context, uid int) error {
	defer s.lock("delete")()
	if s.dev.DeleteErr != nil {
		if err := s.dev.DeleteErr(uid); err != nil {
			return s.fail("delete user", err)
		}
	}
	for i := range s.dev.Users {
		if s.dev.Users[i].UID == uid {
			s.dev.Users = append(s.dev.Users[:i], s.dev.Users[i+1:]...)
			s.dev.Deleted = append(s.dev.Deleted, uid)
			return nil
		}
	}
	return s.fail("delete user", fmt.Errorf("uid %d not found", uid))
}

func (s *session) Templates(ctx context.Context) ([]models.Template, error) {
	defer s.lock("templates")()
	if s.dev.TemplateErr != nil {
		return nil, s.fail("templates", s.dev.TemplateErr)
	}
	return append([]models.Template(nil), s.dev.Templates...), nil
}

func (s *session) EnableDevice(ctx context.Context) error {
	defer s.lock("enable")()
	s.dev.Enabled = true
	return nil
}

func (s *session) DisableDevice(ctx context.Context) error {
	defer s.lock("disable")()
	s.dev.Enabled = false
	return nil
}

func (s *session) Time(ctx context.Context) (time.Time, error) {
	defer s.lock("time")()
	if s.dev.TimeErr != nil {
		return time.Time{}, s.fail("get time", s.dev.TimeErr)
	}
	return s.dev.Clock, nil
}

func (s *session) SetTime(ctx context.Context, t time.Time) error {
	defer s.lock("set time")()
	if s.dev.TimeErr != nil {
		return s.fail("set time", s.dev.TimeErr)
	}
	s.dev.Clock = t
	return nil
}

func (s *session) TestVoice(ctx context.Context, index int) error {
	defer s.lock("voice")()
	return nil
}

func (s *session) Info(ctx context.Context) models.TerminalStatus {
	defer s.lock("info")()
	st := s.dev.Status
	st.Terminal = s.terminal
	st.Time = s.dev.Clock
	st.Users = len(s.dev.Users)
	return st
}

func (s *session) Close() error {
	defer s.lock("close")()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.Closes++
	return s.dev.CloseErr
}
