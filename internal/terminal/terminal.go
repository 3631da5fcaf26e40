// Package terminal is the device facade used by the web handlers and the
// command line tools. Callers work with models.Employee and never see the
// wire protocol.
package terminal

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/zktools/zk-tools/models"
)

// Dialer opens sessions against terminals.
type Dialer interface {
	Connect(ctx context.Context, t models.Terminal) (Session, error)
}

// Session is one open connection to a terminal. Implementations are not safe
// for concurrent use.
type Session interface {
	// ListUsers returns the enrollment records in device order, without
	// biometrics.
	ListUsers(ctx context.Context) ([]models.Employee, error)
	SetUser(ctx context.Context, e models.Employee) error
	DeleteUser(ctx context.Context, uid int) error
	Templates(ctx context.Context) ([]models.Template, error)

	EnableDevice(ctx context.Context) error
	DisableDevice(ctx context.Context) error
	Time(ctx context.Context) (time.Time, error)
	SetTime(ctx context.Context, t time.Time) error
	TestVoice(ctx context.Context, index int) error
	Info(ctx context.Context) models.TerminalStatus

	// Close releases the connection. The socket is released even when an
	// error is returned.
	Close() error
}

// With connects to t, runs fn and always closes the session afterwards.
// Close errors are logged, not returned.
func With(ctx context.Context, d Dialer, t models.Terminal, fn func(Session) error) error {
	s, err := d.Connect(ctx, t)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("terminal", t.String()).Msg("error closing terminal session")
		}
	}()
	return fn(s)
}

// FetchEmployees lists the users of s and attaches their fingerprint
// templates. A failed template download only costs the biometrics column.
func FetchEmployees(ctx context.Context, s Session) ([]models.Employee, error) {
	employees, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	templates, err := s.Templates(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("could not read fingerprint templates")
		templates = nil
	}

	byUID := make(map[int][]models.Template)
	for _, tpl := range templates {
		byUID[tpl.UID] = append(byUID[tpl.UID], tpl)
	}
	for i := range employees {
		if tpls, ok := byUID[employees[i].UID]; ok {
			employees[i].Biometrics = tpls
		} else {
			employees[i].Biometrics = []models.Template{}
		}
	}
	return employees, nil
}
