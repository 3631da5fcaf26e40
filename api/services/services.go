package services

import (
	"time"

	"github.com/zktools/zk-tools/db"
	"github.com/zktools/zk-tools/internal/appconfig"
	"github.com/zktools/zk-tools/internal/authn"
	"github.com/zktools/zk-tools/internal/directory"
	"github.com/zktools/zk-tools/internal/selection"
	"github.com/zktools/zk-tools/internal/terminal"
)

// Service contains all shared dependencies for handlers.
type Service struct {
	Config    *appconfig.Config
	Dialer    terminal.Dialer
	Store     *selection.Store
	DB        *db.OperatorDB // nil when no database is configured
	Directory *directory.Client
	Signer    *authn.Signer
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// AuthEnabled reports whether visitors must log in.
func (s *Service) AuthEnabled() bool {
	return s.Config.Auth.Token != "" || s.DB != nil
}
