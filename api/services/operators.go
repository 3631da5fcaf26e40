package services

import (
	"context"
	"errors"
	"strings"

	"github.com/zktools/zk-tools/db"
	"github.com/zktools/zk-tools/internal/authn"
	"github.com/zktools/zk-tools/models"
)

// TokenOperator is the operator name recorded for shared-token logins.
const TokenOperator = "token"

var (
	ErrLoginFailed      = errors.New("invalid username or password")
	ErrOperatorsOff     = errors.New("operator accounts need a database")
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// Login checks the submitted credentials against the operator store and the
// shared token. It returns the signed session token for sessionID.
func (s *Service) Login(ctx context.Context, sessionID, username, password string) (string, authn.Claims, error) {
	username = strings.TrimSpace(username)

	if s.DB != nil && username != "" {
		op, err := s.DB.Authenticate(ctx, username, password)
		switch {
		case err == nil:
			return s.Signer.Issue(sessionID, op.Username, op.IsAdmin, true)
		case !errors.Is(err, db.ErrInvalidCredentials):
			return "", authn.Claims{}, err
		}
	}

	if authn.TokenMatches(s.Config.Auth.Token, password) {
		// Without operator accounts the token holder administers the tool.
		return s.Signer.Issue(sessionID, TokenOperator, s.DB == nil, true)
	}
	return "", authn.Claims{}, ErrLoginFailed
}

// Logout returns an anonymous token for a new session.
func (s *Service) Logout() (string, error) {
	token, _, err := s.Signer.Issue("", "", false, false)
	return token, err
}

func (s *Service) ListOperators(ctx context.Context) ([]models.Operator, error) {
	if s.DB == nil {
		return nil, ErrOperatorsOff
	}
	return s.DB.ListOperators(ctx)
}

// CreateOperator validates the operator form and stores the account.
func (s *Service) CreateOperator(ctx context.Context, username, password, confirm string, admin bool) (*models.Operator, error) {
	if s.DB == nil {
		return nil, ErrOperatorsOff
	}
	if strings.TrimSpace(username) == "" {
		return nil, invalid("username is required")
	}
	if password != confirm {
		return nil, &ValidationError{Message: ErrPasswordMismatch.Error()}
	}
	op, err := s.DB.CreateOperator(ctx, username, password, admin)
	return op, operatorError(err)
}

// UpdateOperator changes the password when one is given and sets the admin
// flag.
func (s *Service) UpdateOperator(ctx context.Context, id int64, password, confirm string, admin bool) (*models.Operator, error) {
	if s.DB == nil {
		return nil, ErrOperatorsOff
	}
	update := db.OperatorUpdate{IsAdmin: &admin}
	if password != "" {
		if password != confirm {
			return nil, &ValidationError{Message: ErrPasswordMismatch.Error()}
		}
		update.Password = &password
	}
	op, err := s.DB.UpdateOperator(ctx, id, update)
	return op, operatorError(err)
}

// DeleteOperator removes an account. Operators cannot delete themselves.
func (s *Service) DeleteOperator(ctx context.Context, actor string, id int64) error {
	if s.DB == nil {
		return ErrOperatorsOff
	}
	op, err := s.DB.GetOperator(ctx, id)
	if err != nil {
		return operatorError(err)
	}
	if op.Username == actor {
		return invalid("you cannot delete your own account")
	}
	return operatorError(s.DB.DeleteOperator(ctx, id))
}

// operatorError turns store errors an operator can fix into validation errors.
func operatorError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrOperatorExists),
		errors.Is(err, db.ErrOperatorNotFound),
		errors.Is(err, db.ErrLastAdmin),
		errors.Is(err, db.ErrEmptyUsername),
		errors.Is(err, authn.ErrWeakPassword):
		return &ValidationError{Message: err.Error()}
	}
	return err
}
