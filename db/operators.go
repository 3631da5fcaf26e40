package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zktools/zk-tools/internal/authn"
	"github.com/zktools/zk-tools/models"
)

var (
	ErrOperatorNotFound   = errors.New("operator not found")
	ErrOperatorExists     = errors.New("operator already exists")
	ErrLastAdmin          = errors.New("at least one admin must remain")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrEmptyUsername      = errors.New("username is required")
)

// Default credentials seeded into an empty operator table.
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin123"
)

const operatorColumns = `id, username, is_admin, created_at`

// OperatorUpdate carries the optional changes applied by UpdateOperator.
type OperatorUpdate struct {
	Password *string
	IsAdmin  *bool
}

func scanOperator(row interface{ Scan(...any) error }) (*models.Operator, error) {
	var (
		op      models.Operator
		created int64
	)
	if err := row.Scan(&op.ID, &op.Username, &op.IsAdmin, &created); err != nil {
		return nil, err
	}
	op.CreatedAt = time.Unix(created, 0).UTC()
	return &op, nil
}

// ListOperators returns every operator ordered by username, ignoring case.
func (o *OperatorDB) ListOperators(ctx context.Context) ([]models.Operator, error) {
	rows, err := o.DB.QueryContext(ctx, `SELECT `+operatorColumns+` FROM operators ORDER BY LOWER(username), id`)
	if err != nil {
		return nil, fmt.Errorf("error listing operators: %w", err)
	}
	defer rows.Close()

	operators := []models.Operator{}
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning operator: %w", err)
		}
		operators = append(operators, *op)
	}
	return operators, rows.Err()
}

func (o *OperatorDB) GetOperator(ctx context.Context, id int64) (*models.Operator, error) {
	row := o.DB.QueryRowContext(ctx, o.rebind(`SELECT `+operatorColumns+` FROM operators WHERE id = ?`), id)
	op, err := scanOperator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOperatorNotFound
	}
	return op, err
}

func (o *OperatorDB) GetOperatorByUsername(ctx context.Context, username string) (*models.Operator, error) {
	row := o.DB.QueryRowContext(ctx, o.rebind(`SELECT `+operatorColumns+` FROM operators WHERE username = ?`), strings.TrimSpace(username))
	op, err := scanOperator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOperatorNotFound
	}
	return op, err
}

// Authenticate checks the credentials and returns the matching operator.
func (o *OperatorDB) Authenticate(ctx context.Context, username, password string) (*models.Operator, error) {
	var (
		op      models.Operator
		hash    string
		created int64
	)
	err := o.DB.QueryRowContext(ctx,
		o.rebind(`SELECT id, username, is_admin, created_at, password_hash FROM operators WHERE username = ?`),
		strings.TrimSpace(username)).Scan(&op.ID, &op.Username, &op.IsAdmin, &created, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("error loading operator: %w", err)
	}

	if !authn.CheckPassword(hash, password) {
		return nil, ErrInvalidCredentials
	}
	op.CreatedAt = time.Unix(created, 0).UTC()
	return &op, nil
}

// CreateOperator stores a new operator with a hashed password.
func (o *OperatorDB) CreateOperator(ctx context.Context, username, password string, isAdmin bool) (*models.Operator, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}

	hash, err := authn.HashPassword(password)
	if err != nil {
		return nil, err
	}

	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx, o.rebind(`SELECT COUNT(*) FROM operators WHERE username = ?`), username).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("error checking operator: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %s", ErrOperatorExists, username)
	}

	created := time.Now().UTC().Truncate(time.Second)
	op := models.Operator{Username: username, IsAdmin: isAdmin, CreatedAt: created}

	err = tx.QueryRowContext(ctx,
		o.rebind(`INSERT INTO operators (username, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		username, hash, isAdmin, created.Unix()).Scan(&op.ID)
	if err != nil {
		return nil, fmt.Errorf("error inserting operator: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing transaction: %w", err)
	}

	o.Log.Info().Str("operator", username).Bool("admin", isAdmin).Msg("operator created")
	return &op, nil
}

// UpdateOperator changes the password and/or admin flag. Removing the admin
// flag from the last admin fails with ErrLastAdmin.
func (o *OperatorDB) UpdateOperator(ctx context.Context, id int64, update OperatorUpdate) (*models.Operator, error) {
	var hash string
	if update.Password != nil && *update.Password != "" {
		var err error
		if hash, err = authn.HashPassword(*update.Password); err != nil {
			return nil, err
		}
	}

	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	op, err := scanOperator(tx.QueryRowContext(ctx, o.rebind(`SELECT `+operatorColumns+` FROM operators WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOperatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading operator: %w", err)
	}

	if update.IsAdmin != nil && op.IsAdmin && !*update.IsAdmin {
		if err := o.checkOtherAdmins(ctx, tx, id); err != nil {
			return nil, err
		}
	}

	if hash != "" {
		if _, err := tx.ExecContext(ctx, o.rebind(`UPDATE operators SET password_hash = ? WHERE id = ?`), hash, id); err != nil {
			return nil, fmt.Errorf("error updating password: %w", err)
		}
	}
	if update.IsAdmin != nil {
		if _, err := tx.ExecContext(ctx, o.rebind(`UPDATE operators SET is_admin = ? WHERE id = ?`), *update.IsAdmin, id); err != nil {
			return nil, fmt.Errorf("error updating admin flag: %w", err)
		}
		op.IsAdmin = *update.IsAdmin
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing transaction: %w", err)
	}

	o.Log.Info().Str("operator", op.Username).Bool("admin", op.IsAdmin).Bool("password", hash != "").Msg("operator updated")
	return op, nil
}

// DeleteOperator removes an operator. The last admin cannot be deleted.
func (o *OperatorDB) DeleteOperator(ctx context.Context, id int64) error {
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	op, err := scanOperator(tx.QueryRowContext(ctx, o.rebind(`SELECT `+operatorColumns+` FROM operators WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOperatorNotFound
	}
	if err != nil {
		return fmt.Errorf("error loading operator: %w", err)
	}

	if op.IsAdmin {
		if err := o.checkOtherAdmins(ctx, tx, id); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, o.rebind(`DELETE FROM operators WHERE id = ?`), id); err != nil {
		return fmt.Errorf("error deleting operator: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	o.Log.Info().Str("operator", op.Username).Msg("operator deleted")
	return nil
}

func (o *OperatorDB) checkOtherAdmins(ctx context.Context, tx *sql.Tx, id int64) error {
	var admins int
	err := tx.QueryRowContext(ctx, o.rebind(`SELECT COUNT(*) FROM operators WHERE is_admin = ? AND id <> ?`), true, id).Scan(&admins)
	if err != nil {
		return fmt.Errorf("error counting admins: %w", err)
	}
	if admins == 0 {
		return ErrLastAdmin
	}
	return nil
}

func (o *OperatorDB) CountOperators(ctx context.Context) (int, error) {
	var count int
	if err := o.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM operators`).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting operators: %w", err)
	}
	return count, nil
}

// EnsureDefaultAdmin seeds the default admin account when no operator exists.
// It reports whether the account was created.
func (o *OperatorDB) EnsureDefaultAdmin(ctx context.Context) (bool, error) {
	count, err := o.CountOperators(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	if _, err := o.CreateOperator(ctx, DefaultAdminUsername, DefaultAdminPassword, true); err != nil {
		return false, err
	}
	o.Log.Warn().Str("operator", DefaultAdminUsername).Msg("default admin created, change its password")
	return true, nil
}
