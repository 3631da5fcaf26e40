package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var ErrUnsupportedDriver = errors.New("unsupported database driver")

type OperatorDB struct {
	DB     *sql.DB
	Driver string
	Log    *zerolog.Logger
}

// NewOperatorDB opens the operator store and checks the connection.
func NewOperatorDB(driver, source string, log *zerolog.Logger) (*OperatorDB, error) {
	if source == "" {
		log.Error().Msg("database source is not set")
		return nil, fmt.Errorf("database source is not set")
	}

	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	// Open the database connection
	db, err := sql.Open(driver, source)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open database connection")
		return nil, err
	}

	if driver == DriverSQLite {
		// A single writer avoids SQLITE_BUSY under concurrent requests.
		db.SetMaxOpenConns(1)
	}

	// Check we are actually connected
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = db.PingContext(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Database connection failed during ping")
		db.Close()
		return nil, err
	}

	return &OperatorDB{
		DB:     db,
		Driver: driver,
		Log:    log,
	}, nil
}

func (o *OperatorDB) Close() error {
	if err := o.DB.Close(); err != nil {
		return err
	}
	o.Log.Info().Msg("database connection closed")
	o.DB = nil

	return nil
}

// Migrate applies the embedded goose migrations for the configured driver.
func (o *OperatorDB) Migrate(ctx context.Context) error {
	dialect := "postgres"
	if o.Driver == DriverSQLite {
		dialect = "sqlite3"
	}

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("error setting migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, o.DB, "migrations/"+o.Driver); err != nil {
		o.Log.Error().Err(err).Msg("error running migrations")
		return fmt.Errorf("error running migrations: %w", err)
	}

	o.Log.Debug().Str("driver", o.Driver).Msg("migrations applied")
	return nil
}

// rebind rewrites ? placeholders to the $n form postgres expects.
func (o *OperatorDB) rebind(query string) string {
	if o.Driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
