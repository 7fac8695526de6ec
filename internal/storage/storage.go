// Package storage persists canonical module results. Modules declare an
// ordered column schema once with InstallStore and then write one row per
// analysed target.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/raysh454/webaudit/internal/logging"
)

var (
	ErrStoreNotInstalled = errors.New("store not installed for module")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrEmptySchema       = errors.New("schema has no columns")
	ErrUnknownDriver     = errors.New("unknown storage driver")
	ErrNoRecords         = errors.New("no records")
)

// Column maps a record field to its human label.
type Column struct {
	Field string `json:"field"`
	Label string `json:"label"`
}

// Schema is the ordered column list of a module's result table.
type Schema []Column

func (s Schema) Fields() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Field
	}
	return out
}

func (s Schema) validate() error {
	if len(s) == 0 {
		return ErrEmptySchema
	}
	seen := make(map[string]struct{}, len(s))
	for _, c := range s {
		if err := validIdentifier(c.Field); err != nil {
			return err
		}
		if _, dup := seen[c.Field]; dup {
			return fmt.Errorf("duplicate column %q", c.Field)
		}
		seen[c.Field] = struct{}{}
	}
	return nil
}

// Row is a typed record that can be flattened to schema fields.
type Row interface {
	Row() map[string]any
}

// Store is the sink domain modules write to.
type Store interface {
	InstallStore(ctx context.Context, moduleID string, schema Schema) error
	WriteOne(ctx context.Context, moduleID string, row Row) error
	Close() error
}

// Record is a persisted row read back from a Reader.
type Record struct {
	ID        int64          `json:"id"`
	ModuleID  string         `json:"module_id"`
	WrittenAt time.Time      `json:"written_at"`
	Values    map[string]any `json:"values"`
}

// Reader is implemented by stores that can list what they wrote.
type Reader interface {
	// List returns the newest records first. limit <= 0 means no limit.
	List(ctx context.Context, moduleID string, limit int) ([]Record, error)

	// History returns the newest records whose url field equals url.
	History(ctx context.Context, moduleID, url string, limit int) ([]Record, error)

	// Schema returns the installed schema of a module.
	Schema(ctx context.Context, moduleID string) (Schema, error)
}

type Driver string

const (
	DriverNone     Driver = "none"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

type Config struct {
	Driver Driver `mapstructure:"driver"`

	// Path of the SQLite database file.
	Path string `mapstructure:"path"`

	// DSN is the Postgres connection string.
	DSN string `mapstructure:"dsn"`
}

// Open returns the configured store, or nil when storage is disabled.
func Open(ctx context.Context, cfg Config, logger logging.Logger) (Store, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverSQLite:
		s, err := OpenSQLite(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := NewPostgresStore(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func validIdentifier(s string) error {
	if !identRe.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return nil
}
