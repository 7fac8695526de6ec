package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/raysh454/webaudit/internal/logging"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore keeps one table per module, named results_<module id>, with
// a column per schema field plus id and written_at.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger

	mu      sync.RWMutex
	schemas map[string]Schema
}

var (
	_ Store  = (*SQLiteStore)(nil)
	_ Reader = (*SQLiteStore)(nil)
)

const metaSchema = `
CREATE TABLE IF NOT EXISTS module_columns (
	module_id TEXT NOT NULL,
	position  INTEGER NOT NULL,
	field     TEXT NOT NULL,
	label     TEXT NOT NULL,
	PRIMARY KEY (module_id, field)
);`

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string, logger logging.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty path")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s, err := NewSQLiteStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore uses an already opened database. The store owns db.
func NewSQLiteStore(db *sql.DB, logger logging.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("sqlite: nil db")
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	// Concurrent analyses write through a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(metaSchema); err != nil {
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	return &SQLiteStore{
		db:      db,
		logger:  logger.With(logging.Field{Key: "component", Value: "sqlite_store"}),
		schemas: make(map[string]Schema),
	}, nil
}

func tableName(moduleID string) string {
	return "results_" + moduleID
}

// InstallStore creates the module table and records the column labels.
// Installing again adds columns that are new in schema.
func (s *SQLiteStore) InstallStore(ctx context.Context, moduleID string, schema Schema) error {
	if err := validIdentifier(moduleID); err != nil {
		return err
	}
	if err := schema.validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			s.logger.Warn("install store: tx rollback failed", logging.Field{Key: "error", Value: rerr})
		}
	}()

	cols := make([]string, 0, len(schema)+2)
	cols = append(cols, "id INTEGER PRIMARY KEY AUTOINCREMENT", "written_at INTEGER NOT NULL")
	for _, c := range schema {
		cols = append(cols, quoteIdent(c.Field))
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(tableName(moduleID)), strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	existing, err := tableColumns(ctx, tx, tableName(moduleID))
	if err != nil {
		return err
	}
	for _, c := range schema {
		if _, ok := existing[c.Field]; ok {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(tableName(moduleID)), quoteIdent(c.Field))
		if _, err := tx.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("add column %s: %w", c.Field, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM module_columns WHERE module_id = ?`, moduleID); err != nil {
		return fmt.Errorf("reset columns: %w", err)
	}
	for i, c := range schema {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO module_columns (module_id, position, field, label) VALUES (?, ?, ?, ?)`,
			moduleID, i, c.Field, c.Label); err != nil {
			return fmt.Errorf("insert column: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	s.schemas[moduleID] = append(Schema(nil), schema...)
	s.mu.Unlock()

	s.logger.Info("installed store",
		logging.Field{Key: "module", Value: moduleID},
		logging.Field{Key: "columns", Value: len(schema)})
	return nil
}

func tableColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) installed(ctx context.Context, moduleID string) (Schema, error) {
	s.mu.RLock()
	schema, ok := s.schemas[moduleID]
	s.mu.RUnlock()
	if ok {
		return schema, nil
	}

	// Installed by an earlier process.
	schema, err := s.Schema(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.schemas[moduleID] = schema
	s.mu.Unlock()
	return schema, nil
}

// WriteOne inserts row. Fields outside the schema are ignored; schema fields
// missing from row are stored as NULL.
func (s *SQLiteStore) WriteOne(ctx context.Context, moduleID string, row Row) error {
	if row == nil {
		return errors.New("sqlite: nil row")
	}
	schema, err := s.installed(ctx, moduleID)
	if err != nil {
		return err
	}

	values := row.Row()
	cols := make([]string, 0, len(schema)+1)
	args := make([]any, 0, len(schema)+1)
	cols = append(cols, "written_at")
	args = append(args, time.Now().UTC().UnixNano())
	for _, c := range schema {
		cols = append(cols, quoteIdent(c.Field))
		args = append(args, values[c.Field])
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(tableName(moduleID)), strings.Join(cols, ", "), placeholders)
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert %s result: %w", moduleID, err)
	}
	return nil
}

// Schema reads the installed schema back from module_columns.
func (s *SQLiteStore) Schema(ctx context.Context, moduleID string) (Schema, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, label FROM module_columns WHERE module_id = ? ORDER BY position`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var out Schema
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Field, &c.Label); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotInstalled, moduleID)
	}
	return out, nil
}

func (s *SQLiteStore) List(ctx context.Context, moduleID string, limit int) ([]Record, error) {
	return s.query(ctx, moduleID, "", nil, limit)
}

func (s *SQLiteStore) History(ctx context.Context, moduleID, url string, limit int) ([]Record, error) {
	return s.query(ctx, moduleID, `WHERE "url" = ?`, []any{url}, limit)
}

func (s *SQLiteStore) query(ctx context.Context, moduleID, where string, args []any, limit int) ([]Record, error) {
	schema, err := s.installed(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if where != "" {
		hasURL := false
		for _, c := range schema {
			if c.Field == "url" {
				hasURL = true
			}
		}
		if !hasURL {
			return nil, fmt.Errorf("module %s has no url column", moduleID)
		}
	}

	cols := make([]string, 0, len(schema)+2)
	cols = append(cols, "id", "written_at")
	for _, c := range schema {
		cols = append(cols, quoteIdent(c.Field))
	}
	q := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY id DESC", strings.Join(cols, ", "), quoteIdent(tableName(moduleID)), where)
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s results: %w", moduleID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			written int64
		)
		dest := make([]any, len(schema))
		scan := make([]any, 0, len(schema)+2)
		scan = append(scan, &rec.ID, &written)
		for i := range dest {
			scan = append(scan, &dest[i])
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		rec.ModuleID = moduleID
		rec.WrittenAt = time.Unix(0, written).UTC()
		rec.Values = make(map[string]any, len(schema))
		for i, c := range schema {
			v := dest[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec.Values[c.Field] = v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DB returns the underlying database (owned by the store).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
