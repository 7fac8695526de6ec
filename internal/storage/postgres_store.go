package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raysh454/webaudit/internal/logging"
)

// PostgresStore keeps every module's rows in one JSONB table; the column
// labels live next to it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger

	mu      sync.RWMutex
	schemas map[string]Schema
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Reader = (*PostgresStore)(nil)
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS module_columns (
	module_id TEXT NOT NULL,
	position  INTEGER NOT NULL,
	field     TEXT NOT NULL,
	label     TEXT NOT NULL,
	PRIMARY KEY (module_id, field)
);
CREATE TABLE IF NOT EXISTS module_results (
	id         BIGSERIAL PRIMARY KEY,
	module_id  TEXT NOT NULL,
	url        TEXT,
	written_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	record     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS module_results_module_url ON module_results (module_id, url);`

func NewPostgresStore(ctx context.Context, dsn string, logger logging.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty dsn")
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &PostgresStore{
		pool:    pool,
		logger:  logger.With(logging.Field{Key: "component", Value: "postgres_store"}),
		schemas: make(map[string]Schema),
	}, nil
}

func (p *PostgresStore) InstallStore(ctx context.Context, moduleID string, schema Schema) error {
	if err := validIdentifier(moduleID); err != nil {
		return err
	}
	if err := schema.validate(); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM module_columns WHERE module_id = $1`, moduleID); err != nil {
			return fmt.Errorf("reset columns: %w", err)
		}
		batch := &pgx.Batch{}
		for i, c := range schema {
			batch.Queue(`INSERT INTO module_columns (module_id, position, field, label) VALUES ($1, $2, $3, $4)`,
				moduleID, i, c.Field, c.Label)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("install store %s: %w", moduleID, err)
	}

	p.mu.Lock()
	p.schemas[moduleID] = append(Schema(nil), schema...)
	p.mu.Unlock()

	p.logger.Info("installed store",
		logging.Field{Key: "module", Value: moduleID},
		logging.Field{Key: "columns", Value: len(schema)})
	return nil
}

func (p *PostgresStore) installed(ctx context.Context, moduleID string) (Schema, error) {
	p.mu.RLock()
	schema, ok := p.schemas[moduleID]
	p.mu.RUnlock()
	if ok {
		return schema, nil
	}
	schema, err := p.Schema(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.schemas[moduleID] = schema
	p.mu.Unlock()
	return schema, nil
}

func (p *PostgresStore) WriteOne(ctx context.Context, moduleID string, row Row) error {
	if row == nil {
		return errors.New("postgres: nil row")
	}
	schema, err := p.installed(ctx, moduleID)
	if err != nil {
		return err
	}

	values := row.Row()
	record := make(map[string]any, len(schema))
	for _, c := range schema {
		record[c.Field] = values[c.Field]
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	var url *string
	if s, ok := values["url"].(string); ok {
		url = &s
	}
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO module_results (module_id, url, record) VALUES ($1, $2, $3)`,
		moduleID, url, payload); err != nil {
		return fmt.Errorf("insert %s result: %w", moduleID, err)
	}
	return nil
}

func (p *PostgresStore) Schema(ctx context.Context, moduleID string) (Schema, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT field, label FROM module_columns WHERE module_id = $1 ORDER BY position`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Column, error) {
		var c Column
		err := r.Scan(&c.Field, &c.Label)
		return c, err
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotInstalled, moduleID)
	}
	return Schema(out), nil
}

func (p *PostgresStore) List(ctx context.Context, moduleID string, limit int) ([]Record, error) {
	if _, err := p.installed(ctx, moduleID); err != nil {
		return nil, err
	}
	return p.query(ctx,
		`SELECT id, written_at, record FROM module_results WHERE module_id = $1 ORDER BY id DESC LIMIT $2`,
		moduleID, moduleID, pgLimit(limit))
}

func (p *PostgresStore) History(ctx context.Context, moduleID, url string, limit int) ([]Record, error) {
	if _, err := p.installed(ctx, moduleID); err != nil {
		return nil, err
	}
	return p.query(ctx,
		`SELECT id, written_at, record FROM module_results WHERE module_id = $1 AND url = $2 ORDER BY id DESC LIMIT $3`,
		moduleID, moduleID, url, pgLimit(limit))
}

func (p *PostgresStore) query(ctx context.Context, q, moduleID string, args ...any) ([]Record, error) {
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s results: %w", moduleID, err)
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (Record, error) {
		var (
			rec Record
			raw []byte
		)
		if err := r.Scan(&rec.ID, &rec.WrittenAt, &raw); err != nil {
			return rec, err
		}
		rec.ModuleID = moduleID
		if err := json.Unmarshal(raw, &rec.Values); err != nil {
			return rec, fmt.Errorf("decode record %d: %w", rec.ID, err)
		}
		return rec, nil
	})
}

// pgLimit maps "no limit" onto a NULL LIMIT.
func pgLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
