// Package postgres provides the Postgres-backed content store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ondemand-crawler/internal/content"
)

const defaultTable = "content"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ContentStoreConfig controls the Postgres connection pool used for content rows.
type ContentStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// ContentStore persists content rows. The unique index on external_id makes
// the conditional insert atomic across processes.
type ContentStore struct {
	pool  pool
	table string
}

// NewContentStore creates a Postgres-backed ContentStore using the provided config.
func NewContentStore(ctx context.Context, cfg ContentStoreConfig) (*ContentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ContentStore{pool: p, table: table}, nil
}

// NewContentStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewContentStoreWithPool(p pool, table string) (*ContentStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ContentStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ContentStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *ContentStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the content table and its unique key when missing.
func (s *ContentStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id           BIGSERIAL PRIMARY KEY,
	external_id  TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	text         TEXT NOT NULL DEFAULT '',
	source_type  TEXT NOT NULL,
	source_name  TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ,
	topics       TEXT[] NOT NULL DEFAULT '{}',
	raw_metadata JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT %[1]s_external_id_key UNIQUE (external_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Upsert inserts candidate unless a row with its external id exists, in which
// case the existing row is returned with created=false.
func (s *ContentStore) Upsert(ctx context.Context, candidate content.Content) (content.Content, bool, error) {
	if err := candidate.Validate(); err != nil {
		return content.Content{}, false, fmt.Errorf("upsert content: %w", err)
	}
	topics := candidate.Topics
	if topics == nil {
		topics = []string{}
	}
	var raw []byte
	if len(candidate.RawMetadata) > 0 {
		raw = []byte(candidate.RawMetadata)
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (external_id, title, text, source_type, source_name, url, published_at, topics, raw_metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (external_id) DO NOTHING
RETURNING id, created_at`, s.table)

	record := candidate
	record.Topics = topics
	err := s.pool.QueryRow(ctx, insert,
		candidate.ExternalID,
		candidate.Title,
		candidate.Text,
		string(candidate.SourceType),
		candidate.SourceName,
		candidate.URL,
		candidate.PublishedAt,
		topics,
		raw,
	).Scan(&record.ID, &record.CreatedAt)
	switch {
	case err == nil:
		return record, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return content.Content{}, false, fmt.Errorf("insert content: %w", err)
	}

	existing, err := s.getByExternalID(ctx, candidate.ExternalID)
	if err != nil {
		return content.Content{}, false, err
	}
	return existing, false, nil
}

func (s *ContentStore) getByExternalID(ctx context.Context, externalID string) (content.Content, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE external_id = $1`, selectColumns, s.table)
	rows, err := s.pool.Query(ctx, query, externalID)
	if err != nil {
		return content.Content{}, fmt.Errorf("select content by external id: %w", err)
	}
	records, err := collect(rows)
	if err != nil {
		return content.Content{}, err
	}
	if len(records) == 0 {
		return content.Content{}, fmt.Errorf("content %q vanished after conflict", externalID)
	}
	return records[0], nil
}

// GetByIDs returns the rows whose ids exist, ordered by id. Unknown ids are skipped.
func (s *ContentStore) GetByIDs(ctx context.Context, ids []int64) ([]content.Content, error) {
	if len(ids) == 0 {
		return []content.Content{}, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1) ORDER BY id`, selectColumns, s.table)
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select content by ids: %w", err)
	}
	return collect(rows)
}

const selectColumns = `id, external_id, title, text, source_type, source_name, url, published_at, topics, raw_metadata, created_at`

func collect(rows pgx.Rows) ([]content.Content, error) {
	defer rows.Close()
	out := make([]content.Content, 0)
	for rows.Next() {
		var (
			c          content.Content
			sourceType string
			raw        []byte
		)
		if err := rows.Scan(
			&c.ID,
			&c.ExternalID,
			&c.Title,
			&c.Text,
			&sourceType,
			&c.SourceName,
			&c.URL,
			&c.PublishedAt,
			&c.Topics,
			&raw,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		c.SourceType = content.SourceType(sourceType)
		if len(raw) > 0 {
			c.RawMetadata = raw
		}
		if c.Topics == nil {
			c.Topics = []string{}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content: %w", err)
	}
	return out, nil
}
