// Package postgres provides the Postgres-backed repository implementation.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metascan/crawler/internal/crawl"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	ResultsTable    string
	DomainsTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Repository writes crawl results and domain state into Postgres. All writes
// are keyed upserts, so at-least-once delivery never duplicates rows.
type Repository struct {
	pool         pool
	resultsTable string
	domainsTable string
}

// NewRepository creates a Postgres-backed Repository using the provided config.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return newRepository(p, cfg.ResultsTable, cfg.DomainsTable)
}

// NewRepositoryWithPool constructs a Repository from an existing pool
// (primarily for testing).
func NewRepositoryWithPool(p pool, resultsTable, domainsTable string) (*Repository, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newRepository(p, resultsTable, domainsTable)
}

func newRepository(p pool, resultsTable, domainsTable string) (*Repository, error) {
	if resultsTable == "" {
		resultsTable = "crawl_results"
	}
	if domainsTable == "" {
		domainsTable = "crawl_domains"
	}
	for _, table := range []string{resultsTable, domainsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Repository{pool: p, resultsTable: resultsTable, domainsTable: domainsTable}, nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// SaveResult upserts the final record for a task, keyed on task ID.
func (r *Repository) SaveResult(ctx context.Context, taskID string, meta *crawl.PageMetadata, finalState crawl.TaskState) error {
	if taskID == "" {
		return fmt.Errorf("task id is required")
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var statusCode int
	var contentHash string
	if meta != nil {
		statusCode = meta.StatusCode
		contentHash = meta.ContentHash
	}
	query := fmt.Sprintf(`
INSERT INTO %s (task_id, final_state, status_code, content_hash, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (task_id) DO UPDATE SET
	final_state = EXCLUDED.final_state,
	status_code = EXCLUDED.status_code,
	content_hash = EXCLUDED.content_hash,
	metadata = EXCLUDED.metadata,
	updated_at = NOW()`, r.resultsTable)
	if _, err := r.pool.Exec(ctx, query, taskID, string(finalState), statusCode, contentHash, metaJSON); err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

// LoadResult fetches a stored result by task ID.
func (r *Repository) LoadResult(ctx context.Context, taskID string) (*crawl.PageMetadata, crawl.TaskState, error) {
	query := fmt.Sprintf(`SELECT final_state, metadata FROM %s WHERE task_id = $1`, r.resultsTable)
	var state string
	var metaJSON []byte
	err := r.pool.QueryRow(ctx, query, taskID).Scan(&state, &metaJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("select result: %w", err)
	}
	var meta crawl.PageMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, "", fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &meta, crawl.TaskState(state), nil
}

// SaveDomainState upserts politeness bookkeeping, keyed on domain.
func (r *Repository) SaveDomainState(ctx context.Context, state crawl.DomainState) error {
	if state.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (domain, crawl_delay_ms, last_dispatched_at, robots_fetched_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (domain) DO UPDATE SET
	crawl_delay_ms = EXCLUDED.crawl_delay_ms,
	last_dispatched_at = EXCLUDED.last_dispatched_at,
	robots_fetched_at = EXCLUDED.robots_fetched_at`, r.domainsTable)
	if _, err := r.pool.Exec(ctx, query,
		state.Domain,
		state.CrawlDelay.Milliseconds(),
		state.LastDispatchedAt,
		state.RobotsFetchedAt,
	); err != nil {
		return fmt.Errorf("upsert domain state: %w", err)
	}
	return nil
}

// LoadDomainState fetches a domain's state, or ErrNotFound.
func (r *Repository) LoadDomainState(ctx context.Context, domain string) (*crawl.DomainState, error) {
	query := fmt.Sprintf(`SELECT crawl_delay_ms, last_dispatched_at, robots_fetched_at FROM %s WHERE domain = $1`, r.domainsTable)
	var delayMs int64
	state := crawl.DomainState{Domain: domain}
	err := r.pool.QueryRow(ctx, query, domain).Scan(&delayMs, &state.LastDispatchedAt, &state.RobotsFetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select domain state: %w", err)
	}
	state.CrawlDelay = time.Duration(delayMs) * time.Millisecond
	return &state, nil
}
