// Package postgres provides the Postgres-backed fingerprint store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachscout/jobs-crawler/internal/vision"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// FingerprintStore persists fingerprints, escalation events and run
// summaries in Postgres. Upserts are single statements, so a concurrent
// reader never observes a partially written row.
type FingerprintStore struct {
	pool  pgxPool
	clock vision.Clock
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// New creates a Postgres-backed FingerprintStore from the provided config.
// A nil clock falls back to the UTC wall clock.
func New(ctx context.Context, cfg Config, clock vision.Clock) (*FingerprintStore, error) {
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, clock)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, clock vision.Clock) (*FingerprintStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		clock = wallClock{}
	}
	return &FingerprintStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *FingerprintStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the three logical tables if they do not exist.
func (s *FingerprintStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pages (
	url TEXT PRIMARY KEY,
	screenshot_hash TEXT NOT NULL DEFAULT '',
	text_hash_local TEXT NOT NULL DEFAULT '',
	text_hash_cloud TEXT NOT NULL DEFAULT '',
	text_hash_agent TEXT NOT NULL DEFAULT '',
	last_tier TEXT NOT NULL DEFAULT '',
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS escalations (
	ts TIMESTAMPTZ NOT NULL,
	url TEXT NOT NULL,
	from_tier TEXT NOT NULL DEFAULT '',
	to_tier TEXT NOT NULL,
	reason TEXT NOT NULL,
	info TEXT NOT NULL DEFAULT ''
)`,
		`CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	skipped_nochange INTEGER NOT NULL,
	cheap_ocr INTEGER NOT NULL,
	escalated INTEGER NOT NULL
)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Get returns the fingerprint for url.
func (s *FingerprintStore) Get(ctx context.Context, url string) (vision.PageFingerprint, bool, error) {
	const query = `
SELECT screenshot_hash, text_hash_local, text_hash_cloud, text_hash_agent, last_tier, last_seen
FROM pages
WHERE url = $1`

	var (
		fp        = vision.PageFingerprint{URL: url, TextHashes: make(map[vision.Tier]string)}
		localHash string
		cloudHash string
		agentHash string
		lastTier  string
	)
	err := s.pool.QueryRow(ctx, query, url).Scan(
		&fp.ScreenshotHash,
		&localHash,
		&cloudHash,
		&agentHash,
		&lastTier,
		&fp.LastSeen,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return vision.PageFingerprint{}, false, nil
	}
	if err != nil {
		return vision.PageFingerprint{}, false, fmt.Errorf("select page %s: %w", url, err)
	}
	if localHash != "" {
		fp.TextHashes[vision.TierLocalOCR] = localHash
	}
	if cloudHash != "" {
		fp.TextHashes[vision.TierCloudOCR] = cloudHash
	}
	if agentHash != "" {
		fp.TextHashes[vision.TierAgent] = agentHash
	}
	fp.LastTier = vision.Tier(lastTier)
	return fp, true, nil
}

// Upsert creates or replaces the fingerprint row for url in one statement.
func (s *FingerprintStore) Upsert(ctx context.Context, url, screenshotHash string, tier vision.Tier, textHash string) error {
	column, err := textHashColumn(tier)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO pages (url, screenshot_hash, %[1]s, last_tier, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (url) DO UPDATE SET
	screenshot_hash = EXCLUDED.screenshot_hash,
	%[1]s = EXCLUDED.%[1]s,
	last_tier = EXCLUDED.last_tier,
	last_seen = EXCLUDED.last_seen`, column)

	now := s.clock.Now()
	if err := s.execRetry(ctx, query, url, screenshotHash, textHash, string(tier), now); err != nil {
		return fmt.Errorf("upsert page %s: %w", url, err)
	}
	return nil
}

// RecordEscalation appends one audit row. Long info strings are truncated
// to keep the log bounded.
func (s *FingerprintStore) RecordEscalation(ctx context.Context, event vision.EscalationEvent) error {
	const query = `
INSERT INTO escalations (ts, url, from_tier, to_tier, reason, info)
VALUES ($1, $2, $3, $4, $5, $6)`

	info := event.Info
	if len(info) > 2000 {
		info = info[:2000]
	}
	args := []any{
		event.Timestamp,
		event.URL,
		string(event.FromTier),
		string(event.ToTier),
		string(event.Reason),
		info,
	}
	if err := s.execRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("insert escalation for %s: %w", event.URL, err)
	}
	return nil
}

// RecordRunSummary inserts the write-once rollup for a batch run.
func (s *FingerprintStore) RecordRunSummary(ctx context.Context, summary vision.RunSummary) error {
	const query = `
INSERT INTO runs (run_id, ts, skipped_nochange, cheap_ocr, escalated)
VALUES ($1, $2, $3, $4, $5)`

	args := []any{
		summary.RunID,
		summary.Timestamp,
		summary.Skipped,
		summary.CheapOCR,
		summary.Escalated,
	}
	if err := s.execRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run summary %s: %w", summary.RunID, err)
	}
	return nil
}

// execRetry executes a write, retrying once on failure. Persistent failure
// surfaces to the caller; a canceled context is never retried.
func (s *FingerprintStore) execRetry(ctx context.Context, query string, args ...any) error {
	_, err := s.pool.Exec(ctx, query, args...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if _, retryErr := s.pool.Exec(ctx, query, args...); retryErr != nil {
		return fmt.Errorf("%w (after retry)", retryErr)
	}
	return nil
}

func textHashColumn(tier vision.Tier) (string, error) {
	switch tier {
	case vision.TierLocalOCR:
		return "text_hash_local", nil
	case vision.TierCloudOCR:
		return "text_hash_cloud", nil
	case vision.TierAgent:
		return "text_hash_agent", nil
	default:
		return "", fmt.Errorf("unknown tier %q", tier)
	}
}
