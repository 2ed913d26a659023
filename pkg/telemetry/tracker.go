// Package telemetry records per-call usage and cost.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eyecheck/gateway/pkg/models"
)

// Sink stores usage records.
type Sink interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Tracker records and queries usage.
type Tracker interface {
	Sink
	// QueryByUser returns records for a user since a given time, newest first.
	QueryByUser(ctx context.Context, userID string, since time.Time) ([]models.UsageRecord, error)
	// Summary returns aggregated usage, optionally filtered by user.
	Summary(ctx context.Context, userID string) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL DEFAULT '',
	service TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	model TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	tokens_in INTEGER NOT NULL,
	tokens_out INTEGER NOT NULL,
	cost_usd REAL NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_user_time ON usage_records(user_id, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a usage record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (user_id, service, endpoint, model, provider, tokens_in, tokens_out, cost_usd, latency_ms, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Service, rec.Endpoint, rec.Model, rec.Provider,
		rec.TokensIn, rec.TokensOut, rec.CostUSD, rec.LatencyMs, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// QueryByUser returns usage records for a user since a given time.
func (t *SQLiteTracker) QueryByUser(ctx context.Context, userID string, since time.Time) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, user_id, service, endpoint, model, provider, tokens_in, tokens_out, cost_usd, latency_ms, status, created_at
		 FROM usage_records WHERE user_id = ? AND created_at >= ? ORDER BY created_at DESC`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Service, &r.Endpoint, &r.Model, &r.Provider,
			&r.TokensIn, &r.TokensOut, &r.CostUSD, &r.LatencyMs, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary returns aggregated usage grouped by user, endpoint and model.
func (t *SQLiteTracker) Summary(ctx context.Context, userID string) ([]models.UsageSummary, error) {
	query := `SELECT user_id, endpoint, model, COUNT(*), SUM(tokens_in), SUM(tokens_out), SUM(cost_usd)
		 FROM usage_records`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY user_id, endpoint, model ORDER BY user_id, endpoint, model`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.UserID, &s.Endpoint, &s.Model, &s.RequestCount, &s.TokensIn, &s.TokensOut, &s.CostUSD); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
