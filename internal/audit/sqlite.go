package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder stores entries in a local SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS score_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp     INTEGER NOT NULL,
			kind          TEXT NOT NULL,
			wallet        TEXT NOT NULL,
			tier          TEXT,
			numeric_score INTEGER,
			model_version TEXT,
			detail        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_score_events_wallet ON score_events(wallet, timestamp)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) Record(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var score sql.NullInt64
	if e.NumericScore != nil {
		score = sql.NullInt64{Int64: int64(*e.NumericScore), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO score_events
		(timestamp, kind, wallet, tier, numeric_score, model_version, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMilli(), string(e.Kind), e.Wallet, e.Tier, score, e.ModelVersion, e.Detail)
	if err != nil {
		return fmt.Errorf("insert score event: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for wallet, newest first.
func (r *SQLiteRecorder) Recent(ctx context.Context, wallet string, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT timestamp, kind, wallet, tier, numeric_score, model_version, detail
		FROM score_events WHERE wallet = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, wallet, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			ts    int64
			kind  string
			score sql.NullInt64
		)
		if err := rows.Scan(&ts, &kind, &e.Wallet, &e.Tier, &score, &e.ModelVersion, &e.Detail); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.Timestamp = time.UnixMilli(ts).UTC()
		if score.Valid {
			n := int(score.Int64)
			e.NumericScore = &n
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
