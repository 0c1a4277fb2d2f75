// Package trustdb is a supplementary, additive mirror of trust score
// mutations into a local SQLite table, giving operators a queryable
// history of score movement distinct from the compliance audit trail
// (which records verdicts, not trust deltas). It is never the source of
// truth: the Trust Manager's JSON file remains authoritative on load.
package trustdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection holding the trust_history table.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the SQLite file at path and ensures
// the trust_history schema exists.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("trustdb: open %s: %w", path, err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS trust_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			score INTEGER NOT NULL,
			tier TEXT NOT NULL,
			reason TEXT NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trust_history_agent ON trust_history(agent_id, recorded_at);
	`)
	if err != nil {
		return fmt.Errorf("trustdb: migrate: %w", err)
	}
	return nil
}

// Record appends one score-mutation event.
func (db *DB) Record(ctx context.Context, agentID string, score int, tier, reason string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO trust_history (agent_id, score, tier, reason, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		agentID, score, tier, reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("trustdb: record: %w", err)
	}
	return nil
}

// HistoryEntry is one row of an agent's recorded score history.
type HistoryEntry struct {
	AgentID    string
	Score      int
	Tier       string
	Reason     string
	RecordedAt time.Time
}

// History returns the most recent entries for agentID, newest first,
// bounded by limit.
func (db *DB) History(ctx context.Context, agentID string, limit int) ([]HistoryEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT agent_id, score, tier, reason, recorded_at FROM trust_history
		 WHERE agent_id = ? ORDER BY recorded_at DESC LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("trustdb: history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.AgentID, &e.Score, &e.Tier, &e.Reason, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("trustdb: scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
