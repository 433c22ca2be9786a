package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS completed_agents (
	alias          TEXT PRIMARY KEY,
	display_name   TEXT NOT NULL DEFAULT '',
	status_history TEXT NOT NULL DEFAULT '[]',
	final_output   TEXT NOT NULL DEFAULT '',
	completed_at   DATETIME NOT NULL
);
`

// CompletedAgentRecord is the immutable archive row for a finished agent.
type CompletedAgentRecord struct {
	Alias         string
	DisplayName   string
	StatusHistory []string
	FinalOutput   string
	CompletedAt   time.Time
}

// RecallStore persists completed-agent records in a SQLite database.
type RecallStore struct {
	db *sql.DB
}

// OpenRecallStore opens (or creates) a SQLite database at dbPath and ensures
// the archive table exists. Use ":memory:" for an ephemeral store. The caller
// is responsible for calling Close.
func OpenRecallStore(dbPath string) (*RecallStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &RecallStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *RecallStore) Close() error { return s.db.Close() }

// Put upserts a record keyed by alias.
func (s *RecallStore) Put(rec CompletedAgentRecord) error {
	history, _ := json.Marshal(rec.StatusHistory)
	_, err := s.db.Exec(`
		INSERT INTO completed_agents (alias, display_name, status_history, final_output, completed_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(alias) DO UPDATE SET
			display_name=excluded.display_name,
			status_history=excluded.status_history,
			final_output=excluded.final_output,
			completed_at=excluded.completed_at`,
		rec.Alias, rec.DisplayName, string(history), rec.FinalOutput, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Get retrieves a record by alias.
func (s *RecallStore) Get(alias string) (CompletedAgentRecord, bool, error) {
	row := s.db.QueryRow(
		`SELECT alias, display_name, status_history, final_output, completed_at
		 FROM completed_agents WHERE alias = ?`, alias)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return CompletedAgentRecord{}, false, nil
	}
	if err != nil {
		return CompletedAgentRecord{}, false, fmt.Errorf("get record: %w", err)
	}
	return rec, true, nil
}

// List returns every archived record, oldest completion first.
func (s *RecallStore) List() ([]CompletedAgentRecord, error) {
	rows, err := s.db.Query(
		`SELECT alias, display_name, status_history, final_output, completed_at
		 FROM completed_agents ORDER BY completed_at ASC, alias ASC`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var recs []CompletedAgentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (CompletedAgentRecord, error) {
	var rec CompletedAgentRecord
	var historyJSON string
	err := s.Scan(&rec.Alias, &rec.DisplayName, &historyJSON, &rec.FinalOutput, &rec.CompletedAt)
	if err != nil {
		return rec, err
	}
	_ = json.Unmarshal([]byte(historyJSON), &rec.StatusHistory)
	return rec, nil
}
