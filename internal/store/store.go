// Package store persists sessions, their history and per-round candidate logs
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"autoloom/internal/session"
)

// ErrNotFound is returned for an unknown session ID.
var ErrNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id  TEXT PRIMARY KEY,
	prompt      TEXT NOT NULL,
	model       TEXT NOT NULL,
	classifier  TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS history_entries (
	session_id   TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	prompt       TEXT NOT NULL,
	result       TEXT NOT NULL,
	score        INTEGER NOT NULL,
	committed_at TEXT NOT NULL,
	PRIMARY KEY (session_id, seq),
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS round_log (
	session_id  TEXT NOT NULL,
	round       INTEGER NOT NULL,
	idx         INTEGER NOT NULL,
	text        TEXT NOT NULL,
	score       INTEGER,
	chosen      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, round, idx),
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

// Store manages session persistence.
type Store struct {
	db *sql.DB
}

// SessionInfo summarises one stored session.
type SessionInfo struct {
	ID         string    `json:"id" yaml:"id"`
	Prompt     string    `json:"prompt" yaml:"prompt"`
	Model      string    `json:"model" yaml:"model"`
	Classifier string    `json:"classifier" yaml:"classifier"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	Entries    int       `json:"entries" yaml:"entries"`
}

// CandidateRecord is one row of the round log.
type CandidateRecord struct {
	Round  int    `json:"round" yaml:"round"`
	Index  int    `json:"index" yaml:"index"`
	Text   string `json:"text" yaml:"text"`
	Score  *int   `json:"score,omitempty" yaml:"score,omitempty"`
	Chosen bool   `json:"chosen" yaml:"chosen"`
}

// Open opens (creating if needed) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession registers a new session.
func (s *Store) CreateSession(ctx context.Context, info SessionInfo) error {
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, prompt, model, classifier, created_at) VALUES (?, ?, ?, ?, ?)`,
		info.ID, info.Prompt, info.Model, info.Classifier, info.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// RecordEntry appends one history entry. seq starts at 1.
func (s *Store) RecordEntry(ctx context.Context, sessionID string, seq int, entry session.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history_entries (session_id, seq, prompt, result, score, committed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, seq, entry.Prompt, entry.Result, entry.Score, entry.CommittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// RecordRound stores every candidate of a committed round with its score.
func (s *Store) RecordRound(ctx context.Context, sessionID string, round *session.Round) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO round_log (session_id, round, idx, text, score, chosen) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare round log: %w", err)
	}
	defer stmt.Close()

	for _, cand := range round.Candidates {
		var score sql.NullInt64
		if cand.Score != nil {
			score = sql.NullInt64{Int64: int64(*cand.Score), Valid: true}
		}
		chosen := 0
		if cand.Index == round.ChosenIndex {
			chosen = 1
		}
		if _, err := stmt.ExecContext(ctx, sessionID, round.Number, cand.Index, cand.Text, score, chosen); err != nil {
			return fmt.Errorf("insert candidate %d: %w", cand.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit round log: %w", err)
	}
	return nil
}

// ListSessions returns every session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_id, s.prompt, s.model, s.classifier, s.created_at, COUNT(h.seq)
		FROM sessions s
		LEFT JOIN history_entries h ON h.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			info    SessionInfo
			created string
		)
		if err := rows.Scan(&info.ID, &info.Prompt, &info.Model, &info.Classifier, &created, &info.Entries); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, info)
	}
	return out, rows.Err()
}

// GetSession returns one session summary.
func (s *Store) GetSession(ctx context.Context, id string) (SessionInfo, error) {
	var (
		info    SessionInfo
		created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT s.session_id, s.prompt, s.model, s.classifier, s.created_at,
		       (SELECT COUNT(*) FROM history_entries h WHERE h.session_id = s.session_id)
		FROM sessions s WHERE s.session_id = ?`, id,
	).Scan(&info.ID, &info.Prompt, &info.Model, &info.Classifier, &created, &info.Entries)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return SessionInfo{}, fmt.Errorf("query session: %w", err)
	}
	info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return info, nil
}

// LoadHistory rebuilds the history of a stored session.
func (s *Store) LoadHistory(ctx context.Context, id string) (*session.History, error) {
	info, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT prompt, result, score, committed_at FROM history_entries WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []session.HistoryEntry
	for rows.Next() {
		var (
			entry     session.HistoryEntry
			committed string
		)
		if err := rows.Scan(&entry.Prompt, &entry.Result, &entry.Score, &committed); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entry.Manual = entry.Score == session.ManualScore
		entry.CommittedAt, _ = time.Parse(time.RFC3339Nano, committed)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return session.RestoreHistory(info.Prompt, entries), nil
}

// RoundLog returns every stored candidate of a session ordered by round and index.
func (s *Store) RoundLog(ctx context.Context, id string) ([]CandidateRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT round, idx, text, score, chosen FROM round_log WHERE session_id = ? ORDER BY round, idx`, id)
	if err != nil {
		return nil, fmt.Errorf("query round log: %w", err)
	}
	defer rows.Close()

	var out []CandidateRecord
	for rows.Next() {
		var (
			rec    CandidateRecord
			score  sql.NullInt64
			chosen int
		)
		if err := rows.Scan(&rec.Round, &rec.Index, &rec.Text, &score, &chosen); err != nil {
			return nil, fmt.Errorf("scan round log: %w", err)
		}
		if score.Valid {
			value := int(score.Int64)
			rec.Score = &value
		}
		rec.Chosen = chosen == 1
		out = append(out, rec)
	}
	return out, rows.Err()
}
