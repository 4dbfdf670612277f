// Package history persists accepted utterances in SQLite, mirroring the
// coordinator's in-memory ring. Retention is configurable from "never touch
// disk" to "keep for N days", and the rows double as a fine-tuning corpus
// through the JSONL export.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/parlolabs/parlo-core/internal/config"
)

// Phrase is one accepted utterance with the situation it was spoken in.
type Phrase struct {
	ID        int64
	RunID     string
	Text      string
	Category  string
	Source    string
	TimeOfDay string
	DayType   string
	Place     string
	CreatedAt time.Time
}

// Store wraps the SQLite phrase log. With retention_mode=ephemeral it keeps
// no database and every call is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
	runID string
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	runID := uuid.NewString()
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now, runID: runID}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now, runID: runID}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// session retention means the log lives exactly one daemon run
	if cfg.RetentionMode == "session" {
		if _, err := db.ExecContext(ctx, `DELETE FROM phrases`); err != nil {
			db.Close()
			return nil, fmt.Errorf("reset session history: %w", err)
		}
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS phrases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    text TEXT NOT NULL,
    category TEXT,
    source TEXT,
    time_of_day TEXT,
    day_type TEXT,
    place TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phrases_created ON phrases(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records one accepted phrase.
func (s *Store) Append(ctx context.Context, p Phrase) error {
	if s.db == nil {
		return nil
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clock().UTC()
	}
	if p.RunID == "" {
		p.RunID = s.runID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phrases(run_id, text, category, source, time_of_day, day_type, place, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RunID, p.Text, p.Category, p.Source, p.TimeOfDay, p.DayType, p.Place, p.CreatedAt)
	return err
}

// Recent returns up to limit phrases, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Phrase, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, text, category, source, time_of_day, day_type, place, created_at
		 FROM phrases ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPhrases(rows)
}

// Prune applies day-based and count-based retention.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM phrases WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM phrases WHERE id IN (
			SELECT id FROM phrases ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

type exportRecord struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// ExportJSONL writes every phrase as a prompt/completion pair, oldest first,
// for downstream model tuning.
func (s *Store) ExportJSONL(ctx context.Context, w io.Writer) (int, error) {
	if s.db == nil {
		return 0, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, text, category, source, time_of_day, day_type, place, created_at
		 FROM phrases ORDER BY id ASC`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	phrases, err := scanPhrases(rows)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for _, p := range phrases {
		label := p.Category
		if label == "" {
			label = "General"
		}
		record := exportRecord{
			Input:  fmt.Sprintf("User: %s\nContext: %s\n", p.Text, label),
			Output: p.Text,
		}
		if err := enc.Encode(record); err != nil {
			return 0, err
		}
	}
	return len(phrases), nil
}

func scanPhrases(rows *sql.Rows) ([]Phrase, error) {
	var phrases []Phrase
	for rows.Next() {
		var p Phrase
		var created string
		if err := rows.Scan(&p.ID, &p.RunID, &p.Text, &p.Category, &p.Source, &p.TimeOfDay, &p.DayType, &p.Place, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			p.CreatedAt = ts
		}
		phrases = append(phrases, p)
	}
	return phrases, rows.Err()
}
