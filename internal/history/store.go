// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history persists finished research runs in SQLite so they can be
// listed, searched, and exported after the process exits.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/terafinder/pkg/types"
)

const dbFile = "history.db"

const defaultMaxResults = 20

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("run not found")

// Record is one finished run.
type Record struct {
	ID              string               `json:"id" yaml:"id"`
	Mode            string               `json:"mode" yaml:"mode"`
	Query           string               `json:"query" yaml:"query"`
	CreatedAt       time.Time            `json:"created_at" yaml:"created_at"`
	Iteration       int                  `json:"iteration" yaml:"iteration"`
	Confidence      float64              `json:"confidence" yaml:"confidence"`
	Diversity       float64              `json:"diversity" yaml:"diversity"`
	StopReason      string               `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty"`
	SynthesisMethod string               `json:"synthesis_method,omitempty" yaml:"synthesis_method,omitempty"`
	Reasoning       string               `json:"reasoning" yaml:"reasoning"`
	Conclusion      string               `json:"conclusion" yaml:"conclusion"`
	Formatted       string               `json:"formatted,omitempty" yaml:"formatted,omitempty"`
	Tasks           []string             `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Evidence        []types.EvidenceItem `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// NewRecord captures a finished pipeline state. The id is a fresh UUID.
func NewRecord(mode string, s types.PipelineState) Record {
	rec := Record{
		ID:              uuid.NewString(),
		Mode:            mode,
		Query:           s.Query.Content,
		CreatedAt:       time.Now().UTC(),
		Iteration:       s.Iteration,
		StopReason:      s.Memory.String(types.MemStopReason),
		SynthesisMethod: s.Memory.String(types.MemSynthesisMethod),
		Formatted:       s.Memory.String(types.MemFormattedOutput),
	}
	if s.Answer != nil {
		rec.Confidence = s.Answer.Metadata.Confidence
		rec.Reasoning = s.Answer.Reasoning
		rec.Conclusion = s.Answer.Conclusion
	}
	if s.Verified != nil {
		rec.Diversity = s.Verified.DiversityScore
	}
	for _, t := range s.Tasks {
		rec.Tasks = append(rec.Tasks, t.Content)
	}
	if s.Retrieved != nil {
		rec.Evidence = append(rec.Evidence, s.Retrieved.Items...)
	}
	return rec
}

// Store manages the history database.
type Store struct {
	db         *sql.DB
	dir        string
	maxResults int

	// fts is false when the sqlite3 driver was built without FTS5; search
	// then falls back to LIKE matching.
	fts bool

	logger *slog.Logger
}

// Open opens or creates dir/history.db and its schema.
func Open(cfg types.HistoryConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	dbPath := filepath.Join(cfg.Dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	s := &Store{
		db:         db,
		dir:        cfg.Dir,
		maxResults: maxResults,
		logger:     slog.Default(),
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, dbFile)
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			query TEXT NOT NULL,
			created_at TEXT NOT NULL,
			iteration INTEGER,
			confidence REAL,
			diversity REAL,
			stop_reason TEXT,
			synthesis_method TEXT,
			reasoning TEXT,
			conclusion TEXT,
			formatted TEXT,
			tasks TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS evidence (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			item_id TEXT NOT NULL,
			provider TEXT,
			kind TEXT,
			url TEXT,
			title TEXT,
			excerpt TEXT,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_run_id ON evidence(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='evidence_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}
	if ftsExists > 0 {
		s.fts = true
		return nil
	}

	ftsStatements := []string{
		`CREATE VIRTUAL TABLE evidence_fts USING fts5(title, excerpt, content=evidence, content_rowid=rowid)`,
		`CREATE TRIGGER evidence_ai AFTER INSERT ON evidence BEGIN
			INSERT INTO evidence_fts(rowid, title, excerpt) VALUES (new.rowid, new.title, new.excerpt);
		END`,
		`CREATE TRIGGER evidence_ad AFTER DELETE ON evidence BEGIN
			INSERT INTO evidence_fts(evidence_fts, rowid, title, excerpt) VALUES('delete', old.rowid, old.title, old.excerpt);
		END`,
		`CREATE TRIGGER evidence_au AFTER UPDATE ON evidence BEGIN
			INSERT INTO evidence_fts(evidence_fts, rowid, title, excerpt) VALUES('delete', old.rowid, old.title, old.excerpt);
			INSERT INTO evidence_fts(rowid, title, excerpt) VALUES (new.rowid, new.title, new.excerpt);
		END`,
	}
	if _, err := s.db.Exec(ftsStatements[0]); err != nil {
		if strings.Contains(err.Error(), "no such module") {
			s.logger.Debug("sqlite3 built without fts5, history search uses LIKE")
			return nil
		}
		return fmt.Errorf("creating FTS table: %w", err)
	}
	for _, stmt := range ftsStatements[1:] {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating FTS infrastructure: %w", err)
		}
	}
	s.fts = true
	return nil
}

// Save stores rec, replacing any run with the same id. An empty id gets a
// fresh UUID and a zero CreatedAt is set to now. It returns the stored id.
func (s *Store) Save(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	tasksJSON, _ := json.Marshal(rec.Tasks)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, mode, query, created_at, iteration, confidence, diversity,
			stop_reason, synthesis_method, reasoning, conclusion, formatted, tasks)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			mode=excluded.mode, query=excluded.query, created_at=excluded.created_at,
			iteration=excluded.iteration, confidence=excluded.confidence,
			diversity=excluded.diversity, stop_reason=excluded.stop_reason,
			synthesis_method=excluded.synthesis_method, reasoning=excluded.reasoning,
			conclusion=excluded.conclusion, formatted=excluded.formatted, tasks=excluded.tasks`,
		rec.ID, rec.Mode, rec.Query, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.Iteration, rec.Confidence, rec.Diversity, rec.StopReason, rec.SynthesisMethod,
		rec.Reasoning, rec.Conclusion, rec.Formatted, string(tasksJSON),
	)
	if err != nil {
		return "", fmt.Errorf("upserting run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM evidence WHERE run_id = ?`, rec.ID); err != nil {
		return "", fmt.Errorf("deleting old evidence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO evidence (run_id, position, item_id, provider, kind, url, title, excerpt, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, it := range rec.Evidence {
		metaJSON, _ := json.Marshal(it.Metadata)
		if _, err := stmt.ExecContext(ctx,
			rec.ID, i, it.ID, string(it.Provider), string(it.Kind),
			it.URL, it.Title, it.Excerpt, string(metaJSON),
		); err != nil {
			return "", fmt.Errorf("inserting evidence %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run: %w", err)
	}
	return rec.ID, nil
}

// Delete removes a run and its evidence.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
