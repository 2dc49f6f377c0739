// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/terafinder/pkg/types"
)

const runColumns = `r.id, r.mode, r.query, r.created_at, r.iteration, r.confidence, r.diversity,
	r.stop_reason, r.synthesis_method, r.reasoning, r.conclusion, r.formatted, r.tasks`

// Get returns the run with id, including its evidence in retrieval order.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("looking up run: %w", err)
	}

	rec.Evidence, err = s.evidence(ctx, id)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns the most recent runs, newest first, without evidence. A
// limit of zero uses the configured default.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM runs r ORDER BY r.created_at DESC, r.rowid DESC LIMIT ?`,
		s.limit(limit))
}

// Search returns runs whose query or evidence titles and excerpts match
// text, newest first, without evidence.
func (s *Store) Search(ctx context.Context, text string, limit int) ([]Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return s.List(ctx, limit)
	}
	like := "%" + text + "%"

	if s.fts {
		return s.queryRuns(ctx,
			`SELECT `+runColumns+` FROM runs r
			WHERE r.query LIKE ?
			   OR r.id IN (
				SELECT e.run_id FROM evidence_fts
				JOIN evidence e ON e.rowid = evidence_fts.rowid
				WHERE evidence_fts MATCH ?)
			ORDER BY r.created_at DESC, r.rowid DESC LIMIT ?`,
			like, ftsQuery(text), s.limit(limit))
	}
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM runs r
		WHERE r.query LIKE ?
		   OR r.id IN (
			SELECT run_id FROM evidence WHERE title LIKE ? OR excerpt LIKE ?)
		ORDER BY r.created_at DESC, r.rowid DESC LIMIT ?`,
		like, like, like, s.limit(limit))
}

// ftsQuery quotes every term so user punctuation is not read as FTS5
// syntax. Terms are ANDed.
func ftsQuery(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " ")
}

func (s *Store) limit(n int) int {
	if n <= 0 {
		return s.maxResults
	}
	return n
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Record, error) {
	var (
		rec        Record
		createdAt  string
		stopReason sql.NullString
		method     sql.NullString
		reasoning  sql.NullString
		conclusion sql.NullString
		formatted  sql.NullString
		tasksJSON  sql.NullString
	)
	if err := sc.Scan(
		&rec.ID, &rec.Mode, &rec.Query, &createdAt, &rec.Iteration, &rec.Confidence, &rec.Diversity,
		&stopReason, &method, &reasoning, &conclusion, &formatted, &tasksJSON,
	); err != nil {
		return Record{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("decoding created_at of run %s: %w", rec.ID, err)
	}
	rec.CreatedAt = t
	rec.StopReason = stopReason.String
	rec.SynthesisMethod = method.String
	rec.Reasoning = reasoning.String
	rec.Conclusion = conclusion.String
	rec.Formatted = formatted.String
	if tasksJSON.Valid {
		if err := json.Unmarshal([]byte(tasksJSON.String), &rec.Tasks); err != nil {
			return Record{}, fmt.Errorf("decoding tasks of run %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func (s *Store) evidence(ctx context.Context, runID string) ([]types.EvidenceItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, provider, kind, url, title, excerpt, metadata
		 FROM evidence WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying evidence: %w", err)
	}
	defer rows.Close()

	var items []types.EvidenceItem
	for rows.Next() {
		var (
			it                         types.EvidenceItem
			provider, kind, url, title sql.NullString
			excerpt, metaJSON          sql.NullString
		)
		if err := rows.Scan(&it.ID, &provider, &kind, &url, &title, &excerpt, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning evidence: %w", err)
		}
		it.Provider = types.Provider(provider.String)
		it.Kind = types.Kind(kind.String)
		it.URL = url.String
		it.Title = title.String
		it.Excerpt = excerpt.String
		if metaJSON.Valid {
			if err := json.Unmarshal([]byte(metaJSON.String), &it.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata of evidence %s: %w", it.ID, err)
			}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
