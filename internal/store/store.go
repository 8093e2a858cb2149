// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store archives completed runs in a SQLite database so past results
// can be listed and re-rendered without re-running the pipeline.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/idea-engine/pkg/types"
)

// Store manages the run archive database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive database at path, creating parent
// directories and the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
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

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			keyword TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			papers TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS ideas (
			run_id TEXT NOT NULL REFERENCES runs(id),
			id TEXT NOT NULL,
			status TEXT NOT NULL,
			iterations INTEGER NOT NULL,
			reason TEXT,
			failure_detail TEXT,
			title TEXT,
			PRIMARY KEY (run_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS iterations (
			run_id TEXT NOT NULL,
			idea_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			evaluation TEXT,
			refinement TEXT,
			PRIMARY KEY (run_id, idea_id, idx),
			FOREIGN KEY (run_id, idea_id) REFERENCES ideas(run_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ideas_run_id ON ideas(run_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// SaveRun archives a completed run and returns its archive ID.
func (s *Store) SaveRun(ctx context.Context, result *types.RunResult) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	runID := uuid.NewString()
	papersJSON, _ := json.Marshal(result.Papers)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, keyword, started_at, finished_at, papers)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, result.Keyword,
		result.StartedAt.UTC().Format(time.RFC3339Nano),
		result.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(papersJSON),
	)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}

	ideaStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ideas (run_id, id, status, iterations, reason, failure_detail, title)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("preparing idea insert: %w", err)
	}
	defer ideaStmt.Close()

	iterStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO iterations (run_id, idea_id, idx, kind, content, evaluation, refinement)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("preparing iteration insert: %w", err)
	}
	defer iterStmt.Close()

	for _, idea := range result.Ideas {
		_, err := ideaStmt.ExecContext(ctx,
			runID, idea.ID, string(idea.Status), idea.Iterations,
			string(idea.Reason), idea.FailureDetail, idea.LatestContent().Title,
		)
		if err != nil {
			return "", fmt.Errorf("inserting idea %s: %w", idea.ID, err)
		}

		for _, rec := range idea.History {
			contentJSON, _ := json.Marshal(rec.Content)
			evalJSON := marshalNullable(rec.Evaluation)
			refJSON := marshalNullable(rec.Refinement)
			_, err := iterStmt.ExecContext(ctx,
				runID, idea.ID, rec.Index, string(rec.Kind),
				string(contentJSON), evalJSON, refJSON,
			)
			if err != nil {
				return "", fmt.Errorf("inserting iteration %d of idea %s: %w", rec.Index, idea.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run: %w", err)
	}
	return runID, nil
}

// marshalNullable returns a JSON string or SQL NULL for optional records.
func marshalNullable(v any) any {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case *types.Evaluation:
		if x == nil {
			return nil
		}
	case *types.RefinementDetails:
		if x == nil {
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}

// RunSummary is one row of the archive listing.
type RunSummary struct {
	ID         string
	Keyword    string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Accepted   int
}

// ListRuns returns archived runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.keyword, r.started_at, r.finished_at,
		       count(i.id),
		       count(CASE WHEN i.status = 'accepted' THEN 1 END)
		FROM runs r
		LEFT JOIN ideas i ON i.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var sum RunSummary
		var started, finished string
		if err := rows.Scan(&sum.ID, &sum.Keyword, &started, &finished, &sum.Total, &sum.Accepted); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		sum.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		sum.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// LoadRun reconstructs a full RunResult from the archive.
func (s *Store) LoadRun(ctx context.Context, runID string) (*types.RunResult, error) {
	result := &types.RunResult{}

	var started, finished string
	var papersJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT keyword, started_at, finished_at, papers FROM runs WHERE id = ?`, runID,
	).Scan(&result.Keyword, &started, &finished, &papersJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	result.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	result.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	if papersJSON.Valid && papersJSON.String != "" {
		if err := json.Unmarshal([]byte(papersJSON.String), &result.Papers); err != nil {
			return nil, fmt.Errorf("decoding papers: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, iterations, reason, failure_detail FROM ideas
		 WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying ideas: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idea types.Idea
		var status, reason string
		if err := rows.Scan(&idea.ID, &status, &idea.Iterations, &reason, &idea.FailureDetail); err != nil {
			return nil, fmt.Errorf("scanning idea row: %w", err)
		}
		idea.Status = types.IdeaStatus(status)
		idea.Reason = types.TerminationReason(reason)

		if err := s.loadHistory(ctx, runID, &idea); err != nil {
			return nil, err
		}
		result.Ideas = append(result.Ideas, idea)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) loadHistory(ctx context.Context, runID string, idea *types.Idea) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, kind, content, evaluation, refinement FROM iterations
		 WHERE run_id = ? AND idea_id = ? ORDER BY idx`, runID, idea.ID)
	if err != nil {
		return fmt.Errorf("querying iterations for idea %s: %w", idea.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec types.IterationRecord
		var kind, content string
		var evalJSON, refJSON sql.NullString
		if err := rows.Scan(&rec.Index, &kind, &content, &evalJSON, &refJSON); err != nil {
			return fmt.Errorf("scanning iteration row: %w", err)
		}
		rec.Kind = types.RecordKind(kind)
		if err := json.Unmarshal([]byte(content), &rec.Content); err != nil {
			return fmt.Errorf("decoding iteration content: %w", err)
		}
		if evalJSON.Valid {
			rec.Evaluation = &types.Evaluation{}
			if err := json.Unmarshal([]byte(evalJSON.String), rec.Evaluation); err != nil {
				return fmt.Errorf("decoding evaluation: %w", err)
			}
		}
		if refJSON.Valid {
			rec.Refinement = &types.RefinementDetails{}
			if err := json.Unmarshal([]byte(refJSON.String), rec.Refinement); err != nil {
				return fmt.Errorf("decoding refinement: %w", err)
			}
		}
		idea.History = append(idea.History, rec)
	}
	return rows.Err()
}

// LatestRun returns the most recently started archived run, or an error when
// the archive is empty.
func (s *Store) LatestRun(ctx context.Context) (*types.RunResult, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("archive is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest run: %w", err)
	}
	return s.LoadRun(ctx, runID)
}
