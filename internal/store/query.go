package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/phobologic/srcmetrics/internal/coverage"
	"github.com/phobologic/srcmetrics/internal/model"
)

// Run is a recorded analysis run.
type Run struct {
	ID        string
	Root      string
	StartedAt string
}

// FileMetrics is a stored metrics row.
type FileMetrics struct {
	File    string
	Metrics model.FileMetrics
}

// Runs lists recorded runs, most recent first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.query(ctx, `SELECT id, root, started_at FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Root, &r.StartedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Metrics returns the metrics saved in runID, ordered by file, with their
// code lines.
func (s *Store) Metrics(ctx context.Context, runID string) ([]FileMetrics, error) {
	rows, err := s.query(ctx,
		`SELECT file, ncloc, comment_lines, lines, fallback FROM file_metrics WHERE run_id = ? ORDER BY file`, runID)
	if err != nil {
		return nil, err
	}
	var out []FileMetrics
	for rows.Next() {
		var fm FileMetrics
		m := &fm.Metrics
		if err := rows.Scan(&fm.File, &m.LinesOfCode, &m.CommentLines, &m.TotalLines, &m.Fallback); err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, fm)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		lines, err := s.codeLines(ctx, runID, out[i].File)
		if err != nil {
			return nil, err
		}
		out[i].Metrics.CodeLines = lines
	}
	return out, nil
}

func (s *Store) codeLines(ctx context.Context, runID, file string) (model.LineRecord, error) {
	rows, err := s.query(ctx, `SELECT line FROM code_lines WHERE run_id = ? AND file = ?`, runID, file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	lines := make(model.LineRecord)
	for rows.Next() {
		var line int
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines[line] = true
	}
	return lines, rows.Err()
}

// Highlights returns the spans saved for file in runID, in saved order.
func (s *Store) Highlights(ctx context.Context, runID, file string) ([]model.HighlightSpan, error) {
	rows, err := s.query(ctx, `SELECT start_line, start_column, end_line, end_column, type
		FROM highlights WHERE run_id = ? AND file = ? ORDER BY seq`, runID, file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.HighlightSpan
	for rows.Next() {
		var sp model.HighlightSpan
		var typ string
		if err := rows.Scan(&sp.StartLine, &sp.StartColumn, &sp.EndLine, &sp.EndColumn, &typ); err != nil {
			return nil, err
		}
		sp.Type = model.TextType(typ)
		out = append(out, sp)
	}
	return out, rows.Err()
}

// CpdTokens returns the tokens saved for file in runID, in saved order.
func (s *Store) CpdTokens(ctx context.Context, runID, file string) ([]model.CpdToken, error) {
	rows, err := s.query(ctx, `SELECT start_line, start_column, end_line, end_column, text
		FROM cpd_tokens WHERE run_id = ? AND file = ? ORDER BY seq`, runID, file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.CpdToken
	for rows.Next() {
		var t model.CpdToken
		if err := rows.Scan(&t.StartLine, &t.StartColumn, &t.EndLine, &t.EndColumn, &t.Text); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Structure returns the structure metrics saved for file in runID.
func (s *Store) Structure(ctx context.Context, runID, file string) (model.StructureMetrics, bool, error) {
	rows, err := s.query(ctx,
		`SELECT classes, functions, complexity FROM structure WHERE run_id = ? AND file = ?`, runID, file)
	if err != nil {
		return model.StructureMetrics{}, false, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return model.StructureMetrics{}, false, rows.Err()
	}
	var m model.StructureMetrics
	if err := rows.Scan(&m.Classes, &m.Functions, &m.Complexity); err != nil {
		return model.StructureMetrics{}, false, err
	}
	return m, true, nil
}

// Diagnostics returns the diagnostics saved in runID, in saved order.
func (s *Store) Diagnostics(ctx context.Context, runID string) ([]model.Diagnostic, error) {
	rows, err := s.query(ctx,
		`SELECT file, rule, line, col, message FROM diagnostics WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Diagnostic
	for rows.Next() {
		var d model.Diagnostic
		if err := rows.Scan(&d.File, &d.RuleKey, &d.Line, &d.Column, &d.Message); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Coverage returns the coverage session summaries saved in runID.
func (s *Store) Coverage(ctx context.Context, runID string) (map[string]coverage.Summary, error) {
	rows, err := s.query(ctx,
		`SELECT session, classes, probes, covered FROM coverage_sessions WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]coverage.Summary)
	for rows.Next() {
		var session string
		var sum coverage.Summary
		if err := rows.Scan(&session, &sum.Classes, &sum.Probes, &sum.Covered); err != nil {
			return nil, err
		}
		out[session] = sum
	}
	return out, rows.Err()
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying store: %w", err)
	}
	return rows, nil
}
