// Package store persists measurements in a SQLite database. Each analysis
// run is recorded under its own id so runs can be compared.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/phobologic/srcmetrics/internal/coverage"
	"github.com/phobologic/srcmetrics/internal/log"
	"github.com/phobologic/srcmetrics/internal/model"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// ErrNoRun is returned when measurements are saved before StartRun.
var ErrNoRun = errors.New("no run started")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	root TEXT NOT NULL,
	started_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS file_metrics (
	run_id TEXT NOT NULL REFERENCES runs(id),
	file TEXT NOT NULL,
	ncloc INTEGER NOT NULL,
	comment_lines INTEGER NOT NULL,
	lines INTEGER NOT NULL,
	fallback INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, file)
);

CREATE TABLE IF NOT EXISTS code_lines (
	run_id TEXT NOT NULL,
	file TEXT NOT NULL,
	line INTEGER NOT NULL,
	PRIMARY KEY (run_id, file, line)
);

CREATE TABLE IF NOT EXISTS structure (
	run_id TEXT NOT NULL REFERENCES runs(id),
	file TEXT NOT NULL,
	classes INTEGER NOT NULL,
	functions INTEGER NOT NULL,
	complexity INTEGER NOT NULL,
	PRIMARY KEY (run_id, file)
);

CREATE TABLE IF NOT EXISTS highlights (
	run_id TEXT NOT NULL,
	file TEXT NOT NULL,
	seq INTEGER NOT NULL,
	start_line INTEGER NOT NULL,
	start_column INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	end_column INTEGER NOT NULL,
	type TEXT NOT NULL,
	PRIMARY KEY (run_id, file, seq)
);

CREATE TABLE IF NOT EXISTS cpd_tokens (
	run_id TEXT NOT NULL,
	file TEXT NOT NULL,
	seq INTEGER NOT NULL,
	start_line INTEGER NOT NULL,
	start_column INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	end_column INTEGER NOT NULL,
	text TEXT NOT NULL,
	PRIMARY KEY (run_id, file, seq)
);

CREATE TABLE IF NOT EXISTS diagnostics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	file TEXT NOT NULL,
	rule TEXT NOT NULL,
	line INTEGER NOT NULL,
	col INTEGER NOT NULL,
	message TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS coverage_sessions (
	run_id TEXT NOT NULL,
	session TEXT NOT NULL,
	classes INTEGER NOT NULL,
	probes INTEGER NOT NULL,
	covered INTEGER NOT NULL,
	PRIMARY KEY (run_id, session)
);
`

// Store is a SQLite-backed measurement sink. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	runID  string
	closed bool
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	log.Debug(log.CatStore, "Opening database", "path", path)
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		log.ErrorErr(log.CatStore, "Failed to open database", err, "path", path)
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		log.ErrorErr(log.CatStore, "Failed to ping database", err, "path", path)
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// StartRun records a new run over root and makes it current. Later saves
// are attributed to it.
func (s *Store) StartRun(ctx context.Context, root string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	id := uuid.New().String()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, root, started_at) VALUES (?, ?, ?)`,
		id, root, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	s.runID = id
	log.Info(log.CatStore, "Started run", "id", id, "root", root)
	return id, nil
}

// RunID returns the current run id.
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// tx runs fn in a transaction bound to the current run.
func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx, runID string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.runID == "" {
		return ErrNoRun
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx, s.runID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SaveMetrics stores the size metrics and code lines of file.
func (s *Store) SaveMetrics(ctx context.Context, file string, m model.FileMetrics) error {
	return s.tx(ctx, func(tx *sql.Tx, runID string) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO file_metrics (run_id, file, ncloc, comment_lines, lines, fallback) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, file, m.LinesOfCode, m.CommentLines, m.TotalLines, m.Fallback); err != nil {
			return fmt.Errorf("saving metrics of %s: %w", file, err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO code_lines (run_id, file, line) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for _, line := range m.CodeLines.Lines() {
			if _, err := stmt.ExecContext(ctx, runID, file, line); err != nil {
				return fmt.Errorf("saving code lines of %s: %w", file, err)
			}
		}
		return nil
	})
}

// SaveStructure stores the structure metrics of file.
func (s *Store) SaveStructure(ctx context.Context, file string, m model.StructureMetrics) error {
	return s.tx(ctx, func(tx *sql.Tx, runID string) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO structure (run_id, file, classes, functions, complexity) VALUES (?, ?, ?, ?, ?)`,
			runID, file, m.Classes, m.Functions, m.Complexity)
		if err != nil {
			return fmt.Errorf("saving structure of %s: %w", file, err)
		}
		return nil
	})
}

// SaveHighlighting stores the highlight spans of file in order.
func (s *Store) SaveHighlighting(ctx context.Context, file string, spans []model.HighlightSpan) error {
	return s.tx(ctx, func(tx *sql.Tx, runID string) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO highlights
			(run_id, file, seq, start_line, start_column, end_line, end_column, type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for i, sp := range spans {
			if _, err := stmt.ExecContext(ctx, runID, file, i,
				sp.StartLine, sp.StartColumn, sp.EndLine, sp.EndColumn, string(sp.Type)); err != nil {
				return fmt.Errorf("saving highlighting of %s: %w", file, err)
			}
		}
		return nil
	})
}

// SaveCpdTokens stores the duplicate-detection tokens of file in order.
func (s *Store) SaveCpdTokens(ctx context.Context, file string, tokens []model.CpdToken) error {
	return s.tx(ctx, func(tx *sql.Tx, runID string) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO cpd_tokens
			(run_id, file, seq, start_line, start_column, end_line, end_column, text)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for i, t := range tokens {
			if _, err := stmt.ExecContext(ctx, runID, file, i,
				t.StartLine, t.StartColumn, t.EndLine, t.EndColumn, t.Text); err != nil {
				return fmt.Errorf("saving cpd tokens of %s: %w", file, err)
			}
		}
		return nil
	})
}

// SaveDiagnostic stores d.
func (s *Store) SaveDiagnostic(ctx context.Context, d model.Diagnostic) error {
	return s.tx(ctx, func(tx *sql.Tx, runID string) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO diagnostics (run_id, file, rule, line, col, message) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, d.File, d.RuleKey, d.Line, d.Column, d.Message)
		if err != nil {
			return fmt.Errorf("saving diagnostic of %s: %w", d.File, err)
		}
		return nil
	})
}

// SaveCoverage stores the probe summary of a coverage session.
func (s *Store) SaveCoverage(ctx context.Context, session string, sum coverage.Summary) error {
	return s.tx(ctx, func(tx *sql.Tx, runID string) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO coverage_sessions (run_id, session, classes, probes, covered) VALUES (?, ?, ?, ?, ?)`,
			runID, session, sum.Classes, sum.Probes, sum.Covered)
		if err != nil {
			return fmt.Errorf("saving coverage of %s: %w", session, err)
		}
		return nil
	})
}
