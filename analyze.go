package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/phobologic/srcmetrics/internal/cache"
	"github.com/phobologic/srcmetrics/internal/config"
	"github.com/phobologic/srcmetrics/internal/discover"
	"github.com/phobologic/srcmetrics/internal/measure"
	"github.com/phobologic/srcmetrics/internal/model"
	"github.com/phobologic/srcmetrics/internal/sensor"
	"github.com/phobologic/srcmetrics/internal/store"
	"github.com/phobologic/srcmetrics/internal/structure"
	"github.com/phobologic/srcmetrics/internal/tracing"
)

// analyzer owns the resources that outlive a single run: the result cache,
// the measurement store and the trace provider.
type analyzer struct {
	cfg    config.Config
	root   string
	stderr io.Writer
	cache  *cache.Cache
	store  *store.Store
	traces *tracing.Provider
}

func newAnalyzer(ctx context.Context, cfg config.Config, root string, stderr io.Writer) (*analyzer, error) {
	traces, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("starting tracing: %w", err)
	}
	a := &analyzer{cfg: cfg, root: root, stderr: stderr, traces: traces}

	if cfg.CacheDir != "" {
		if a.cache, err = cache.Open(cfg.CacheDir); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}
	if cfg.Store != "" {
		if a.store, err = store.Open(ctx, cfg.Store); err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("opening store: %w", err)
		}
	}
	return a, nil
}

// Close releases the store and flushes pending spans.
func (a *analyzer) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.traces.Shutdown(ctx))
	return errors.Join(errs...)
}

// analyze runs one measurement pass over files. Each pass is a new run in
// the store, so a file is delivered once per pass.
func (a *analyzer) analyze(ctx context.Context, files []discover.FileEntry) (*model.Report, error) {
	runID := uuid.NewString()
	var sink sensor.Sink = diagnosticPrinter{w: a.stderr}
	if a.store != nil {
		id, err := a.store.StartRun(ctx, a.root)
		if err != nil {
			return nil, err
		}
		runID = id
		sink = sensor.Tee{sink, a.store}
	}

	var shape structure.Analyzer
	if a.cfg.Structure {
		shape = structure.TreeSitter{}
	}
	s, err := sensor.New(sensor.Options{
		Root:        a.root,
		Encoding:    a.cfg.Encoding,
		Measure:     measure.Options{IgnoreHeaderComments: a.cfg.IgnoreHeaderComments},
		Workers:     a.cfg.Workers,
		MaxFileSize: a.cfg.MaxFileSize,
		Cache:       a.cache,
		Analyzer:    shape,
		Tracer:      a.traces.Tracer(),
		RunID:       runID,
	})
	if err != nil {
		return nil, err
	}

	results, err := s.Run(ctx, files, sink)
	if err != nil {
		return nil, err
	}
	rep := &model.Report{RunID: runID, Root: filepath.Base(a.root), Files: results}
	rep.Summarize()
	return rep, nil
}

// diagnosticPrinter is a sink that prints diagnostics as warnings.
type diagnosticPrinter struct {
	sensor.Discard
	w io.Writer
}

var warnPrefix = color.New(color.FgYellow).SprintFunc()

func (p diagnosticPrinter) SaveDiagnostic(_ context.Context, d model.Diagnostic) error {
	_, err := fmt.Fprintf(p.w, "%s %s:%d:%d: %s [%s]\n", warnPrefix("warning:"), d.File, d.Line, d.Column, d.Message, d.RuleKey)
	return err
}
