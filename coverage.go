package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/phobologic/srcmetrics/internal/coverage"
	"github.com/phobologic/srcmetrics/internal/log"
	"github.com/phobologic/srcmetrics/internal/report"
	"github.com/phobologic/srcmetrics/internal/store"
	"github.com/phobologic/srcmetrics/internal/tracing"
)

const (
	// mergedSessionID names the session written to merged output files.
	mergedSessionID = "merged"
	// mergedStoreKey keys the merged summary in the store.
	mergedStoreKey = "*"
)

func (c *cli) coverageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Work with JaCoCo execution data files",
	}

	var output string
	merge := &cobra.Command{
		Use:   "merge [flags] file...",
		Short: "Merge execution data files and summarize probe coverage",
		Long: `Read one or more JaCoCo .exec files, merge the probe hits of every class
across sessions and print per-session and merged summaries. With --output the
merged data is written back as a single-session .exec file; classes without any
hit are left out.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCoverageMerge(cmd.Context(), args, output)
		},
	}
	merge.Flags().StringVarP(&output, "output", "o", "", "write merged execution data to this file")

	cmd.AddCommand(merge)
	return cmd
}

func (c *cli) runCoverageMerge(ctx context.Context, paths []string, output string) error {
	traces, err := tracing.NewProvider(ctx, c.cfg.Tracing)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer func() { _ = traces.Shutdown(context.WithoutCancel(ctx)) }()

	ctx, span := traces.Tracer().Start(ctx, tracing.SpanCoverage,
		trace.WithAttributes(attribute.Int(tracing.AttrFiles, len(paths))))
	defer span.End()

	m := coverage.NewMerger()
	for _, p := range paths {
		if err := readExecFile(p, m); err != nil {
			span.RecordError(err)
			return err
		}
	}

	rep := &report.CoverageReport{Merged: m.Merged().Summarize()}
	for _, id := range m.SessionIDs() {
		sum := m.Sessions()[id].Summarize()
		span.AddEvent("session", trace.WithAttributes(attribute.String(tracing.AttrSessionID, id)))
		rep.Sessions = append(rep.Sessions, report.CoverageSession{ID: id, Summary: sum})
	}

	if output != "" {
		if err := writeExecFile(output, m.Merged()); err != nil {
			return err
		}
	}
	if c.cfg.Store != "" {
		if err := saveCoverage(ctx, c.cfg.Store, paths, rep); err != nil {
			return err
		}
	}
	return report.EncodeCoverage(c.stdout, c.cfg.Format, rep)
}

func readExecFile(path string, v coverage.Visitor) error {
	f, err := os.Open(path) //nolint:gosec // user-supplied input file
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	log.Debug(log.CatCoverage, "Reading execution data", "file", path)
	if err := coverage.NewReader(f).Read(v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func writeExecFile(path string, s *coverage.Store) (err error) {
	f, err := os.Create(path) //nolint:gosec // user-supplied output file
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	now := time.Now().UnixMilli()
	w := coverage.NewWriter(f)
	if err := w.WriteStore(coverage.SessionInfo{ID: mergedSessionID, Start: now, Dump: now}, s); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.Info(log.CatCoverage, "Wrote merged execution data", "file", path, "classes", s.Len())
	return nil
}

func saveCoverage(ctx context.Context, dbPath string, paths []string, rep *report.CoverageReport) error {
	st, err := store.Open(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	root := "coverage"
	if len(paths) == 1 {
		root = paths[0]
	}
	if _, err := st.StartRun(ctx, root); err != nil {
		return err
	}
	for _, s := range rep.Sessions {
		if err := st.SaveCoverage(ctx, s.ID, s.Summary); err != nil {
			return err
		}
	}
	return st.SaveCoverage(ctx, mergedStoreKey, rep.Merged)
}
