package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phobologic/srcmetrics/internal/log"
	"github.com/phobologic/srcmetrics/internal/watch"
)

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [flags] [root]",
		Short: "Measure the repository, then re-measure files as they change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWatch(cmd.Context(), rootArg(args), nil)
		},
	}
}

// runWatch analyzes the whole tree once and then every debounced batch of
// changed files until ctx is done. ready, when set, is closed once the
// watcher is running.
func (c *cli) runWatch(ctx context.Context, arg string, ready chan<- struct{}) error {
	root, err := resolveRoot(arg)
	if err != nil {
		return err
	}
	a, err := c.openAnalyzer(ctx, root)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	if err := c.analyzeAndReport(ctx, a, nil); err != nil && !errors.Is(err, errNoFiles) {
		return err
	}

	w, err := watch.New(watch.Config{Root: root, Debounce: c.cfg.Watch.Debounce})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()
	changes, err := w.Start()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.stderr, "watching %s\n", root)
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch := <-changes:
			log.Debug(log.CatWatch, "re-analyzing", "files", len(batch))
			err := c.analyzeAndReport(ctx, a, batch)
			switch {
			case errors.Is(err, errNoFiles):
			case ctx.Err() != nil:
				return nil
			case err != nil:
				_, _ = fmt.Fprintf(c.stderr, "error: %v\n", err)
			}
		}
	}
}
