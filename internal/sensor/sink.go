package sensor

import (
	"context"
	"errors"

	"github.com/phobologic/srcmetrics/internal/model"
)

// Sink receives the measurements of analyzed files. Every method is called
// at most once per file and run.
type Sink interface {
	SaveMetrics(ctx context.Context, file string, m model.FileMetrics) error
	SaveStructure(ctx context.Context, file string, s model.StructureMetrics) error
	SaveHighlighting(ctx context.Context, file string, spans []model.HighlightSpan) error
	SaveCpdTokens(ctx context.Context, file string, tokens []model.CpdToken) error
	SaveDiagnostic(ctx context.Context, d model.Diagnostic) error
}

// Tee fans every call out to all sinks in order. All sinks are called even
// when one fails; the errors are joined.
type Tee []Sink

func (t Tee) SaveMetrics(ctx context.Context, file string, m model.FileMetrics) error {
	return t.each(func(s Sink) error { return s.SaveMetrics(ctx, file, m) })
}

func (t Tee) SaveStructure(ctx context.Context, file string, m model.StructureMetrics) error {
	return t.each(func(s Sink) error { return s.SaveStructure(ctx, file, m) })
}

func (t Tee) SaveHighlighting(ctx context.Context, file string, spans []model.HighlightSpan) error {
	return t.each(func(s Sink) error { return s.SaveHighlighting(ctx, file, spans) })
}

func (t Tee) SaveCpdTokens(ctx context.Context, file string, tokens []model.CpdToken) error {
	return t.each(func(s Sink) error { return s.SaveCpdTokens(ctx, file, tokens) })
}

func (t Tee) SaveDiagnostic(ctx context.Context, d model.Diagnostic) error {
	return t.each(func(s Sink) error { return s.SaveDiagnostic(ctx, d) })
}

func (t Tee) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range t {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) SaveMetrics(context.Context, string, model.FileMetrics) error { return nil }
func (Discard) SaveStructure(context.Context, string, model.StructureMetrics) error { return nil }
func (Discard) SaveHighlighting(context.Context, string, []model.HighlightSpan) error { return nil }
func (Discard) SaveCpdTokens(context.Context, string, []model.CpdToken) error { return nil }
func (Discard) SaveDiagnostic(context.Context, model.Diagnostic) error { return nil }
