// Package sensor runs the measurement passes over a set of files and hands
// the results to sinks.
package sensor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/phobologic/srcmetrics/internal/cache"
	"github.com/phobologic/srcmetrics/internal/discover"
	"github.com/phobologic/srcmetrics/internal/highlight"
	"github.com/phobologic/srcmetrics/internal/lang"
	"github.com/phobologic/srcmetrics/internal/lex"
	"github.com/phobologic/srcmetrics/internal/log"
	"github.com/phobologic/srcmetrics/internal/measure"
	"github.com/phobologic/srcmetrics/internal/model"
	"github.com/phobologic/srcmetrics/internal/structure"
	"github.com/phobologic/srcmetrics/internal/token"
	"github.com/phobologic/srcmetrics/internal/tracing"
)

// ErrAlreadyDelivered is returned when a file's results are delivered twice
// in one run.
var ErrAlreadyDelivered = errors.New("results already delivered")

// ReadError reports a file that could not be read or decoded. The file is
// skipped; the batch continues.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Options configures a Sensor.
type Options struct {
	// Root is the directory file paths are relative to.
	Root string
	// Encoding is the IANA name of the source charset. Empty means UTF-8.
	Encoding string
	// Measure controls line counting.
	Measure measure.Options
	// Workers bounds concurrent analyses. Zero means GOMAXPROCS.
	Workers int
	// MaxFileSize skips larger files. Zero means no limit.
	MaxFileSize int64
	// Cache, when set, stores and reuses per-file results.
	Cache *cache.Cache
	// Analyzer computes structure metrics. Nil disables them.
	Analyzer structure.Analyzer
	// Tracer records a span per file. Nil disables tracing.
	Tracer trace.Tracer
	// RunID tags the run span.
	RunID string
}

// Sensor analyzes files and delivers their results.
type Sensor struct {
	opts    Options
	decoder encoding.Encoding
	charset string

	mu        sync.Mutex
	delivered map[string]struct{}
}

// New returns a Sensor. It fails when the encoding is unknown.
func New(opts Options) (*Sensor, error) {
	enc, err := lookupEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("noop")
	}
	charset, err := ianaindex.IANA.Name(enc)
	if err != nil {
		charset = strings.ToUpper(cmp.Or(opts.Encoding, "UTF-8"))
	}
	return &Sensor{opts: opts, decoder: enc, charset: charset, delivered: make(map[string]struct{})}, nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return unicode.UTF8, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return enc, nil
}

// cacheOptions is the part of the configuration that changes results.
func (s *Sensor) cacheOptions() string {
	return fmt.Sprintf("ignore_header=%t;structure=%t;encoding=%s",
		s.opts.Measure.IgnoreHeaderComments, s.opts.Analyzer != nil, s.charset)
}

// AnalyzeFile reads and measures one file. It returns a *ReadError when the
// file cannot be read; every other problem is recorded in the result.
func (s *Sensor) AnalyzeFile(ctx context.Context, f discover.FileEntry) (*model.FileResult, error) {
	ctx, span := s.opts.Tracer.Start(ctx, tracing.SpanFile, trace.WithAttributes(
		attribute.String(tracing.AttrFile, f.Path),
		attribute.String(tracing.AttrLanguage, f.Language),
	))
	defer span.End()

	raw, err := s.read(f.Path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, err
	}

	key := cache.KeyFor(f.Language, s.cacheOptions(), filepath.ToSlash(f.Path), raw)
	if r, ok, err := s.opts.Cache.Get(key); err != nil {
		log.Warn(log.CatCache, "cache read failed", "file", f.Path, "error", err)
	} else if ok {
		r.Test = f.Test
		span.SetAttributes(attribute.Bool(tracing.AttrCached, true))
		return r, nil
	}

	text, err := s.decode(raw)
	if err != nil {
		err = &ReadError{Path: f.Path, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, err
	}

	r, err := s.measure(ctx, f, text)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool(tracing.AttrFallback, r.Metrics.Fallback),
		attribute.Int(tracing.AttrNcloc, r.Metrics.LinesOfCode),
		attribute.Int(tracing.AttrComments, r.Metrics.CommentLines),
	)
	if r.Diagnostic != nil {
		span.SetAttributes(attribute.String(tracing.AttrErrorCause, r.Diagnostic.Message))
	}

	if err := s.opts.Cache.Put(key, r); err != nil {
		log.Warn(log.CatCache, "cache write failed", "file", f.Path, "error", err)
	}
	return r, nil
}

func (s *Sensor) read(rel string) ([]byte, error) {
	path := filepath.Join(s.opts.Root, rel)
	if s.opts.MaxFileSize > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, &ReadError{Path: rel, Err: err}
		}
		if info.Size() > s.opts.MaxFileSize {
			return nil, &ReadError{Path: rel, Err: fmt.Errorf("file size %d exceeds limit %d", info.Size(), s.opts.MaxFileSize)}
		}
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from discovery under root
	if err != nil {
		return nil, &ReadError{Path: rel, Err: err}
	}
	return data, nil
}

// decode converts raw bytes to UTF-8 text. A byte order mark overrides the
// configured charset and is dropped.
func (s *Sensor) decode(raw []byte) (string, error) {
	out, _, err := transform.Bytes(unicode.BOMOverride(s.decoder.NewDecoder()), raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// measure runs the metrics, highlighting and structure passes over text.
// All passes share one parse.
func (s *Sensor) measure(ctx context.Context, f discover.FileEntry, text string) (r *model.FileResult, err error) {
	l := lang.Languages[f.Language]
	if l == nil {
		return nil, fmt.Errorf("%s: unsupported language %q", f.Path, f.Language)
	}
	lines := measure.SplitLines(text)
	r = &model.FileResult{Path: f.Path, Language: f.Language, Test: f.Test}

	defer func() {
		if p := recover(); p != nil {
			lexErr := &token.LexError{Err: fmt.Errorf("lexer panic: %v", p)}
			log.Error(log.CatLex, "lexer panicked", "file", f.Path, "panic", p)
			*r = s.failed(f, lines, lexErr)
			err = nil
		}
	}()

	parser := l.NewParser()
	defer parser.Close()
	tree := lex.Parse(ctx, l, parser, []byte(text))
	defer tree.Close()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.Metrics, err = measure.Compute(tree.Tokens(), lines, l.Comments, s.opts.Measure)
	if err != nil {
		log.Debug(log.CatMetrics, "using line-based metrics", "file", f.Path)
		err = nil
	}

	hl := highlight.New(l).Extract(f.Path, tree.Tokens(), lines)
	r.Highlights = hl.Spans
	r.CpdTokens = hl.Cpd
	r.Diagnostic = hl.Diagnostic

	if s.opts.Analyzer != nil {
		classes, aerr := s.opts.Analyzer.Analyze(ctx, tree)
		if aerr != nil {
			log.Debug(log.CatStructure, "skipping structure metrics", "file", f.Path, "error", aerr)
		} else {
			m := structure.Aggregate(classes)
			r.Structure = &m
		}
	}
	return r, nil
}

// failed builds the result of a file whose tokenizer could not run at all.
func (s *Sensor) failed(f discover.FileEntry, lines []string, lexErr error) model.FileResult {
	l := lang.Languages[f.Language]
	fail := token.NewReplay(nil, nil).FailAt(0, lexErr)
	return model.FileResult{
		Path:       f.Path,
		Language:   f.Language,
		Test:       f.Test,
		Metrics:    measure.Scan(lines, l.Comments, s.opts.Measure),
		Diagnostic: highlight.New(l).Extract(f.Path, fail, lines).Diagnostic,
	}
}

// Deliver hands r to sink. Metrics are saved only when at least one line was
// classified. Structure, highlighting and CPD tokens are saved only when
// non-empty, and CPD tokens never for test files. A file can be delivered once per Sensor.
func (s *Sensor) Deliver(ctx context.Context, sink Sink, r *model.FileResult) error {
	s.mu.Lock()
	if _, ok := s.delivered[r.Path]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", r.Path, ErrAlreadyDelivered)
	}
	s.delivered[r.Path] = struct{}{}
	s.mu.Unlock()

	var errs []error
	if r.Metrics.Classified() {
		errs = append(errs, sink.SaveMetrics(ctx, r.Path, r.Metrics))
	}
	if r.Structure != nil && *r.Structure != (model.StructureMetrics{}) {
		errs = append(errs, sink.SaveStructure(ctx, r.Path, *r.Structure))
	}
	if len(r.Highlights) > 0 {
		errs = append(errs, sink.SaveHighlighting(ctx, r.Path, r.Highlights))
	}
	if len(r.CpdTokens) > 0 && !r.Test {
		errs = append(errs, sink.SaveCpdTokens(ctx, r.Path, r.CpdTokens))
	}
	if r.Diagnostic != nil {
		errs = append(errs, sink.SaveDiagnostic(ctx, *r.Diagnostic))
	}
	return errors.Join(errs...)
}

// Run analyzes files on a bounded worker pool and delivers the results to
// sink in input order. Files that cannot be read or analyzed are logged and
// left out. Run stops early only when ctx is canceled or a sink fails.
func (s *Sensor) Run(ctx context.Context, files []discover.FileEntry, sink Sink) ([]model.FileResult, error) {
	ctx, span := s.opts.Tracer.Start(ctx, tracing.SpanRun, trace.WithAttributes(
		attribute.Int(tracing.AttrFiles, len(files)),
		attribute.String(tracing.AttrRunID, s.opts.RunID),
	))
	defer span.End()

	results := make([]*model.FileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := s.AnalyzeFile(gctx, f)
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				var readErr *ReadError
				if errors.As(err, &readErr) {
					log.Warn(log.CatSensor, "skipping unreadable file", "file", f.Path, "error", readErr.Err)
				} else {
					log.Warn(log.CatSensor, "skipping file", "file", f.Path, "error", err)
				}
				return nil
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	_, dspan := s.opts.Tracer.Start(ctx, tracing.SpanDeliver)
	defer dspan.End()
	out := make([]model.FileResult, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		if err := s.Deliver(ctx, sink, r); err != nil {
			dspan.RecordError(err)
			return out, err
		}
		out = append(out, *r)
	}
	return out, nil
}
