package sensor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/srcmetrics/internal/cache"
	"github.com/phobologic/srcmetrics/internal/discover"
	"github.com/phobologic/srcmetrics/internal/measure"
	"github.com/phobologic/srcmetrics/internal/model"
	"github.com/phobologic/srcmetrics/internal/structure"
)

// recorder is a Sink that records every call.
type recorder struct {
	mu          sync.Mutex
	calls       []string
	metrics     map[string]model.FileMetrics
	structure   map[string]model.StructureMetrics
	highlights  map[string][]model.HighlightSpan
	cpd         map[string][]model.CpdToken
	diagnostics []model.Diagnostic
	fail        error
}

func newRecorder() *recorder {
	return &recorder{
		metrics:    map[string]model.FileMetrics{},
		structure:  map[string]model.StructureMetrics{},
		highlights: map[string][]model.HighlightSpan{},
		cpd:        map[string][]model.CpdToken{},
	}
}

func (r *recorder) record(call string) error {
	r.calls = append(r.calls, call)
	return r.fail
}

func (r *recorder) SaveMetrics(_ context.Context, file string, m model.FileMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[file] = m
	return r.record("metrics:" + file)
}

func (r *recorder) SaveStructure(_ context.Context, file string, m model.StructureMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.structure[file] = m
	return r.record("structure:" + file)
}

func (r *recorder) SaveHighlighting(_ context.Context, file string, spans []model.HighlightSpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.highlights[file] = spans
	return r.record("highlight:" + file)
}

func (r *recorder) SaveCpdTokens(_ context.Context, file string, tokens []model.CpdToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cpd[file] = tokens
	return r.record("cpd:" + file)
}

func (r *recorder) SaveDiagnostic(_ context.Context, d model.Diagnostic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics = append(r.diagnostics, d)
	return r.record("diagnostic:" + d.File)
}

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func newSensor(t *testing.T, opts Options) *Sensor {
	t.Helper()
	if opts.Analyzer == nil {
		opts.Analyzer = structure.TreeSitter{}
	}
	if opts.Measure == (measure.Options{}) {
		opts.Measure = measure.DefaultOptions()
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

const javaSource = `// Licensed to someone
package demo;

/**
 * Greeter.
 */
public class Greeter {
    String greet(String name) {
        if (name == null) {
            return "nobody";
        }
        return "hi " + name;
    }
}
`

func TestAnalyzeFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "src/Greeter.java", []byte(javaSource))
	s := newSensor(t, Options{Root: root})

	r, err := s.AnalyzeFile(context.Background(), discover.FileEntry{Path: "src/Greeter.java", Language: "java"})
	require.NoError(t, err)

	assert.False(t, r.Metrics.Fallback)
	assert.Equal(t, 9, r.Metrics.LinesOfCode)
	// The header is ignored; the doc comment has one line of text.
	assert.Equal(t, 1, r.Metrics.CommentLines)
	assert.Equal(t, 14, r.Metrics.TotalLines)
	assert.Nil(t, r.Diagnostic)

	require.NotNil(t, r.Structure)
	assert.Equal(t, model.StructureMetrics{Classes: 1, Functions: 1, Complexity: 2}, *r.Structure)

	var structured, strings int
	for _, sp := range r.Highlights {
		switch sp.Type {
		case model.StructuredComment:
			structured++
			assert.Equal(t, 4, sp.StartLine)
			assert.Equal(t, 6, sp.EndLine)
		case model.String:
			strings++
		}
	}
	assert.Equal(t, 1, structured)
	assert.Equal(t, 2, strings)
	assert.NotEmpty(t, r.CpdTokens)
}

func TestAnalyzeFileLexerFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "bad.go", []byte("package bad\n\n// note\nfunc f() {\n\tx := @@@\n}\n"))
	s := newSensor(t, Options{Root: root})

	r, err := s.AnalyzeFile(context.Background(), discover.FileEntry{Path: "bad.go", Language: "go"})
	require.NoError(t, err)
	assert.True(t, r.Metrics.Fallback)
	assert.Equal(t, 4, r.Metrics.LinesOfCode)
	assert.Equal(t, 1, r.Metrics.CommentLines)
	require.NotNil(t, r.Diagnostic)
	assert.Equal(t, model.LexerFailureRule, r.Diagnostic.RuleKey)
	assert.Equal(t, "bad.go", r.Diagnostic.File)
	assert.Empty(t, r.Highlights)
	assert.Empty(t, r.CpdTokens)
	assert.Nil(t, r.Structure)
}

func TestAnalyzeFileCharset(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	// "é" in ISO-8859-1 is the single byte 0xE9.
	writeFile(t, root, "a.py", []byte("s = 'caf\xe9'\n"))
	s := newSensor(t, Options{Root: root, Encoding: "ISO-8859-1"})

	r, err := s.AnalyzeFile(context.Background(), discover.FileEntry{Path: "a.py", Language: "python"})
	require.NoError(t, err)
	require.Nil(t, r.Diagnostic)
	var str *model.HighlightSpan
	for i := range r.Highlights {
		if r.Highlights[i].Type == model.String {
			str = &r.Highlights[i]
		}
	}
	require.NotNil(t, str)
	assert.Equal(t, 4, str.StartColumn)
	assert.Equal(t, 10, str.EndColumn)
}

func TestAnalyzeFileStripsBOM(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.rb", append([]byte{0xEF, 0xBB, 0xBF}, "x = 1\n"...))
	s := newSensor(t, Options{Root: root})

	r, err := s.AnalyzeFile(context.Background(), discover.FileEntry{Path: "a.rb", Language: "ruby"})
	require.NoError(t, err)
	require.NotEmpty(t, r.CpdTokens)
	assert.Equal(t, "x", r.CpdTokens[0].Text)
	assert.Equal(t, 0, r.CpdTokens[0].StartColumn)
}

func TestUnknownEncoding(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Encoding: "no-such-charset"})
	require.Error(t, err)
}

func TestAnalyzeFileReadErrors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "big.go", []byte("package big\n"))
	s := newSensor(t, Options{Root: root, MaxFileSize: 4})

	_, err := s.AnalyzeFile(context.Background(), discover.FileEntry{Path: "missing.go", Language: "go"})
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "missing.go", readErr.Path)

	_, err = s.AnalyzeFile(context.Background(), discover.FileEntry{Path: "big.go", Language: "go"})
	require.ErrorAs(t, err, &readErr)
}

func TestDeliverSkipsEmpty(t *testing.T) {
	t.Parallel()

	s := newSensor(t, Options{})
	rec := newRecorder()
	require.NoError(t, s.Deliver(context.Background(), rec, &model.FileResult{Path: "empty.go"}))
	assert.Empty(t, rec.calls)
}

func TestDeliverExcludesCpdForTests(t *testing.T) {
	t.Parallel()

	s := newSensor(t, Options{})
	rec := newRecorder()
	r := &model.FileResult{
		Path:       "a_test.go",
		Test:       true,
		Metrics:    model.FileMetrics{LinesOfCode: 1, TotalLines: 1},
		Highlights: []model.HighlightSpan{{StartLine: 1, EndLine: 1, EndColumn: 4, Type: model.Keyword}},
		CpdTokens:  []model.CpdToken{{StartLine: 1, EndLine: 1, EndColumn: 4, Text: "func"}},
	}
	require.NoError(t, s.Deliver(context.Background(), rec, r))
	assert.Equal(t, []string{"metrics:a_test.go", "highlight:a_test.go"}, rec.calls)
}

func TestDeliverOnce(t *testing.T) {
	t.Parallel()

	s := newSensor(t, Options{})
	rec := newRecorder()
	r := &model.FileResult{Path: "a.go", Metrics: model.FileMetrics{CommentLines: 1}}
	require.NoError(t, s.Deliver(context.Background(), rec, r))
	err := s.Deliver(context.Background(), rec, r)
	require.ErrorIs(t, err, ErrAlreadyDelivered)
	assert.Equal(t, []string{"metrics:a.go"}, rec.calls)
}

func TestRun(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", []byte("package a\n\nfunc A() {}\n"))
	writeFile(t, root, "b.py", []byte("# comment only\n"))
	writeFile(t, root, "c.rb", []byte("def c\n  1\nend\n"))
	writeFile(t, root, "c_test.go", []byte("package a\n"))
	writeFile(t, root, "empty.go", nil)

	files := []discover.FileEntry{
		{Path: "a.go", Language: "go"},
		{Path: "b.py", Language: "python"},
		{Path: "c.rb", Language: "ruby"},
		{Path: "c_test.go", Language: "go", Test: true},
		{Path: "empty.go", Language: "go"},
		{Path: "gone.go", Language: "go"},
	}
	s := newSensor(t, Options{Root: root, Workers: 2})
	rec := newRecorder()

	results, err := s.Run(context.Background(), files, rec)
	require.NoError(t, err)

	var paths []string
	for _, r := range results {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"a.go", "b.py", "c.rb", "c_test.go", "empty.go"}, paths)

	assert.Contains(t, rec.metrics, "a.go")
	assert.NotContains(t, rec.metrics, "b.py", "header comment is ignored, nothing classified")
	assert.NotContains(t, rec.metrics, "empty.go")
	assert.Contains(t, rec.cpd, "a.go")
	assert.NotContains(t, rec.cpd, "c_test.go")
	assert.Contains(t, rec.highlights, "c_test.go")
	assert.Equal(t, model.StructureMetrics{Functions: 1, Complexity: 1}, rec.structure["c.rb"])
}

func TestRunSinkFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", []byte("package a\n"))
	s := newSensor(t, Options{Root: root})
	rec := newRecorder()
	rec.fail = errors.New("disk full")

	_, err := s.Run(context.Background(), []discover.FileEntry{{Path: "a.go", Language: "go"}}, rec)
	require.ErrorContains(t, err, "disk full")
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", []byte("package a\n"))
	s := newSensor(t, Options{Root: root})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Run(ctx, []discover.FileEntry{{Path: "a.go", Language: "go"}}, Discard{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunUsesCache(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "Greeter.java", []byte(javaSource))
	c, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	files := []discover.FileEntry{{Path: "Greeter.java", Language: "java"}}

	first, err := newSensor(t, Options{Root: root, Cache: c}).Run(context.Background(), files, Discard{})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.False(t, first[0].Cached)

	second, err := newSensor(t, Options{Root: root, Cache: c}).Run(context.Background(), files, Discard{})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.True(t, second[0].Cached)
	assert.Equal(t, first[0].Metrics.LinesOfCode, second[0].Metrics.LinesOfCode)
	assert.Equal(t, first[0].Highlights, second[0].Highlights)

	// Changing the content misses the cache.
	writeFile(t, root, "Greeter.java", []byte(javaSource+"\n// trailing\n"))
	third, err := newSensor(t, Options{Root: root, Cache: c}).Run(context.Background(), files, Discard{})
	require.NoError(t, err)
	assert.False(t, third[0].Cached)
}

func TestCacheKeyIncludesEncoding(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.py", []byte("s = 'café'\n"))
	c, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	entry := discover.FileEntry{Path: "a.py", Language: "python"}

	stringEnd := func(r *model.FileResult) int {
		for _, h := range r.Highlights {
			if h.Type == model.String {
				return h.EndColumn
			}
		}
		t.Fatalf("no string span in %+v", r.Highlights)
		return 0
	}

	utf8, err := newSensor(t, Options{Root: root, Cache: c}).AnalyzeFile(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, utf8.Cached)
	assert.Equal(t, 10, stringEnd(utf8))

	// The same bytes read as ISO-8859-1 decode "é" to two runes.
	latin1, err := newSensor(t, Options{Root: root, Cache: c, Encoding: "ISO-8859-1"}).AnalyzeFile(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, latin1.Cached)
	assert.Equal(t, 11, stringEnd(latin1))

	again, err := newSensor(t, Options{Root: root, Cache: c, Encoding: "UTF-8"}).AnalyzeFile(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, 10, stringEnd(again))
}

func TestRunSkipsUnsupportedLanguage(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", []byte("package a\n\nfunc A() {}\n"))
	writeFile(t, root, "b.cob", []byte("IDENTIFICATION DIVISION.\n"))
	writeFile(t, root, "c.go", []byte("package c\n\nfunc C() {}\n"))
	files := []discover.FileEntry{
		{Path: "a.go", Language: "go"},
		{Path: "b.cob", Language: "cobol"},
		{Path: "c.go", Language: "go"},
	}
	rec := newRecorder()

	results, err := newSensor(t, Options{Root: root, Workers: 1}).Run(context.Background(), files, rec)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.go", results[0].Path)
	assert.Equal(t, "c.go", results[1].Path)
	assert.Contains(t, rec.metrics, "c.go")
}

func TestTee(t *testing.T) {
	t.Parallel()

	a, b := newRecorder(), newRecorder()
	a.fail = errors.New("a failed")
	tee := Tee{a, b}

	err := tee.SaveMetrics(context.Background(), "x.go", model.FileMetrics{LinesOfCode: 1})
	require.ErrorContains(t, err, "a failed")
	assert.Contains(t, b.metrics, "x.go", "later sinks still run")

	require.NoError(t, Tee{b}.SaveDiagnostic(context.Background(), model.Diagnostic{File: "x.go"}))
	assert.Len(t, b.diagnostics, 1)
}
