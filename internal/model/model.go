// Package model defines the measurement results produced for each file.
package model

import "sort"

// LineRecord maps a 1-based line number to whether it holds code.
type LineRecord map[int]bool

// Lines returns the recorded code lines in ascending order.
func (r LineRecord) Lines() []int {
	lines := make([]int, 0, len(r))
	for line, code := range r {
		if code {
			lines = append(lines, line)
		}
	}
	sort.Ints(lines)
	return lines
}

// FileMetrics holds the size measurements of one file.
type FileMetrics struct {
	LinesOfCode  int        `json:"ncloc" yaml:"ncloc" msgpack:"ncloc"`
	CommentLines int        `json:"comment_lines" yaml:"comment_lines" msgpack:"comment_lines"`
	CodeLines    LineRecord `json:"-" yaml:"-" msgpack:"code_lines"`
	TotalLines   int        `json:"lines" yaml:"lines" msgpack:"lines"`
	// Fallback is set when the metrics come from the line scanner because
	// the lexer failed.
	Fallback bool `json:"fallback,omitempty" yaml:"fallback,omitempty" msgpack:"fallback"`
}

// Classified reports whether at least one line was counted as code or comment.
func (m FileMetrics) Classified() bool {
	return m.LinesOfCode > 0 || m.CommentLines > 0
}

// TextType is the display category of a highlight span.
type TextType string

const (
	Comment           TextType = "COMMENT"
	StructuredComment TextType = "STRUCTURED_COMMENT"
	String            TextType = "STRING"
	Keyword           TextType = "KEYWORD"
	None              TextType = "NONE"
)

// HighlightSpan is a highlighted source range. Columns are 0-based and the
// end column is exclusive.
type HighlightSpan struct {
	StartLine   int      `json:"start_line" yaml:"start_line" msgpack:"sl"`
	StartColumn int      `json:"start_column" yaml:"start_column" msgpack:"sc"`
	EndLine     int      `json:"end_line" yaml:"end_line" msgpack:"el"`
	EndColumn   int      `json:"end_column" yaml:"end_column" msgpack:"ec"`
	Type        TextType `json:"type" yaml:"type" msgpack:"t"`
}

// CpdToken is a token for duplicate detection, positioned like HighlightSpan.
type CpdToken struct {
	StartLine   int    `json:"start_line" yaml:"start_line" msgpack:"sl"`
	StartColumn int    `json:"start_column" yaml:"start_column" msgpack:"sc"`
	EndLine     int    `json:"end_line" yaml:"end_line" msgpack:"el"`
	EndColumn   int    `json:"end_column" yaml:"end_column" msgpack:"ec"`
	Text        string `json:"text" yaml:"text" msgpack:"v"`
}

// LexerFailureRule is the rule key of diagnostics raised on lexer failures.
const LexerFailureRule = "lexer-failure"

// Diagnostic reports a problem found while processing a file. Line and
// Column are 1-based.
type Diagnostic struct {
	File    string `json:"file" yaml:"file" msgpack:"file"`
	RuleKey string `json:"rule" yaml:"rule" msgpack:"rule"`
	Line    int    `json:"line" yaml:"line" msgpack:"line"`
	Column  int    `json:"column" yaml:"column" msgpack:"column"`
	Message string `json:"message" yaml:"message" msgpack:"message"`
}

// StructureMetrics aggregates class-level results for one file.
type StructureMetrics struct {
	Classes    int `json:"classes" yaml:"classes" msgpack:"classes"`
	Functions  int `json:"functions" yaml:"functions" msgpack:"functions"`
	Complexity int `json:"complexity" yaml:"complexity" msgpack:"complexity"`
}

// FileResult is everything computed for a single file.
type FileResult struct {
	Path       string            `json:"path" yaml:"path" msgpack:"path"`
	Language   string            `json:"language" yaml:"language" msgpack:"language"`
	Test       bool              `json:"test,omitempty" yaml:"test,omitempty" msgpack:"test"`
	Metrics    FileMetrics       `json:"metrics" yaml:"metrics" msgpack:"metrics"`
	Structure  *StructureMetrics `json:"structure,omitempty" yaml:"structure,omitempty" msgpack:"structure"`
	Highlights []HighlightSpan   `json:"-" yaml:"-" msgpack:"highlights"`
	CpdTokens  []CpdToken        `json:"-" yaml:"-" msgpack:"cpd"`
	Diagnostic *Diagnostic       `json:"diagnostic,omitempty" yaml:"diagnostic,omitempty" msgpack:"diagnostic"`
	// Cached is set when the result was loaded from the result cache.
	Cached bool `json:"-" yaml:"-" msgpack:"-"`
}

// Totals sums measurements over a run.
type Totals struct {
	Files        int `json:"files" yaml:"files"`
	LinesOfCode  int `json:"ncloc" yaml:"ncloc"`
	CommentLines int `json:"comment_lines" yaml:"comment_lines"`
	Classes      int `json:"classes" yaml:"classes"`
	Functions    int `json:"functions" yaml:"functions"`
	Complexity   int `json:"complexity" yaml:"complexity"`
	Fallbacks    int `json:"fallbacks" yaml:"fallbacks"`
	Diagnostics  int `json:"diagnostics" yaml:"diagnostics"`
}

// Report is the analyzed repository, ready for serialization.
type Report struct {
	RunID  string       `json:"run_id" yaml:"run_id"`
	Root   string       `json:"root" yaml:"root"`
	Files  []FileResult `json:"files" yaml:"files"`
	Totals Totals       `json:"totals" yaml:"totals"`
}

// Summarize computes the report totals from its files.
func (r *Report) Summarize() {
	var t Totals
	for i := range r.Files {
		f := &r.Files[i]
		t.Files++
		t.LinesOfCode += f.Metrics.LinesOfCode
		t.CommentLines += f.Metrics.CommentLines
		if f.Metrics.Fallback {
			t.Fallbacks++
		}
		if f.Structure != nil {
			t.Classes += f.Structure.Classes
			t.Functions += f.Structure.Functions
			t.Complexity += f.Structure.Complexity
		}
		if f.Diagnostic != nil {
			t.Diagnostics++
		}
	}
	r.Totals = t
}
