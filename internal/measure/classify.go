// Package measure computes size and comment metrics for a file, either from a
// token stream or, when the tokenizer fails, from the raw lines.
package measure

import (
	"strings"

	"github.com/phobologic/srcmetrics/internal/model"
	"github.com/phobologic/srcmetrics/internal/token"
)

// Options controls how lines are counted.
type Options struct {
	// IgnoreHeaderComments excludes a comment starting on line 1 (usually a
	// license banner) from the comment line count.
	IgnoreHeaderComments bool
}

// DefaultOptions returns the default counting options.
func DefaultOptions() Options {
	return Options{IgnoreHeaderComments: true}
}

func (o Options) countsComment(line int) bool {
	return !(line == 1 && o.IgnoreHeaderComments)
}

// decorationLines are comment lines that carry no text of their own.
var decorationLines = map[string]struct{}{
	"/**": {},
	"/*":  {},
	"*":   {},
	"*/":  {},
	"//":  {},
	"#":   {},
}

// lineState is the per-file classification context. It is created fresh for
// every file and never shared.
type lineState struct {
	opts         Options
	loc          int
	comments     int
	lastCodeLine int
	codeLines    model.LineRecord
}

func newLineState(opts Options) lineState {
	return lineState{opts: opts, codeLines: make(model.LineRecord)}
}

// handle classifies tok given the line of the token that follows it.
func (s lineState) handle(tok token.Token, name string, nextLine int) lineState {
	if token.IsCommentName(name) {
		if s.opts.countsComment(tok.Line) {
			last := nextLine
			// The successor of a comment that swallowed its line break
			// starts on the following line.
			if endsWithLineBreak(tok.Text) && last > tok.Line {
				last--
			}
			s.comments += last - tok.Line + 1 - countDecorationLines(tok.Text)
		}
		return s
	}
	if !token.IsWhitespace(name, tok.Text) && tok.Line != s.lastCodeLine {
		s.loc++
		s.codeLines[tok.Line] = true
		s.lastCodeLine = tok.Line
	}
	return s
}

func endsWithLineBreak(text string) bool {
	return strings.HasSuffix(text, "\n") || strings.HasSuffix(text, "\r")
}

func countDecorationLines(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if _, ok := decorationLines[strings.TrimSpace(line)]; ok {
			n++
		}
	}
	return n
}

// Classify counts code and comment lines from src using two-token lookahead:
// each token is classified together with the line of its successor, and the
// last real token is paired with the EOF token. totalLines is the physical
// line count of the file.
//
// A tokenizer failure is returned as is and no metrics are produced; callers
// fall back to Scan.
func Classify(src token.Source, totalLines int, opts Options) (model.FileMetrics, error) {
	la := token.NewLookahead(src)
	st := newLineState(opts)
	for {
		cur, next, err := la.Next()
		if err != nil {
			return model.FileMetrics{}, err
		}
		if cur.IsEOF() {
			break
		}
		st = st.handle(cur, src.SymbolicName(cur.Kind), next.Line)
	}
	return model.FileMetrics{
		LinesOfCode:  st.loc,
		CommentLines: st.comments,
		CodeLines:    st.codeLines,
		TotalLines:   totalLines,
	}, nil
}
