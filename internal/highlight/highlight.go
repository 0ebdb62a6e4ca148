// Package highlight derives syntax highlighting spans and copy-paste
// detection tokens from a token stream.
package highlight

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"github.com/phobologic/srcmetrics/internal/lang"
	"github.com/phobologic/srcmetrics/internal/log"
	"github.com/phobologic/srcmetrics/internal/model"
	"github.com/phobologic/srcmetrics/internal/token"
)

// LiteralPlaceholder replaces string and regex literals in CPD tokens so
// blocks differing only in literal values still match.
const LiteralPlaceholder = "LITERAL"

// Extractor classifies tokens for one language.
type Extractor struct {
	// IsKeyword reports whether a token text is a keyword. Matching is exact.
	IsKeyword func(text string) bool
	// DocOpener marks structured comments, e.g. "/**". Empty disables them.
	DocOpener string
}

// New returns an Extractor for l.
func New(l *lang.Language) *Extractor {
	return &Extractor{IsKeyword: l.IsKeyword, DocOpener: l.DocCommentOpener}
}

// Result holds what one pass over a file produced. Diagnostic is non-nil
// only when the pass failed, in which case Spans and Cpd are empty.
type Result struct {
	Spans      []model.HighlightSpan
	Cpd        []model.CpdToken
	Diagnostic *model.Diagnostic
}

// Extract walks src once and returns a span for every comment, string and
// keyword token and a CPD token for every non-blank token, in stream order.
// A tokenizer failure is reported as a diagnostic on path and discards all
// output; lines, when given, are used to log the failing line.
func (e *Extractor) Extract(path string, src token.Source, lines []string) Result {
	var res Result
	var last *token.Token
	for {
		tok, err := src.Next()
		if err != nil {
			return Result{Diagnostic: e.failure(path, err, last, lines)}
		}
		if tok.IsEOF() {
			return res
		}
		t := tok
		last = &t
		if strings.TrimSpace(tok.Text) == "" {
			continue
		}

		typ, literal := e.classify(src.SymbolicName(tok.Kind), tok.Text)
		endLine, endCol := end(tok)
		if typ != model.None {
			res.Spans = append(res.Spans, model.HighlightSpan{
				StartLine:   tok.Line,
				StartColumn: tok.Column,
				EndLine:     endLine,
				EndColumn:   endCol,
				Type:        typ,
			})
		}
		text := tok.Text
		if literal {
			text = LiteralPlaceholder
		}
		res.Cpd = append(res.Cpd, model.CpdToken{
			StartLine:   tok.Line,
			StartColumn: tok.Column,
			EndLine:     endLine,
			EndColumn:   endCol,
			Text:        text,
		})
	}
}

// classify returns the display category of a token and whether it is a
// literal.
func (e *Extractor) classify(name, text string) (model.TextType, bool) {
	switch {
	case token.IsCommentName(name):
		if e.DocOpener != "" && strings.HasPrefix(text, e.DocOpener) {
			return model.StructuredComment, false
		}
		return model.Comment, false
	case token.IsStringName(name):
		return model.String, true
	case e.IsKeyword != nil && e.IsKeyword(text):
		return model.Keyword, false
	}
	return model.None, false
}

// end returns the 1-based end line and 0-based exclusive end column of tok.
func end(tok token.Token) (int, int) {
	breaks := strings.Count(tok.Text, "\n")
	if breaks == 0 {
		return tok.Line, tok.Column + utf8.RuneCountInString(tok.Text)
	}
	tail := tok.Text[strings.LastIndexByte(tok.Text, '\n')+1:]
	return tok.Line + breaks, utf8.RuneCountInString(tail)
}

func (e *Extractor) failure(path string, err error, last *token.Token, lines []string) *model.Diagnostic {
	line, col := token.FailurePosition(err, last)
	if line >= 1 && line <= len(lines) {
		src := lines[line-1]
		log.Debug(log.CatHighlight, "lexer failed", "file", path, "line", line, "column", col)
		log.Debug(log.CatHighlight, src)
		log.Debug(log.CatHighlight, Caret(src, col))
	}
	return &model.Diagnostic{
		File:    path,
		RuleKey: model.LexerFailureRule,
		Line:    line,
		Column:  col,
		Message: fmt.Sprintf("lexer failed at line %d, column %d: %v", line, col, cause(err)),
	}
}

// cause strips the position prefix of a LexError so it is not repeated.
func cause(err error) error {
	var le *token.LexError
	if errors.As(err, &le) && le.Err != nil {
		return le.Err
	}
	return err
}

// Caret returns a marker line pointing at the 1-based rune column col of
// line, padded to the display width of the preceding text. Tabs are kept so
// the caret lines up under the same tab stops.
func Caret(line string, col int) string {
	var b strings.Builder
	i := 1
	for _, r := range line {
		if i >= col {
			break
		}
		if r == '\t' {
			b.WriteByte('\t')
		} else {
			b.WriteString(strings.Repeat(" ", runewidth.RuneWidth(r)))
		}
		i++
	}
	b.WriteByte('^')
	return b.String()
}
