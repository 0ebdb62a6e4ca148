// Package token defines the lexical token stream consumed by the measurement
// passes, independent of the tokenizer that produces it.
package token

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a tokenizer-specific category code. Codes are only meaningful
// together with the Vocabulary of the Source that produced them.
type Kind int

// Synthetic kinds shared by every Source. Tokenizer codes are non-negative.
const (
	EOF  Kind = -1
	WS   Kind = -2
	NL   Kind = -3
	Text Kind = -4
)

// Token is a single lexical token. Line is 1-based, Column is 0-based and
// counted in runes.
type Token struct {
	Kind   Kind
	Text   string
	Line   int
	Column int
}

// IsEOF reports whether t terminates the stream.
func (t Token) IsEOF() bool {
	return t.Kind == EOF
}

// Vocabulary resolves category codes to symbolic names.
type Vocabulary interface {
	SymbolicName(k Kind) string
}

// Source is a pull-based token stream. Next returns an EOF token at the end of
// input; once it has returned EOF or an error it keeps returning the same.
type Source interface {
	Vocabulary
	Next() (Token, error)
}

// SyntheticName returns the symbolic name of a synthetic kind, or "".
func SyntheticName(k Kind) string {
	switch k {
	case EOF:
		return "EOF"
	case WS:
		return "WS"
	case NL:
		return "NL"
	case Text:
		return "TEXT"
	}
	return ""
}

// LexError is a tokenizer failure. Line and Column are 1-based and zero when
// the tokenizer could not tell where it failed.
type LexError struct {
	Line   int
	Column int
	Err    error
}

func (e *LexError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("lexer failure at %d:%d: %v", e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("lexer failure: %v", e.Err)
}

func (e *LexError) Unwrap() error {
	return e.Err
}

// HasPosition reports whether the failure carries a usable position.
func (e *LexError) HasPosition() bool {
	return e.Line > 0
}

// FailurePosition returns the best-effort 1-based line and column of a
// failure. Without a position on err it falls back to the line of the last
// token yielded before the failure, column 1.
func FailurePosition(err error, last *Token) (line, column int) {
	line, column = 1, 1
	if last != nil && last.Line > 0 {
		line = last.Line
	}
	var lexErr *LexError
	if errors.As(err, &lexErr) && lexErr.HasPosition() {
		line = lexErr.Line
		if lexErr.Column > 0 {
			column = lexErr.Column
		}
	}
	return line, column
}

var commentNames = map[string]struct{}{
	"ML_COMMENT": {},
	"SL_COMMENT": {},
	"SH_COMMENT": {},
	"GROOVY_DOC": {},
}

var whitespaceNames = map[string]struct{}{
	"WS":  {},
	"NL":  {},
	"NLS": {},
}

// IsCommentName reports whether a symbolic name denotes a comment.
func IsCommentName(name string) bool {
	upper := strings.ToUpper(name)
	if strings.HasSuffix(upper, "COMMENT") {
		return true
	}
	_, ok := commentNames[upper]
	return ok
}

// IsWhitespace reports whether a token carries no code: its category is a
// whitespace or newline kind, or its text is blank.
func IsWhitespace(name, text string) bool {
	upper := strings.ToUpper(name)
	if _, ok := whitespaceNames[upper]; ok {
		return true
	}
	if strings.HasSuffix(upper, "_NL") || strings.HasSuffix(upper, "_NLS") {
		return true
	}
	return strings.TrimSpace(text) == ""
}

// IsStringName reports whether a symbolic name denotes a string or regex
// literal.
func IsStringName(name string) bool {
	upper := strings.ToUpper(name)
	return strings.Contains(upper, "STRING") || strings.Contains(upper, "REGEX")
}
