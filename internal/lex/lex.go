// Package lex turns tree-sitter parse trees into a flat lexical token stream.
//
// Leaves of the tree become tokens in source order. String, regex and comment
// nodes are kept whole even when the grammar splits them into fragments, and the
// bytes between leaves are emitted as synthetic WS, NL and TEXT tokens so the
// stream covers the whole file the way a conventional lexer does. The first
// ERROR or missing node ends the stream with a *token.LexError.
package lex

import (
	"context"
	"fmt"
	"unicode"
	"unicode/utf8"

	"fortio.org/safecast"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/srcmetrics/internal/lang"
	"github.com/phobologic/srcmetrics/internal/token"
)

// Tree is an immutable parse of one file. Every call to Tokens starts an
// independent walk, so several passes can share one parse.
type Tree struct {
	Lang   *lang.Language
	Source []byte
	tree   *sitter.Tree
	err    error
}

// Parse parses source with parser, which must be configured for l. A parse
// failure is kept on the Tree and surfaces as a LexError from Tokens.
func Parse(ctx context.Context, l *lang.Language, parser *sitter.Parser, source []byte) *Tree {
	t := &Tree{Lang: l, Source: source}
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		t.err = &token.LexError{Err: fmt.Errorf("parsing: %w", err)}
		return t
	}
	t.tree = tree
	return t
}

// Err returns the parse failure, if any.
func (t *Tree) Err() error {
	return t.err
}

// Root returns the root node, or nil when parsing failed.
func (t *Tree) Root() *sitter.Node {
	if t.tree == nil {
		return nil
	}
	return t.tree.RootNode()
}

// Close releases the underlying tree.
func (t *Tree) Close() {
	if t.tree != nil {
		t.tree.Close()
		t.tree = nil
	}
}

// Tokens returns a fresh token stream over the tree.
func (t *Tree) Tokens() *Source {
	s := &Source{lang: t.Lang, src: t.Source, line: 1, err: t.err}
	if root := t.Root(); root != nil && s.err == nil {
		s.pushChildren(root)
	}
	return s
}

// Source walks a Tree in source order. It implements token.Source.
type Source struct {
	lang  *lang.Language
	src   []byte
	stack []*sitter.Node
	queue []token.Token

	off  int // bytes consumed
	line int
	col  int // runes since the last line break

	done bool
	eof  token.Token
	err  error
}

// SymbolicName implements token.Vocabulary.
func (s *Source) SymbolicName(k token.Kind) string {
	if name := token.SyntheticName(k); name != "" {
		return name
	}
	return s.lang.SymbolName(sitter.Symbol(k))
}

// Next implements token.Source.
func (s *Source) Next() (token.Token, error) {
	for len(s.queue) == 0 {
		if s.err != nil {
			return token.Token{}, s.err
		}
		if s.done {
			return s.eof, nil
		}
		s.advance()
	}
	tok := s.queue[0]
	s.queue = s.queue[1:]
	return tok, nil
}

// advance queues the next leaf and the gap before it, or finishes the walk.
func (s *Source) advance() {
	for len(s.stack) > 0 {
		n := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]

		if n.Type() == "ERROR" || n.IsMissing() {
			s.fail(n)
			return
		}
		if n.ChildCount() > 0 && !(n.IsNamed() && keepWhole(n.Type())) {
			s.pushChildren(n)
			continue
		}

		start, end, err := span(n)
		if err != nil {
			s.err = &token.LexError{Line: s.line, Column: s.col + 1, Err: err}
			return
		}
		if end > len(s.src) {
			end = len(s.src)
		}
		if end <= s.off {
			continue
		}
		if start < s.off {
			start = s.off
		}
		kind := token.Kind(n.Symbol())
		if token.IsCommentName(s.SymbolicName(kind)) {
			end = trimLineBreak(s.src, start, end)
		}
		s.gap(start)
		s.emit(kind, start, end)
		return
	}

	s.gap(len(s.src))
	s.eof = token.Token{Kind: token.EOF, Line: s.line, Column: s.col}
	s.done = true
}

// keepWhole reports whether a node with children is still one token.
func keepWhole(nodeType string) bool {
	return token.IsStringName(nodeType) || token.IsCommentName(nodeType)
}

func (s *Source) pushChildren(n *sitter.Node) {
	for i := int(n.ChildCount()) - 1; i >= 0; i-- {
		if child := n.Child(i); child != nil {
			s.stack = append(s.stack, child)
		}
	}
}

// gap emits the bytes between the current offset and end as WS, NL and TEXT
// tokens.
func (s *Source) gap(end int) {
	for s.off < end {
		start := s.off
		r, size := utf8.DecodeRune(s.src[start:end])
		switch {
		case r == '\n':
			s.emit(token.NL, start, start+size)
		case r == '\r' && start+1 < end && s.src[start+1] == '\n':
			s.emit(token.NL, start, start+2)
		case r == '\r':
			s.emit(token.NL, start, start+size)
		case unicode.IsSpace(r):
			j := start + size
			for j < end {
				r2, n := utf8.DecodeRune(s.src[j:end])
				if !unicode.IsSpace(r2) || r2 == '\n' || r2 == '\r' {
					break
				}
				j += n
			}
			s.emit(token.WS, start, j)
		default:
			j := start + size
			for j < end {
				r2, n := utf8.DecodeRune(s.src[j:end])
				if unicode.IsSpace(r2) {
					break
				}
				j += n
			}
			s.emit(token.Text, start, j)
		}
	}
}

func (s *Source) emit(kind token.Kind, start, end int) {
	s.queue = append(s.queue, token.Token{
		Kind:   kind,
		Text:   string(s.src[start:end]),
		Line:   s.line,
		Column: s.col,
	})
	s.advanceTo(end)
}

// advanceTo moves the cursor to byte offset end, tracking line and column.
// A line break is \n, \r\n or a lone \r.
func (s *Source) advanceTo(end int) {
	for s.off < end {
		r, size := utf8.DecodeRune(s.src[s.off:end])
		switch {
		case r == '\n':
			s.line++
			s.col = 0
		case r == '\r' && s.off+1 < len(s.src) && s.src[s.off+1] == '\n':
			s.col = 0
		case r == '\r':
			s.line++
			s.col = 0
		default:
			s.col++
		}
		s.off += size
	}
}

// trimLineBreak returns end moved back before one trailing line break of
// src[start:end], so the break is emitted as its own NL token.
func trimLineBreak(src []byte, start, end int) int {
	switch {
	case end-start > 2 && src[end-2] == '\r' && src[end-1] == '\n':
		return end - 2
	case end-start > 1 && (src[end-1] == '\n' || src[end-1] == '\r'):
		return end - 1
	}
	return end
}

func (s *Source) fail(n *sitter.Node) {
	start, _, err := span(n)
	if err == nil && start > s.off && start <= len(s.src) {
		s.advanceTo(start)
	}
	var cause error
	if n.IsMissing() {
		cause = fmt.Errorf("missing %s", n.Type())
	} else {
		cause = fmt.Errorf("unexpected input %q", snippet(s.src, s.off))
	}
	s.err = &token.LexError{Line: s.line, Column: s.col + 1, Err: cause}
}

func span(n *sitter.Node) (start, end int, err error) {
	start, err = safecast.Conv[int](n.StartByte())
	if err != nil {
		return 0, 0, fmt.Errorf("node start offset: %w", err)
	}
	end, err = safecast.Conv[int](n.EndByte())
	if err != nil {
		return 0, 0, fmt.Errorf("node end offset: %w", err)
	}
	return start, end, nil
}

// snippet returns up to the first 16 runes of the line starting at off.
func snippet(src []byte, off int) string {
	if off >= len(src) {
		return "<EOF>"
	}
	rest := src[off:]
	n := 0
	for i := range string(rest) {
		if n == 16 || rest[i] == '\n' {
			return string(rest[:i])
		}
		n++
	}
	return string(rest)
}
