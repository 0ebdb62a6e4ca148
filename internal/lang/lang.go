// Package lang provides a language registry mapping file extensions to
// tree-sitter grammars and the lexical conventions the measurement passes need.
package lang

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// CommentSyntax describes how comments look on a physical line. It drives the
// line-oriented fallback scanner.
type CommentSyntax struct {
	LineComments []string
	BlockOpen    string
	BlockClose   string
}

// HasBlock reports whether the language has delimited block comments.
func (c CommentSyntax) HasBlock() bool {
	return c.BlockOpen != "" && c.BlockClose != ""
}

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	Comments CommentSyntax

	// DocCommentOpener marks a comment as a structured documentation comment.
	// Empty when the language has no such convention.
	DocCommentOpener string

	keywords map[string]struct{}

	// Node types used by the structure analyzer. DecisionTypes are matched
	// on named nodes only, OperatorTypes on anonymous ones.
	ClassTypes    map[string]struct{}
	FunctionTypes map[string]struct{}
	DecisionTypes map[string]struct{}
	OperatorTypes map[string]struct{}
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// SymbolName returns the grammar's name for a node symbol.
func (l *Language) SymbolName(sym sitter.Symbol) string {
	return l.lang.SymbolName(sym)
}

// IsKeyword reports whether text is exactly one of the language's keywords.
func (l *Language) IsKeyword(text string) bool {
	_, ok := l.keywords[text]
	return ok
}

// Keywords returns the keyword set. The map must not be modified.
func (l *Language) Keywords() map[string]struct{} {
	return l.keywords
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

var declNameTypes = map[string]struct{}{
	"identifier":       {},
	"type_identifier":  {},
	"field_identifier": {},
	"constant":         {},
	"name":             {},
}

// DeclName returns the name of a class or function declaration node: its
// "name" or "function" field, else the text of its first identifier-like
// child, else "".
func DeclName(node *sitter.Node, source []byte) string {
	for _, field := range []string{"name", "function"} {
		if name := node.ChildByFieldName(field); name != nil {
			return NodeText(name, source)
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if _, ok := declNameTypes[child.Type()]; ok {
			return NodeText(child, source)
		}
	}
	return ""
}

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

// words splits a whitespace separated keyword list.
func words(s string) map[string]struct{} {
	return set(strings.Fields(s)...)
}
