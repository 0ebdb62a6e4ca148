// Package structure counts classes, functions and cyclomatic complexity from
// a parse tree.
package structure

import (
	"context"
	"errors"
	"fmt"

	"fortio.org/safecast"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/srcmetrics/internal/lang"
	"github.com/phobologic/srcmetrics/internal/lex"
	"github.com/phobologic/srcmetrics/internal/model"
)

// ErrSyntax is returned for trees containing parse errors.
var ErrSyntax = errors.New("tree has syntax errors")

// FunctionResult describes one function or method.
type FunctionResult struct {
	Name       string
	Line       int
	Complexity int
}

// ClassResult describes one class. Complexity is nil when the analyzer does
// not compute it.
type ClassResult struct {
	Name      string
	Line      int
	Methods   int
	Functions []FunctionResult
	// FileLevel marks the pseudo-class holding functions declared outside
	// any class. It is not counted as a class.
	FileLevel  bool
	Complexity *int
}

// Analyzer produces per-class results for a parsed file.
type Analyzer interface {
	Analyze(ctx context.Context, tree *lex.Tree) ([]ClassResult, error)
}

// Aggregate sums class results into file metrics.
func Aggregate(classes []ClassResult) model.StructureMetrics {
	var m model.StructureMetrics
	for _, c := range classes {
		if !c.FileLevel {
			m.Classes++
		}
		m.Functions += c.Methods
		if c.Complexity != nil {
			m.Complexity += *c.Complexity
		}
	}
	return m
}

// TreeSitter analyzes tree-sitter parse trees using the node types declared
// on the tree's language.
type TreeSitter struct{}

// Analyze walks the tree once. Decision points add one to the complexity of
// the innermost enclosing function, which starts at one.
func (TreeSitter) Analyze(ctx context.Context, tree *lex.Tree) ([]ClassResult, error) {
	if err := tree.Err(); err != nil {
		return nil, err
	}
	root := tree.Root()
	if root == nil || root.HasError() {
		return nil, ErrSyntax
	}

	w := &walker{ctx: ctx, lang: tree.Lang, src: tree.Source}
	w.fileLevel = &classState{res: ClassResult{FileLevel: true}}
	w.walk(root, w.fileLevel, nil)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.err != nil {
		return nil, w.err
	}

	out := make([]ClassResult, 0, len(w.classes)+1)
	for _, c := range w.classes {
		out = append(out, c.result())
	}
	if w.fileLevel.res.Methods > 0 {
		out = append(out, w.fileLevel.result())
	}
	return out, nil
}

type classState struct {
	res        ClassResult
	complexity int
}

func (c *classState) result() ClassResult {
	r := c.res
	cx := c.complexity
	r.Complexity = &cx
	return r
}

type walker struct {
	ctx       context.Context
	lang      *lang.Language
	src       []byte
	classes   []*classState
	fileLevel *classState
	visited   int
	err       error
}

// line returns the 1-based start line of n, recording an overflow on w.
func (w *walker) line(n *sitter.Node) int {
	row, err := safecast.Conv[int](n.StartPoint().Row)
	if err != nil {
		if w.err == nil {
			w.err = fmt.Errorf("node start row: %w", err)
		}
		return 0
	}
	return row + 1
}

func (w *walker) walk(n *sitter.Node, class *classState, fn *FunctionResult) {
	w.visited++
	if w.visited%1024 == 0 && w.ctx.Err() != nil {
		return
	}

	typ := n.Type()
	switch {
	case n.IsNamed() && has(w.lang.ClassTypes, typ):
		c := &classState{res: ClassResult{
			Name: lang.DeclName(n, w.src),
			Line: w.line(n),
		}}
		w.classes = append(w.classes, c)
		w.walkChildren(n, c, nil)
		return

	case n.IsNamed() && has(w.lang.FunctionTypes, typ):
		f := FunctionResult{
			Name:       lang.DeclName(n, w.src),
			Line:       w.line(n),
			Complexity: 1,
		}
		w.walkChildren(n, class, &f)
		class.res.Methods++
		class.res.Functions = append(class.res.Functions, f)
		class.complexity += f.Complexity
		return

	case fn != nil && n.IsNamed() && has(w.lang.DecisionTypes, typ):
		fn.Complexity++

	case fn != nil && !n.IsNamed() && has(w.lang.OperatorTypes, typ):
		fn.Complexity++
	}
	w.walkChildren(n, class, fn)
}

func (w *walker) walkChildren(n *sitter.Node, class *classState, fn *FunctionResult) {
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); child != nil {
			w.walk(child, class, fn)
		}
	}
}

func has(m map[string]struct{}, key string) bool {
	_, ok := m[key]
	return ok
}
