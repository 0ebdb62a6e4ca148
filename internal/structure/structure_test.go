package structure

import (
	"context"
	"errors"
	"testing"

	"github.com/phobologic/srcmetrics/internal/lang"
	"github.com/phobologic/srcmetrics/internal/lex"
	"github.com/phobologic/srcmetrics/internal/model"
)

func setup(t *testing.T, langName string) func(source string) ([]ClassResult, error) {
	t.Helper()
	l := lang.Languages[langName]
	if l == nil {
		t.Fatalf("language %q not registered", langName)
	}
	return func(source string) ([]ClassResult, error) {
		tree := lex.Parse(context.Background(), l, l.NewParser(), []byte(source))
		defer tree.Close()
		return TreeSitter{}.Analyze(context.Background(), tree)
	}
}

func intp(v int) *int { return &v }

func TestAggregate(t *testing.T) {
	t.Parallel()

	got := Aggregate([]ClassResult{
		{Name: "A", Methods: 2, Complexity: intp(5)},
		{Name: "B", Methods: 1},
		{FileLevel: true, Methods: 3, Complexity: intp(4)},
	})
	want := model.StructureMetrics{Classes: 2, Functions: 6, Complexity: 9}
	if got != want {
		t.Errorf("Aggregate = %+v, want %+v", got, want)
	}
	if got := Aggregate(nil); got != (model.StructureMetrics{}) {
		t.Errorf("Aggregate(nil) = %+v", got)
	}
}

func TestJavaClassAndMethods(t *testing.T) {
	t.Parallel()
	analyze := setup(t, "java")

	classes, err := analyze(`public class Foo {
    public Foo() {}

    int max(int a, int b) {
        if (a > b && a != 0) {
            return a;
        }
        return b;
    }

    void loop(int[] xs) {
        for (int x : xs) {
            while (x > 0) { x--; }
        }
    }
}
`)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(classes) != 1 {
		t.Fatalf("expected 1 class, got %d", len(classes))
	}
	c := classes[0]
	if c.Name != "Foo" || c.Line != 1 {
		t.Errorf("class = %q line %d, want Foo line 1", c.Name, c.Line)
	}
	if c.Methods != 3 {
		t.Errorf("methods = %d, want 3", c.Methods)
	}
	// Foo(): 1, max: 1 + if + && = 3, loop: 1 + for + while = 3
	if c.Complexity == nil || *c.Complexity != 7 {
		t.Errorf("complexity = %v, want 7", c.Complexity)
	}
	if got := c.Functions[1]; got.Name != "max" || got.Line != 4 || got.Complexity != 3 {
		t.Errorf("max = %+v", got)
	}
	if m := Aggregate(classes); m.Classes != 1 || m.Functions != 3 || m.Complexity != 7 {
		t.Errorf("Aggregate = %+v", m)
	}
}

func TestPythonFileLevelFunctions(t *testing.T) {
	t.Parallel()
	analyze := setup(t, "python")

	classes, err := analyze(`def top(x):
    if x and x > 1:
        return 1
    return 0

class A:
    def m(self):
        pass
`)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	m := Aggregate(classes)
	if m.Classes != 1 {
		t.Errorf("classes = %d, want 1", m.Classes)
	}
	if m.Functions != 2 {
		t.Errorf("functions = %d, want 2", m.Functions)
	}
	// top: 1 + if + and = 3, m: 1
	if m.Complexity != 4 {
		t.Errorf("complexity = %d, want 4", m.Complexity)
	}

	var fileLevel *ClassResult
	for i := range classes {
		if classes[i].FileLevel {
			fileLevel = &classes[i]
		}
	}
	if fileLevel == nil || fileLevel.Methods != 1 || fileLevel.Functions[0].Name != "top" {
		t.Errorf("file-level class = %+v", fileLevel)
	}
}

func TestGoTypesAndMethods(t *testing.T) {
	t.Parallel()
	analyze := setup(t, "go")

	classes, err := analyze(`package p

type Point struct{ X, Y int }

func (p Point) Quadrant() int {
	switch {
	case p.X > 0 && p.Y > 0:
		return 1
	case p.X < 0:
		return 2
	}
	return 0
}
`)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	m := Aggregate(classes)
	if m.Classes != 1 || m.Functions != 1 {
		t.Errorf("Aggregate = %+v, want 1 class, 1 function", m)
	}
	// 1 + two cases + &&
	if m.Complexity != 4 {
		t.Errorf("complexity = %d, want 4", m.Complexity)
	}
}

func TestRubyModuleAndMethods(t *testing.T) {
	t.Parallel()
	analyze := setup(t, "ruby")

	classes, err := analyze(`module Util
  def self.check(x)
    return 1 if x
    0
  end
end
`)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(classes) != 1 || classes[0].Name != "Util" {
		t.Fatalf("classes = %+v", classes)
	}
	if classes[0].Methods != 1 || *classes[0].Complexity != 2 {
		t.Errorf("Util = methods %d complexity %d, want 1 and 2", classes[0].Methods, *classes[0].Complexity)
	}
}

func TestGroovyClassAndMethod(t *testing.T) {
	t.Parallel()
	analyze := setup(t, "groovy")

	classes, err := analyze(`class Example {
   static String greet(String[] args) {
      if (args) {
         println('Hello World')
      }
      return 'done'
   }
}
`)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(classes) != 1 || classes[0].Name != "Example" || classes[0].Line != 1 {
		t.Fatalf("classes = %+v", classes)
	}
	c := classes[0]
	if c.Methods != 1 || c.Functions[0].Name != "greet" || c.Functions[0].Line != 2 {
		t.Errorf("functions = %+v", c.Functions)
	}
	if *c.Complexity != 2 {
		t.Errorf("complexity = %d, want 2", *c.Complexity)
	}
}

func TestNoFunctionsNoFileLevelClass(t *testing.T) {
	t.Parallel()
	analyze := setup(t, "python")

	classes, err := analyze("x = 1\n")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(classes) != 0 {
		t.Errorf("expected no classes, got %+v", classes)
	}
}

func TestSyntaxErrorSkipsFile(t *testing.T) {
	t.Parallel()
	analyze := setup(t, "java")

	classes, err := analyze("class A { void f( { }")
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("err = %v, want ErrSyntax", err)
	}
	if classes != nil {
		t.Errorf("expected no results, got %+v", classes)
	}
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()
	l := lang.Languages["go"]
	tree := lex.Parse(context.Background(), l, l.NewParser(), []byte("package p\nfunc f() {}\n"))
	defer tree.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (TreeSitter{}).Analyze(ctx, tree); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
