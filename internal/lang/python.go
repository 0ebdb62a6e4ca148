package lang

import (
	"github.com/smacker/go-tree-sitter/python"
)

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Extensions: []string{".py"},
		lang:       python.GetLanguage(),
		Comments: CommentSyntax{
			LineComments: []string{"#"},
		},
		keywords: words(`
			False None True and as assert async await break class continue
			def del elif else except finally for from global if import in is
			lambda nonlocal not or pass raise return try while with yield`),
		ClassTypes:    set("class_definition"),
		FunctionTypes: set("function_definition"),
		DecisionTypes: set(
			"if_statement", "elif_clause", "for_statement", "while_statement",
			"except_clause", "conditional_expression", "if_clause",
		),
		OperatorTypes: set("and", "or"),
	}
}
