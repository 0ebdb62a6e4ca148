package lang

import (
	"github.com/smacker/go-tree-sitter/golang"
)

func init() {
	Languages["go"] = &Language{
		Name:       "go",
		Extensions: []string{".go"},
		lang:       golang.GetLanguage(),
		Comments: CommentSyntax{
			LineComments: []string{"//"},
			BlockOpen:    "/*",
			BlockClose:   "*/",
		},
		keywords: words(`
			break case chan const continue default defer else fallthrough
			for func go goto if import interface map package range return
			select struct switch type var true false nil`),
		ClassTypes:    set("type_spec"),
		FunctionTypes: set("function_declaration", "method_declaration"),
		DecisionTypes: set(
			"if_statement", "for_statement", "expression_case", "type_case",
			"communication_case",
		),
		OperatorTypes: set("&&", "||"),
	}
}
