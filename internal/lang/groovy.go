package lang

import (
	"github.com/smacker/go-tree-sitter/groovy"
)

func init() {
	Languages["groovy"] = &Language{
		Name:       "groovy",
		Extensions: []string{".groovy", ".gradle"},
		lang:       groovy.GetLanguage(),
		Comments: CommentSyntax{
			LineComments: []string{"//", "#"},
			BlockOpen:    "/*",
			BlockClose:   "*/",
		},
		DocCommentOpener: "/**",
		keywords: words(`
			as assert break case catch class continue def default else enum
			extends false finally for if implements import in instanceof
			interface native new null package private protected public return
			static super switch synchronized this throws throw trait transient
			true try void volatile while boolean byte char double float int
			long short`),
		ClassTypes:    set("class_definition"),
		FunctionTypes: set("function_definition"),
		DecisionTypes: set(
			"if_statement", "for_loop", "for_in_loop", "while_loop",
			"do_while_loop", "case", "ternary_op",
		),
		OperatorTypes: set("&&", "||", "?:", "catch"),
	}
}
