package lang

import (
	"github.com/smacker/go-tree-sitter/java"
)

func init() {
	Languages["java"] = &Language{
		Name:       "java",
		Extensions: []string{".java"},
		lang:       java.GetLanguage(),
		Comments: CommentSyntax{
			LineComments: []string{"//"},
			BlockOpen:    "/*",
			BlockClose:   "*/",
		},
		DocCommentOpener: "/**",
		keywords: words(`
			abstract assert boolean break byte case catch char class const
			continue default do double else enum extends final finally float
			for goto if implements import instanceof int interface long native
			new package private protected public record return short static
			strictfp super switch synchronized this throw throws transient try
			var void volatile while yield true false null`),
		ClassTypes: set(
			"class_declaration", "interface_declaration", "enum_declaration",
			"record_declaration",
		),
		FunctionTypes: set("method_declaration", "constructor_declaration"),
		DecisionTypes: set(
			"if_statement", "for_statement", "enhanced_for_statement",
			"while_statement", "do_statement", "catch_clause", "switch_label",
			"ternary_expression",
		),
		OperatorTypes: set("&&", "||"),
	}
}
