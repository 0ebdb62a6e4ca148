package lang

import (
	"github.com/smacker/go-tree-sitter/ruby"
)

func init() {
	Languages["ruby"] = &Language{
		Name:       "ruby",
		Extensions: []string{".rb"},
		lang:       ruby.GetLanguage(),
		Comments: CommentSyntax{
			LineComments: []string{"#"},
			BlockOpen:    "=begin",
			BlockClose:   "=end",
		},
		keywords: words(`
			alias and begin BEGIN break case class def defined? do else elsif
			end END ensure false for if in module next nil not or redo rescue
			retry return self super then true undef unless until when while
			yield`),
		ClassTypes:    set("class", "module"),
		FunctionTypes: set("method", "singleton_method"),
		DecisionTypes: set(
			"if", "elsif", "unless", "while", "until", "for", "when", "rescue",
			"conditional", "if_modifier", "unless_modifier", "while_modifier",
			"until_modifier",
		),
		OperatorTypes: set("&&", "||", "and", "or"),
	}
}
