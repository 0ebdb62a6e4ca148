package measure

import (
	"strings"

	"github.com/phobologic/srcmetrics/internal/lang"
	"github.com/phobologic/srcmetrics/internal/model"
)

// Scan classifies lines heuristically, one physical line at a time. It is
// used when the tokenizer cannot handle a file.
//
// Comment markers inside string literals are taken for real comments; the
// scanner has no notion of literals.
func Scan(lines []string, syntax lang.CommentSyntax, opts Options) model.FileMetrics {
	m := model.FileMetrics{
		CodeLines:  make(model.LineRecord),
		TotalLines: len(lines),
		Fallback:   true,
	}
	inBlock := false
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		lineNo := i + 1
		if line == "" {
			continue
		}

		isComment := false
		switch {
		case inBlock:
			isComment = true
			if strings.Contains(line, syntax.BlockClose) {
				inBlock = false
			}
		case hasAnyPrefix(line, syntax.LineComments):
			isComment = true
		case syntax.HasBlock() && strings.HasPrefix(line, syntax.BlockOpen):
			isComment = true
			if !strings.Contains(line, syntax.BlockClose) {
				inBlock = true
			}
		}

		if isComment {
			if opts.countsComment(lineNo) {
				m.CommentLines++
			}
			continue
		}
		m.LinesOfCode++
		m.CodeLines[lineNo] = true
	}
	return m
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
