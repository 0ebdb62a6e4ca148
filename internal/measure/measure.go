package measure

import (
	"github.com/phobologic/srcmetrics/internal/lang"
	"github.com/phobologic/srcmetrics/internal/log"
	"github.com/phobologic/srcmetrics/internal/model"
	"github.com/phobologic/srcmetrics/internal/token"
)

// Compute measures a file from its token stream and falls back to Scan over
// the whole file when the stream fails. Nothing from the failed pass is kept.
// The tokenizer failure, if any, is returned alongside the fallback metrics.
func Compute(src token.Source, lines []string, syntax lang.CommentSyntax, opts Options) (model.FileMetrics, error) {
	m, err := Classify(src, len(lines), opts)
	if err == nil {
		return m, nil
	}
	log.Debug(log.CatMetrics, "lexer failed, falling back to line-based metrics", "error", err)
	return Scan(lines, syntax, opts), err
}

// SplitLines splits text into physical lines. "\n", "\r\n" and a lone "\r"
// end a line; a trailing line break does not start a new line.
func SplitLines(text string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			lines = append(lines, text[start:i])
			start = i + 1
		case '\r':
			lines = append(lines, text[start:i])
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}
