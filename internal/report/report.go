// Package report renders analysis results as TOON, JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/srcmetrics/internal/coverage"
	"github.com/phobologic/srcmetrics/internal/model"
)

// Output formats.
const (
	FormatTOON = "toon"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Formats lists the accepted format names.
var Formats = []string{FormatTOON, FormatJSON, FormatYAML}

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode writes r to w in the given format.
func Encode(w io.Writer, format string, r *model.Report) error {
	switch format {
	case FormatTOON, "":
		_, err := fmt.Fprintln(w, EncodeTOON(r))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

// EncodeTOON converts r into TOON format.
func EncodeTOON(r *model.Report) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("run: %s", encodeValue(r.RunID)))
	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(r.Root)))

	var fileRows [][]any
	for i := range r.Files {
		f := &r.Files[i]
		var s model.StructureMetrics
		if f.Structure != nil {
			s = *f.Structure
		}
		fileRows = append(fileRows, []any{
			f.Path,
			f.Language,
			f.Metrics.LinesOfCode,
			f.Metrics.CommentLines,
			f.Metrics.TotalLines,
			s.Classes,
			s.Functions,
			s.Complexity,
			f.Metrics.Fallback,
		})
	}
	parts = append(parts, formatTabular("files",
		[]string{"path", "language", "ncloc", "comments", "lines", "classes", "functions", "complexity", "fallback"},
		fileRows))

	var diagRows [][]any
	for i := range r.Files {
		d := r.Files[i].Diagnostic
		if d == nil {
			continue
		}
		diagRows = append(diagRows, []any{d.File, d.RuleKey, d.Line, d.Column, d.Message})
	}
	parts = append(parts, formatTabular("diagnostics", []string{"file", "rule", "line", "column", "message"}, diagRows))

	t := r.Totals
	parts = append(parts, formatTabular("totals",
		[]string{"files", "ncloc", "comments", "classes", "functions", "complexity", "fallbacks", "diagnostics"},
		[][]any{{t.Files, t.LinesOfCode, t.CommentLines, t.Classes, t.Functions, t.Complexity, t.Fallbacks, t.Diagnostics}}))

	return strings.Join(parts, "\n")
}

// CoverageSession is the probe summary of one execution data session.
type CoverageSession struct {
	ID               string `json:"id" yaml:"id"`
	coverage.Summary `yaml:",inline"`
}

// CoverageReport summarizes merged execution data.
type CoverageReport struct {
	Sessions []CoverageSession `json:"sessions" yaml:"sessions"`
	Merged   coverage.Summary  `json:"merged" yaml:"merged"`
}

// EncodeCoverage writes r to w in the given format.
func EncodeCoverage(w io.Writer, format string, r *CoverageReport) error {
	switch format {
	case FormatTOON, "":
		var rows [][]any
		for _, s := range r.Sessions {
			rows = append(rows, []any{s.ID, s.Classes, s.Probes, s.Covered, ratio(s.Summary)})
		}
		columns := []string{"id", "classes", "probes", "covered", "ratio"}
		m := r.Merged
		_, err := fmt.Fprintf(w, "%s\n%s\n", formatTabular("sessions", columns, rows),
			formatTabular("merged", columns[1:], [][]any{{m.Classes, m.Probes, m.Covered, ratio(m)}}))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

func ratio(s coverage.Summary) string {
	return fmt.Sprintf("%.4f", s.Ratio())
}

// Summary writes a one-line overview of r to w. Counts are coloured when
// colour output is enabled.
func Summary(w io.Writer, r *model.Report) {
	t := r.Totals
	bold := color.New(color.Bold).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	ok := color.New(color.FgGreen).SprintFunc()

	fallbacks := ok(t.Fallbacks)
	if t.Fallbacks > 0 {
		fallbacks = warn(t.Fallbacks)
	}
	diags := ok(t.Diagnostics)
	if t.Diagnostics > 0 {
		diags = warn(t.Diagnostics)
	}
	_, _ = fmt.Fprintf(w, "%s files, %s ncloc, %s comment lines, %s fallbacks, %s diagnostics\n",
		bold(t.Files), bold(t.LinesOfCode), bold(t.CommentLines), fallbacks, diags)
}

func formatTabular(name string, columns []string, rows [][]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeCell(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

// encodeCell renders numbers and booleans bare and strings through
// encodeValue.
func encodeCell(cell any) string {
	switch v := cell.(type) {
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return encodeValue(v)
	default:
		return encodeValue(fmt.Sprint(v))
	}
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}
	if value != strings.TrimSpace(value) || strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}
	if looksNumeric.MatchString(value) {
		return value
	}
	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}
	if needsQuoting.MatchString(value) || strings.HasPrefix(value, "-") {
		return quote(value)
	}
	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
