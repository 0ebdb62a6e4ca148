// Package ranking orders and trims report files.
package ranking

import (
	"fmt"
	"sort"
	"strings"

	"github.com/phobologic/srcmetrics/internal/model"
)

// Sort keys.
const (
	ByPath       = "path"
	ByNcloc      = "ncloc"
	ByComments   = "comments"
	ByComplexity = "complexity"
)

// Keys lists the accepted sort keys.
var Keys = []string{ByPath, ByNcloc, ByComments, ByComplexity}

// Sort orders files by key: path ascending, every other key descending with
// the path as tie-breaker. The slice is sorted in place.
func Sort(files []model.FileResult, key string) error {
	var metric func(*model.FileResult) int
	switch key {
	case ByPath, "":
	case ByNcloc:
		metric = func(f *model.FileResult) int { return f.Metrics.LinesOfCode }
	case ByComments:
		metric = func(f *model.FileResult) int { return f.Metrics.CommentLines }
	case ByComplexity:
		metric = func(f *model.FileResult) int {
			if f.Structure == nil {
				return 0
			}
			return f.Structure.Complexity
		}
	default:
		return fmt.Errorf("unknown sort key %q (want one of %s)", key, strings.Join(Keys, ", "))
	}

	sort.SliceStable(files, func(i, j int) bool {
		if metric != nil {
			mi, mj := metric(&files[i]), metric(&files[j])
			if mi != mj {
				return mi > mj
			}
		}
		return files[i].Path < files[j].Path
	})
	return nil
}

// SelectFiles returns a new Report with only the first maxFiles files and
// totals recomputed. If maxFiles is <= 0 or >= len(files), r is returned.
func SelectFiles(r *model.Report, maxFiles int) *model.Report {
	if maxFiles <= 0 || maxFiles >= len(r.Files) {
		return r
	}
	out := &model.Report{RunID: r.RunID, Root: r.Root, Files: r.Files[:maxFiles]}
	out.Summarize()
	return out
}

// FilterByFile returns a new Report containing only files whose path
// contains substr (case-insensitive), with totals recomputed.
func FilterByFile(r *model.Report, substr string) *model.Report {
	lower := strings.ToLower(substr)

	var files []model.FileResult
	for i := range r.Files {
		if strings.Contains(strings.ToLower(r.Files[i].Path), lower) {
			files = append(files, r.Files[i])
		}
	}
	out := &model.Report{RunID: r.RunID, Root: r.Root, Files: files}
	out.Summarize()
	return out
}
