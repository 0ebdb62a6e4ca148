// srcmetrics measures source files: lines of code, comment lines, syntax
// highlighting, duplication tokens and structure.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phobologic/srcmetrics/internal/config"
	"github.com/phobologic/srcmetrics/internal/discover"
	"github.com/phobologic/srcmetrics/internal/log"
	"github.com/phobologic/srcmetrics/internal/model"
	"github.com/phobologic/srcmetrics/internal/ranking"
	"github.com/phobologic/srcmetrics/internal/report"
)

var version = "dev"

var errNoFiles = errors.New("no measurable files found")

// flagKeys maps config keys to the flags that override them.
var flagKeys = map[string]string{
	"languages":     "langs",
	"exclude":       "exclude",
	"format":        "format",
	"store":         "store",
	"cache_dir":     "cache",
	"workers":       "workers",
	"encoding":      "encoding",
	"max_file_size": "max-file-size",
	"sort":          "sort",
	"max_files":     "max-files",
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{stdout: stdout, stderr: stderr, v: viper.New()}
	defer c.close()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// cli holds the state shared by the commands of one invocation.
type cli struct {
	stdout, stderr io.Writer
	v              *viper.Viper
	cfg            config.Config

	cfgFile    string
	debug      bool
	logFile    string
	fileFilter string
	clearCache bool
	closeLog   func()
}

func (c *cli) rootCmd() *cobra.Command {
	var showVersion bool
	cmd := &cobra.Command{
		Use:   "srcmetrics [flags] [root]",
		Short: "Measure lines of code, comments, highlighting and duplication tokens",
		Long: `srcmetrics walks a repository, tokenizes every Go, Groovy, Java, Python and Ruby
file and reports lines of code, comment lines and structure per file. Files the
tokenizer cannot handle are measured with a line scanner and reported with a
lexer-failure diagnostic.`,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				_, _ = fmt.Fprintf(c.stdout, "srcmetrics %s\n", version)
				return nil
			}
			return c.runAnalyze(cmd.Context(), rootArg(args))
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&c.cfgFile, "config", "c", "",
		"config file (default: ./.srcmetrics.yaml, then ~/.config/srcmetrics/config.yaml)")
	pf.BoolVar(&c.debug, "debug", false, "enable debug logging")
	pf.StringVar(&c.logFile, "log-file", "", "write the debug log to this file instead of stderr")
	pf.StringSliceP("langs", "l", nil, "comma-separated languages to include")
	pf.StringSlice("exclude", nil, "gitignore-style patterns of files to skip")
	pf.String("format", "", "output format: toon, json or yaml")
	pf.String("store", "", "SQLite database that receives the measurements")
	pf.String("cache", "", "per-file result cache directory")
	pf.BoolVar(&c.clearCache, "clear-cache", false, "empty the result cache before analyzing")
	pf.Int("workers", 0, "files analyzed in parallel (default: number of CPUs)")
	pf.String("encoding", "", "source charset by IANA name (default UTF-8)")
	pf.Int64("max-file-size", 0, "skip files larger than this many bytes")
	pf.String("sort", "", "order report files by path, ncloc, comments or complexity")
	pf.IntP("max-files", "n", 0, "report only the first N files after sorting")
	pf.StringVarP(&c.fileFilter, "file", "f", "", "report only files whose path contains this substring")
	pf.Bool("no-ignore-header-comments", false, "count a comment starting on line 1 as comment lines")
	pf.Bool("no-structure", false, "skip class, function and complexity counts")
	pf.String("trace-file", "", "write OpenTelemetry spans to this file")

	cmd.Flags().BoolVarP(&showVersion, "version", "V", false, "show version and exit")

	cmd.AddCommand(c.initCmd(), c.coverageCmd(), c.watchCmd())
	return cmd
}

// setup starts logging and resolves the configuration from defaults, the
// config file, the environment and flags, in increasing precedence.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if err := c.initLogging(); err != nil {
		return err
	}

	flags := cmd.Flags()
	for key, name := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := c.v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	if off, _ := flags.GetBool("no-ignore-header-comments"); off {
		cfg.IgnoreHeaderComments = false
	}
	if off, _ := flags.GetBool("no-structure"); off {
		cfg.Structure = false
	}
	if path, _ := flags.GetString("trace-file"); path != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "file"
		cfg.Tracing.FilePath = path
	}
	c.cfg = cfg
	return nil
}

func (c *cli) initLogging() error {
	if c.closeLog != nil || (!c.debug && os.Getenv("SRCMETRICS_DEBUG") == "") {
		return nil
	}
	closeLog, err := log.Init(c.logFile, c.stderr)
	if err != nil {
		return err
	}
	c.closeLog = closeLog
	return nil
}

func (c *cli) close() {
	if c.closeLog != nil {
		c.closeLog()
	}
}

func (c *cli) runAnalyze(ctx context.Context, arg string) error {
	root, err := resolveRoot(arg)
	if err != nil {
		return err
	}
	a, err := c.openAnalyzer(ctx, root)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	return c.analyzeAndReport(ctx, a, nil)
}

// openAnalyzer builds the analyzer for root and applies --clear-cache.
func (c *cli) openAnalyzer(ctx context.Context, root string) (*analyzer, error) {
	a, err := newAnalyzer(ctx, c.cfg, root, c.stderr)
	if err != nil {
		return nil, err
	}
	if c.clearCache && a.cache != nil {
		if err := a.cache.DropAll(); err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("clearing cache: %w", err)
		}
		log.Info(log.CatCache, "Cleared result cache", "dir", a.cache.Dir())
	}
	return a, nil
}

// analyzeAndReport measures the files under the analyzer's root, or only
// the listed ones when only is non-nil, and renders the report.
func (c *cli) analyzeAndReport(ctx context.Context, a *analyzer, only []string) error {
	files, err := discover.Files(a.root, discover.Options{Languages: c.cfg.Languages, Exclude: c.cfg.Exclude})
	if err != nil {
		return fmt.Errorf("discovering files: %w", err)
	}
	if only != nil {
		files = selectFiles(files, only)
	}
	if len(files) == 0 {
		return errNoFiles
	}

	rep, err := a.analyze(ctx, files)
	if err != nil {
		return err
	}
	if rep, err = c.rank(rep); err != nil {
		return err
	}
	if err := report.Encode(c.stdout, c.cfg.Format, rep); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	report.Summary(c.stderr, rep)
	return nil
}

// rank applies the file filter, sort order and file limit to rep.
func (c *cli) rank(rep *model.Report) (*model.Report, error) {
	if c.fileFilter != "" {
		rep = ranking.FilterByFile(rep, c.fileFilter)
	}
	if err := ranking.Sort(rep.Files, c.cfg.Sort); err != nil {
		return nil, err
	}
	return ranking.SelectFiles(rep, c.cfg.MaxFiles), nil
}

func selectFiles(files []discover.FileEntry, paths []string) []discover.FileEntry {
	want := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		want[filepath.Clean(p)] = struct{}{}
	}
	var out []discover.FileEntry
	for _, f := range files {
		if _, ok := want[filepath.Clean(f.Path)]; ok {
			out = append(out, f)
		}
	}
	return out
}

func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func resolveRoot(arg string) (string, error) {
	root, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: not a directory", root)
	}
	return root, nil
}
