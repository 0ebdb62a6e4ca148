// Package log provides structured, category-tagged logging for srcmetrics.
// Logging is off until Init is called, which the CLI does for --debug or
// SRCMETRICS_DEBUG.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var levelColors = map[Level]*color.Color{
	LevelDebug: color.New(color.FgHiBlack),
	LevelInfo:  color.New(color.FgCyan),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

// Category groups related log messages.
type Category string

const (
	CatLex       Category = "lex"       // tokenizer failures
	CatMetrics   Category = "metrics"   // line classification and fallback
	CatHighlight Category = "highlight" // highlighting and CPD tokens
	CatStructure Category = "structure" // class/function/complexity
	CatCoverage  Category = "coverage"  // execution data merge
	CatStore     Category = "store"     // SQLite measurement store
	CatCache     Category = "cache"     // result cache
	CatConfig    Category = "config"    // configuration loading
	CatWatch     Category = "watch"     // file watcher events
	CatSensor    Category = "sensor"    // per-file orchestration
)

// Logger provides structured logging.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	writer   io.Writer
	colorize bool
	minLevel Level
}

var (
	mu            sync.RWMutex
	defaultLogger *Logger
)

// Init routes log output to path, or to w when path is empty. The returned
// function closes the log file.
func Init(path string, w io.Writer) (func(), error) {
	l := &Logger{writer: w, minLevel: LevelDebug}
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // user-supplied log path
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		l.file = f
		l.writer = f
	} else if f, ok := w.(*os.File); ok {
		l.colorize = !color.NoColor && isTerminal(f)
	}

	mu.Lock()
	defaultLogger = l
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		if defaultLogger == l {
			defaultLogger = nil
		}
		if l.file != nil {
			_ = l.file.Close()
		}
	}, nil
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	mu.RLock()
	defer mu.RUnlock()
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.minLevel = level
		defaultLogger.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	log(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	log(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	log(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	log(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	log(LevelError, cat, msg, fields...)
}

func log(level Level, cat Category, msg string, fields ...any) {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.minLevel {
		return
	}

	// Format: 2025-12-06T10:45:00 [ERROR] [lex] message key=value key2=value2
	timestamp := time.Now().Format("2006-01-02T15:04:05")
	tag := "[" + level.String() + "]"
	if l.colorize {
		tag = levelColors[level].Sprint(tag)
	}
	entry := fmt.Sprintf("%s %s [%s] %s", timestamp, tag, cat, msg)

	for i := 0; i+1 < len(fields); i += 2 {
		entry += fmt.Sprintf(" %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 != 0 {
		entry += fmt.Sprintf(" %v=<missing>", fields[len(fields)-1])
	}
	entry += "\n"

	_, _ = io.WriteString(l.writer, entry)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
