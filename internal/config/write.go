package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/phobologic/srcmetrics/internal/log"
)

// ErrExists is returned by WriteDefault when the target file exists and
// overwriting was not requested.
var ErrExists = errors.New("config file already exists")

var keyComments = map[string]string{
	"ignore_header_comments": "Do not count a comment that starts on line 1 (license headers).",
	"encoding":               "Source charset, by IANA name. A byte order mark takes precedence.",
	"workers":                "Files analyzed in parallel. 0 uses every CPU.",
	"languages":              "Restrict analysis to these languages (go, groovy, java, python, ruby). Empty means all.",
	"exclude":                "Gitignore-style patterns of files to skip.",
	"max_file_size":          "Skip files larger than this many bytes. 0 disables the limit.",
	"structure":              "Compute class, function and complexity counts.",
	"format":                 "Report format: toon, json or yaml.",
	"sort":                   "Report file order: path, ncloc, comments or complexity. Metrics sort descending.",
	"max_files":              "Report only the first max_files files after sorting. 0 reports all.",
	"store":                  "SQLite database that receives every run. Empty disables it.",
	"cache_dir":              "Directory of the per-file result cache. Empty disables it.",
	"watch":                  "Watch mode settings.",
	"tracing":                "OpenTelemetry tracing. Exporter is none, file, stdout or otlp.",
}

// DefaultYAML renders Defaults as a commented YAML document.
func DefaultYAML() ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(Defaults()); err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind == yaml.MappingNode {
		for i := 0; i < len(root.Content)-1; i += 2 {
			if c, ok := keyComments[root.Content[i].Value]; ok {
				root.Content[i].HeadComment = c
			}
		}
	}
	root.HeadComment = "srcmetrics configuration"

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path, creating its
// directory. An existing file is replaced only when force is set.
func WriteDefault(path string, force bool) error {
	log.Debug(log.CatConfig, "Writing default config", "path", path)

	if !force && fileExists(path) {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	data, err := DefaultYAML()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", path)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", path)
	return nil
}
