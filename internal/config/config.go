// Package config loads srcmetrics settings from flags, environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/phobologic/srcmetrics/internal/lang"
	"github.com/phobologic/srcmetrics/internal/log"
	"github.com/phobologic/srcmetrics/internal/ranking"
	"github.com/phobologic/srcmetrics/internal/report"
	"github.com/phobologic/srcmetrics/internal/tracing"
)

// ProjectFile is the per-project config file name, looked up in the
// working directory.
const ProjectFile = ".srcmetrics.yaml"

// EnvPrefix prefixes environment overrides, e.g. SRCMETRICS_WORKERS.
const EnvPrefix = "SRCMETRICS"

// Config holds all srcmetrics options.
type Config struct {
	IgnoreHeaderComments bool           `mapstructure:"ignore_header_comments" yaml:"ignore_header_comments"`
	Encoding             string         `mapstructure:"encoding" yaml:"encoding"`
	Workers              int            `mapstructure:"workers" yaml:"workers"`
	Languages            []string       `mapstructure:"languages" yaml:"languages"`
	Exclude              []string       `mapstructure:"exclude" yaml:"exclude"`
	MaxFileSize          int64          `mapstructure:"max_file_size" yaml:"max_file_size"`
	Structure            bool           `mapstructure:"structure" yaml:"structure"`
	Format               string         `mapstructure:"format" yaml:"format"`
	Sort                 string         `mapstructure:"sort" yaml:"sort"`
	MaxFiles             int            `mapstructure:"max_files" yaml:"max_files"`
	Store                string         `mapstructure:"store" yaml:"store"`
	CacheDir             string         `mapstructure:"cache_dir" yaml:"cache_dir"`
	Watch                WatchConfig    `mapstructure:"watch" yaml:"watch"`
	Tracing              tracing.Config `mapstructure:"tracing" yaml:"tracing"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Debounce is how long to wait after the last change before re-analyzing.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		IgnoreHeaderComments: true,
		Encoding:             "UTF-8",
		Languages:            []string{},
		Exclude:              []string{},
		MaxFileSize:          1_000_000,
		Structure:            true,
		Format:               report.FormatTOON,
		Sort:                 ranking.ByPath,
		Watch:                WatchConfig{Debounce: 300 * time.Millisecond},
		Tracing:              tracing.DefaultConfig(),
	}
}

// SetDefaults registers every key of Defaults on v so environment overrides
// and Unmarshal see them.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("ignore_header_comments", d.IgnoreHeaderComments)
	v.SetDefault("encoding", d.Encoding)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("languages", d.Languages)
	v.SetDefault("exclude", d.Exclude)
	v.SetDefault("max_file_size", d.MaxFileSize)
	v.SetDefault("structure", d.Structure)
	v.SetDefault("format", d.Format)
	v.SetDefault("sort", d.Sort)
	v.SetDefault("max_files", d.MaxFiles)
	v.SetDefault("store", d.Store)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load reads the configuration into a Config. The file is cfgFile when set,
// otherwise ./.srcmetrics.yaml, otherwise ~/.config/srcmetrics/config.yaml.
// A missing default file is not an error; a missing cfgFile is.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case fileExists(ProjectFile):
		v.SetConfigFile(ProjectFile)
	default:
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "srcmetrics"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.ErrorErr(log.CatConfig, "Failed to read config", err, "file", cfgFile)
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		log.Debug(log.CatConfig, "No config file found, using defaults")
	} else {
		log.Debug(log.CatConfig, "Loaded config", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg for values the analysis cannot run with.
func Validate(cfg Config) error {
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	if cfg.MaxFileSize < 0 {
		return fmt.Errorf("max_file_size must not be negative, got %d", cfg.MaxFileSize)
	}
	if !slices.Contains(report.Formats, cfg.Format) {
		return fmt.Errorf("format must be one of %s, got %q", strings.Join(report.Formats, ", "), cfg.Format)
	}
	if !slices.Contains(ranking.Keys, cfg.Sort) {
		return fmt.Errorf("sort must be one of %s, got %q", strings.Join(ranking.Keys, ", "), cfg.Sort)
	}
	if cfg.MaxFiles < 0 {
		return fmt.Errorf("max_files must not be negative, got %d", cfg.MaxFiles)
	}
	for _, name := range cfg.Languages {
		if _, ok := lang.Languages[name]; !ok {
			return fmt.Errorf("unsupported language %q", name)
		}
	}
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %s", cfg.Watch.Debounce)
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}
	switch t.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
	}
	if t.Enabled {
		if t.Exporter == "file" && t.FilePath == "" {
			return errors.New("tracing.file_path is required when exporter is \"file\"")
		}
		if t.Exporter == "otlp" && t.OTLPEndpoint == "" {
			return errors.New("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
