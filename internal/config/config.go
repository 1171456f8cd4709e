// Package config loads classfind settings from defaults, an optional
// classfind.yaml, CLASSFIND_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/phobologic/classfind/internal/match"
	"github.com/phobologic/classfind/internal/model"
	"github.com/phobologic/classfind/internal/output"
	"github.com/phobologic/classfind/internal/parse"
)

const (
	// AppName is the application name.
	AppName = "classfind"
	// FileName is the config file name without extension.
	FileName = "classfind"
	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "CLASSFIND"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type (
	// Config is the resolved configuration of one invocation.
	Config struct {
		Roots  []string `mapstructure:"roots" yaml:"roots"`
		Format string   `mapstructure:"format" yaml:"format"`
		Output string   `mapstructure:"output" yaml:"output"`
		Ignore []string `mapstructure:"ignore" yaml:"ignore"`
		// PlatformPrefixes replaces the prefixes of the platform table when set.
		PlatformPrefixes []string `mapstructure:"platform_prefixes" yaml:"platform_prefixes"`
		// PlatformTable is a YAML file merged over the embedded platform table.
		PlatformTable string      `mapstructure:"platform_table" yaml:"platform_table"`
		MaxDepth      int         `mapstructure:"max_depth" yaml:"max_depth"`
		Hierarchy     bool        `mapstructure:"hierarchy" yaml:"hierarchy"`
		Limit         int         `mapstructure:"limit" yaml:"limit"`
		MetricsAddr   string      `mapstructure:"metrics_addr" yaml:"metrics_addr"`
		Watch         WatchConfig `mapstructure:"watch" yaml:"watch"`
		Log           LogConfig   `mapstructure:"log" yaml:"log"`
		// Predicate is applied when no predicate flag is given.
		Predicate PredicateConfig `mapstructure:"predicate" yaml:"predicate,omitempty"`
	}

	// PredicateConfig names a saved query.
	PredicateConfig struct {
		// Kind is one of subtype-of, implements, annotated-with or
		// annotated-elements.
		Kind       string `mapstructure:"kind" yaml:"kind"`
		Target     string `mapstructure:"target" yaml:"target"`
		TagTargets string `mapstructure:"tag_targets" yaml:"tag_targets,omitempty"`
	}

	// WatchConfig controls rerunning discovery on change.
	WatchConfig struct {
		Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
		Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	}

	// LogConfig controls the diagnostic log written to stderr.
	LogConfig struct {
		Level string `mapstructure:"level" yaml:"level"`
		// Format is one of text, json or logfmt.
		Format string `mapstructure:"format" yaml:"format"`
	}

	// LoadOptions controls where Load looks for settings.
	LoadOptions struct {
		// File is an explicit config file. It must exist.
		File string
		// SearchDirs are searched in order for classfind.yaml when File is
		// empty. Nil means the working directory and the user config dir.
		SearchDirs []string
		// Flags are bound over every other source. Only flags the user set
		// take precedence.
		Flags *pflag.FlagSet
	}
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Format:   parse.ClassFormat,
		Output:   output.FormatText,
		MaxDepth: 256,
		Watch:    WatchConfig{Debounce: 500 * time.Millisecond},
		Log:      LogConfig{Level: "warn", Format: "text"},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"root":            "roots",
	"format":          "format",
	"output":          "output",
	"ignore":          "ignore",
	"platform-prefix": "platform_prefixes",
	"platform-table":  "platform_table",
	"max-depth":       "max_depth",
	"hierarchy":       "hierarchy",
	"limit":           "limit",
	"metrics-addr":    "metrics_addr",
	"watch":           "watch.enabled",
	"debounce":        "watch.debounce",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

// Load resolves the configuration and returns it with the path of the
// config file that was read, or "" when none was found.
func Load(opts LoadOptions) (*Config, string, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("roots", []string{})
	v.SetDefault("format", d.Format)
	v.SetDefault("output", d.Output)
	v.SetDefault("ignore", []string{})
	v.SetDefault("platform_prefixes", []string{})
	v.SetDefault("platform_table", d.PlatformTable)
	v.SetDefault("max_depth", d.MaxDepth)
	v.SetDefault("hierarchy", d.Hierarchy)
	v.SetDefault("limit", d.Limit)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("predicate.kind", "")
	v.SetDefault("predicate.target", "")
	v.SetDefault("predicate.tag_targets", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path, err := readConfigFile(v, opts)
	if err != nil {
		return nil, "", err
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, "", fmt.Errorf("binding flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, path, nil
}

func readConfigFile(v *viper.Viper, opts LoadOptions) (string, error) {
	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("reading config %s: %w", opts.File, err)
		}
		return opts.File, nil
	}

	dirs := opts.SearchDirs
	if dirs == nil {
		dirs = defaultSearchDirs()
	}
	if len(dirs) == 0 {
		return "", nil
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("reading config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

func defaultSearchDirs() []string {
	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, AppName))
	}
	return dirs
}

// Validate checks values that the flag and file layers cannot constrain.
func (c *Config) Validate() error {
	if _, err := parse.Lookup(c.Format); err != nil {
		return fmt.Errorf("%w: format: %w", ErrInvalid, err)
	}
	if !slices.Contains(output.Formats(), strings.ToLower(c.Output)) {
		return fmt.Errorf("%w: output %q (want one of %s)", ErrInvalid, c.Output, strings.Join(output.Formats(), ", "))
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth must not be negative, got %d", ErrInvalid, c.MaxDepth)
	}
	if c.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative, got %d", ErrInvalid, c.Limit)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("%w: watch.debounce must not be negative, got %s", ErrInvalid, c.Watch.Debounce)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}
	if _, ok := logFormatters[strings.ToLower(c.Log.Format)]; !ok {
		return fmt.Errorf("%w: log.format %q (want text, json or logfmt)", ErrInvalid, c.Log.Format)
	}
	if c.Predicate.Kind != "" {
		if _, err := c.Predicate.Build(); err != nil {
			return fmt.Errorf("%w: predicate: %w", ErrInvalid, err)
		}
	}
	return nil
}

// Build turns the saved query into a predicate.
func (p PredicateConfig) Build() (match.Predicate, error) {
	kind, err := match.ParseKind(p.Kind)
	if err != nil {
		return match.Predicate{}, err
	}
	targets, unknown := model.ParseTargets(p.TagTargets)
	if len(unknown) > 0 {
		return match.Predicate{}, fmt.Errorf("unknown tag targets: %s", strings.Join(unknown, ", "))
	}
	pred := match.New(kind, p.Target, targets)
	if err := pred.Validate(); err != nil {
		return match.Predicate{}, err
	}
	return pred, nil
}

var logFormatters = map[string]log.Formatter{
	"text":   log.TextFormatter,
	"json":   log.JSONFormatter,
	"logfmt": log.LogfmtFormatter,
}

// NewLogger builds the logger described by c.Log, writing to w.
func (c *Config) NewLogger(w io.Writer) *log.Logger {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		level = log.WarnLevel
	}
	formatter, ok := logFormatters[strings.ToLower(c.Log.Format)]
	if !ok {
		formatter = log.TextFormatter
	}
	return log.NewWithOptions(w, log.Options{
		Prefix:          AppName,
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: formatter != log.TextFormatter,
	})
}
