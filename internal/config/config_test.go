package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/classfind/internal/match"
	"github.com/phobologic/classfind/internal/model"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringSlice("root", nil, "")
	fs.String("output", "text", "")
	fs.Int("max-depth", 256, "")
	fs.Bool("hierarchy", false, "")
	fs.Duration("debounce", 500*time.Millisecond, "")
	return fs
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "class", cfg.Format)
	assert.Equal(t, "text", cfg.Output)
	assert.Equal(t, 256, cfg.MaxDepth)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, "warn", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, path, err := Load(LoadOptions{SearchDirs: []string{t.TempDir()}})
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, Default().Format, cfg.Format)
	assert.Equal(t, Default().MaxDepth, cfg.MaxDepth)
	assert.Empty(t, cfg.Roots)
}

func TestLoadSearchedFile(t *testing.T) {
	dir := t.TempDir()
	want := writeConfig(t, dir, `
roots:
  - build/classes
  - lib/*.jar
format: source
output: json
ignore:
  - "*Test.class"
platform_prefixes: [java, jakarta]
max_depth: 64
hierarchy: true
watch:
  enabled: true
  debounce: 2s
log:
  level: debug
  format: json
`)

	cfg, path, err := Load(LoadOptions{SearchDirs: []string{t.TempDir(), dir}})
	require.NoError(t, err)
	assert.Equal(t, want, path)
	assert.Equal(t, []string{"build/classes", "lib/*.jar"}, cfg.Roots)
	assert.Equal(t, "source", cfg.Format)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, []string{"*Test.class"}, cfg.Ignore)
	assert.Equal(t, []string{"java", "jakarta"}, cfg.PlatformPrefixes)
	assert.Equal(t, 64, cfg.MaxDepth)
	assert.True(t, cfg.Hierarchy)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadExplicitFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "output: yaml\n")

	cfg, used, err := Load(LoadOptions{File: path})
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "yaml", cfg.Output)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, _, err := Load(LoadOptions{File: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "roots: [unterminated\n")

	_, _, err := Load(LoadOptions{SearchDirs: []string{dir}})
	require.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "output: json\nmax_depth: 10\n")
	t.Setenv("CLASSFIND_OUTPUT", "yaml")
	t.Setenv("CLASSFIND_ROOTS", "a,b")
	t.Setenv("CLASSFIND_WATCH_DEBOUNCE", "1s")

	cfg, _, err := Load(LoadOptions{SearchDirs: []string{dir}})
	require.NoError(t, err)
	assert.Equal(t, "yaml", cfg.Output)
	assert.Equal(t, 10, cfg.MaxDepth)
	assert.Equal(t, []string{"a", "b"}, cfg.Roots)
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
}

func TestLoadFlagsOverrideEverything(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "output: json\nroots: [from-file]\nmax_depth: 10\n")
	t.Setenv("CLASSFIND_OUTPUT", "yaml")

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--output", "text", "--root", "x", "--root", "y", "--hierarchy"}))

	cfg, _, err := Load(LoadOptions{SearchDirs: []string{dir}, Flags: fs})
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Output)
	assert.Equal(t, []string{"x", "y"}, cfg.Roots)
	assert.True(t, cfg.Hierarchy)
	// unset flags leave lower layers alone
	assert.Equal(t, 10, cfg.MaxDepth)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
}

func TestLoadSavedPredicate(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "predicate:\n  kind: annotated-elements\n  target: a.Inject\n  tag_targets: field\n")
	t.Setenv("CLASSFIND_PREDICATE_TARGET", "b.Inject")

	cfg, _, err := Load(LoadOptions{SearchDirs: []string{dir}})
	require.NoError(t, err)
	assert.Equal(t, PredicateConfig{Kind: "annotated-elements", Target: "b.Inject", TagTargets: "field"}, cfg.Predicate)

	pred, err := cfg.Predicate.Build()
	require.NoError(t, err)
	assert.Equal(t, match.KindTaggedMembers, pred.Kind)
	assert.Equal(t, model.TagRef{Name: "b.Inject", Targets: model.TargetField}, pred.Tag)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown format", func(c *Config) { c.Format = "wasm" }},
		{"unknown output", func(c *Config) { c.Output = "xml" }},
		{"negative depth", func(c *Config) { c.MaxDepth = -1 }},
		{"negative limit", func(c *Config) { c.Limit = -3 }},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = -time.Second }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"unknown predicate kind", func(c *Config) { c.Predicate = PredicateConfig{Kind: "extends", Target: "a.A"} }},
		{"predicate without target", func(c *Config) { c.Predicate = PredicateConfig{Kind: "implements"} }},
		{"predicate with bad targets", func(c *Config) {
			c.Predicate = PredicateConfig{Kind: "annotated-elements", Target: "a.T", TagTargets: "package"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "output: xml\n")

	_, _, err := Load(LoadOptions{SearchDirs: []string{dir}})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "info"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	assert.Equal(t, log.InfoLevel, logger.GetLevel())

	logger.Debug("hidden")
	logger.Info("shown", "unit", "p.A")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "p.A")
}

func TestNewLoggerJSON(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "json"

	var buf bytes.Buffer
	cfg.NewLogger(&buf).Warn("careful")
	assert.Contains(t, buf.String(), `"msg"`)
	assert.Contains(t, buf.String(), "careful")
}
