// Package config loads appear configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Command-line flags (applied by cmd)
//  2. Environment variables (APPEAR_*)
//  3. Config file
//  4. Built-in defaults
//
// Config file search order:
//  1. .appear.yaml in current directory
//  2. ~/.config/appear/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all appear configuration.
type Config struct {
	// Output
	LogFile string `yaml:"log_file"`
	Verbose bool   `yaml:"verbose"`

	// Subprocess recording, for building test fixtures
	RecordRuns bool   `yaml:"record_runs"`
	RecordDir  string `yaml:"record_dir"`

	// Revealing
	Multiplexer    string   `yaml:"multiplexer"`
	Terminals      []string `yaml:"terminals"` // Tried in order; earlier wins when several run
	MaxRevealDepth int      `yaml:"max_reveal_depth"`
	NoCache        bool     `yaml:"no_cache"` // Run ps and lsof afresh for every lookup

	// Editor
	NvimSockets    string `yaml:"nvim_sockets"`    // Glob, e.g. "~/.vim/sockets/*.sock"
	EditorWait     string `yaml:"editor_wait"`     // Go duration string; "off" does not wait for nvim
	EditorTerminal string `yaml:"editor_terminal"` // Opens windows for detached sessions; empty picks the running one

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	// Parsed durations (not from YAML, set after loading)
	EditorWaitDuration time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		RecordDir:      filepath.Join(os.TempDir(), "appear-runs"),
		Multiplexer:    "tmux",
		Terminals:      []string{"iterm2", "terminal"},
		MaxRevealDepth: 4,
		NvimSockets:    "~/.vim/sockets/*.sock",
		EditorWait:     "5s",
	}
}

// Load reads configuration from file and environment variables.
// Environment variables always override file values.
func Load() (*Config, error) {
	cfg := Defaults()

	// Try to load config file
	if path, data, err := findConfigFile(); err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg)
	}

	// Environment variables override everything
	if err := mergeEnv(cfg); err != nil {
		return nil, err
	}

	var err error
	cfg.EditorWaitDuration, err = parseDurationOrDisable(cfg.EditorWait, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid editor wait %q: %w", cfg.EditorWait, err)
	}
	if cfg.MaxRevealDepth < 0 {
		return nil, fmt.Errorf("invalid max reveal depth %d: must not be negative", cfg.MaxRevealDepth)
	}

	return cfg, nil
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile() (string, []byte, error) {
	// 1. Current directory
	if data, err := os.ReadFile(".appear.yaml"); err == nil {
		return ".appear.yaml", data, nil
	}

	// 2. XDG config dir / ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "appear", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	if file.LogFile != "" {
		cfg.LogFile = file.LogFile
	}
	if file.Verbose {
		cfg.Verbose = true
	}
	if file.RecordRuns {
		cfg.RecordRuns = true
	}
	if file.RecordDir != "" {
		cfg.RecordDir = file.RecordDir
	}
	if file.Multiplexer != "" {
		cfg.Multiplexer = file.Multiplexer
	}
	if len(file.Terminals) > 0 {
		cfg.Terminals = file.Terminals
	}
	if file.NoCache {
		cfg.NoCache = true
	}
	if file.MaxRevealDepth != 0 {
		cfg.MaxRevealDepth = file.MaxRevealDepth
	}
	if file.NvimSockets != "" {
		cfg.NvimSockets = file.NvimSockets
	}
	if file.EditorWait != "" {
		cfg.EditorWait = file.EditorWait
	}
	if file.EditorTerminal != "" {
		cfg.EditorTerminal = file.EditorTerminal
	}
	if file.OTELEndpoint != "" {
		cfg.OTELEndpoint = file.OTELEndpoint
	}
	if file.OTELHeaders != "" {
		cfg.OTELHeaders = file.OTELHeaders
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) error {
	if v := os.Getenv("APPEAR_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("APPEAR_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("APPEAR_RECORD_RUNS"); v == "true" || v == "1" {
		cfg.RecordRuns = true
	}
	if v := os.Getenv("APPEAR_RECORD_DIR"); v != "" {
		cfg.RecordDir = v
	}
	if v := os.Getenv("APPEAR_MULTIPLEXER"); v != "" {
		cfg.Multiplexer = v
	}
	if v := os.Getenv("APPEAR_TERMINALS"); v != "" {
		cfg.Terminals = splitList(v)
	}
	if v := os.Getenv("APPEAR_MAX_REVEAL_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid APPEAR_MAX_REVEAL_DEPTH %q: %w", v, err)
		}
		cfg.MaxRevealDepth = n
	}
	if v := os.Getenv("APPEAR_NO_CACHE"); v == "true" || v == "1" {
		cfg.NoCache = true
	}
	if v := os.Getenv("APPEAR_NVIM_SOCKETS"); v != "" {
		cfg.NvimSockets = v
	}
	if v := os.Getenv("APPEAR_EDITOR_WAIT"); v != "" {
		cfg.EditorWait = v
	}
	if v := os.Getenv("APPEAR_EDITOR_TERMINAL"); v != "" {
		cfg.EditorTerminal = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		cfg.OTELHeaders = v
	}
	return nil
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
