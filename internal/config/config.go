// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tasknest/tasknest-cli/internal/fsutil"
)

// Defaults.
const (
	DefaultBaseURL  = "https://dummyjson.com"
	DefaultTheme    = "dark"
	DefaultFormat   = "auto"
	DefaultTimeout  = 30 * time.Second
	DefaultCacheTTL = 30 * time.Second
)

// Config holds the resolved configuration.
type Config struct {
	// API settings
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"-"`

	// Credential storage
	Keyring bool `json:"keyring"`

	// Cache settings
	CacheDir string        `json:"cache_dir"`
	CacheTTL time.Duration `json:"-"`

	// Presentation preferences
	Theme  string `json:"theme"`
	Format string `json:"format"`

	// Behavior preferences (persisted via config set, overridable by flags)
	Stats   *bool `json:"stats,omitempty"`
	Verbose *int  `json:"verbose,omitempty"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceDotenv  Source = "dotenv"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	BaseURL  string
	CacheDir string
	Format   string
	Theme    string
	Timeout  time.Duration
}

// Default returns the default configuration.
func Default() *Config {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}

	cfg := &Config{
		BaseURL:  DefaultBaseURL,
		Timeout:  DefaultTimeout,
		Keyring:  true,
		CacheDir: filepath.Join(cacheDir, "tasknest"),
		CacheTTL: DefaultCacheTTL,
		Theme:    DefaultTheme,
		Format:   DefaultFormat,
		Sources:  make(map[string]string),
	}
	for _, k := range Keys() {
		cfg.Sources[k] = string(SourceDefault)
	}
	return cfg
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > .env > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, systemConfigPath(), SourceSystem)
	loadFromFile(cfg, GlobalConfigPath(), SourceGlobal)

	if err := loadDotenv(cfg, ".env"); err != nil {
		return nil, err
	}
	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	if !validFormat(cfg.Format) {
		return nil, fmt.Errorf("invalid format %q (want auto, json, yaml, styled, or quiet)", cfg.Format)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fileCfg map[string]any
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	if v, ok := fileCfg["base_url"].(string); ok && v != "" {
		cfg.BaseURL = v
		cfg.Sources["base_url"] = string(source)
	}
	if v, ok := fileCfg["theme"].(string); ok && v != "" {
		if validTheme(v) {
			cfg.Theme = v
			cfg.Sources["theme"] = string(source)
		} else {
			fmt.Fprintf(os.Stderr, "warning: ignoring unknown theme %q in %s\n", v, path)
		}
	}
	if v, ok := fileCfg["format"].(string); ok && v != "" {
		cfg.Format = v
		cfg.Sources["format"] = string(source)
	}
	if d, ok := getDuration(fileCfg, "timeout"); ok {
		cfg.Timeout = d
		cfg.Sources["timeout"] = string(source)
	}
	if v, ok := fileCfg["keyring"].(bool); ok {
		cfg.Keyring = v
		cfg.Sources["keyring"] = string(source)
	}
	if v, ok := fileCfg["cache_dir"].(string); ok && v != "" {
		cfg.CacheDir = v
		cfg.Sources["cache_dir"] = string(source)
	}
	if d, ok := getDuration(fileCfg, "cache_ttl"); ok {
		cfg.CacheTTL = d
		cfg.Sources["cache_ttl"] = string(source)
	}
	if v, ok := fileCfg["stats"].(bool); ok {
		cfg.Stats = &v
		cfg.Sources["stats"] = string(source)
	}
	if v, ok := fileCfg["verbose"]; ok {
		if fv, ok := v.(float64); ok {
			iv := int(fv)
			if iv >= 0 && iv <= 2 && fv == float64(iv) {
				cfg.Verbose = &iv
				cfg.Sources["verbose"] = string(source)
			}
		}
	}
}

// loadDotenv reads TASKNEST_* entries from a .env file into the process
// environment. Variables already set in the real environment win.
func loadDotenv(cfg *Config, path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	for k, v := range env {
		if !strings.HasPrefix(k, "TASKNEST_") {
			continue
		}
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
		if key, ok := envKeys[k]; ok {
			cfg.Sources[key] = string(SourceDotenv)
		}
	}
	return nil
}

// envKeys maps environment variables to the config key they set.
var envKeys = map[string]string{
	"TASKNEST_BASE_URL":   "base_url",
	"TASKNEST_THEME":      "theme",
	"TASKNEST_FORMAT":     "format",
	"TASKNEST_TIMEOUT":    "timeout",
	"TASKNEST_NO_KEYRING": "keyring",
	"TASKNEST_CACHE_DIR":  "cache_dir",
	"TASKNEST_CACHE_TTL":  "cache_ttl",
	"TASKNEST_STATS":      "stats",
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	set := func(key string) {
		// Values copied in from .env keep their dotenv source.
		if cfg.Sources[key] != string(SourceDotenv) {
			cfg.Sources[key] = string(SourceEnv)
		}
	}

	if v := os.Getenv("TASKNEST_BASE_URL"); v != "" {
		cfg.BaseURL = v
		set("base_url")
	}
	if v := os.Getenv("TASKNEST_THEME"); v != "" && validTheme(v) {
		cfg.Theme = v
		set("theme")
	}
	if v := os.Getenv("TASKNEST_FORMAT"); v != "" {
		cfg.Format = v
		set("format")
	}
	if v := os.Getenv("TASKNEST_TIMEOUT"); v != "" {
		if d, err := ParseDuration(v); err == nil {
			cfg.Timeout = d
			set("timeout")
		}
	}
	if v := os.Getenv("TASKNEST_NO_KEYRING"); v != "" {
		if b, ok := parseEnvBool(v); ok {
			cfg.Keyring = !b
			set("keyring")
		}
	}
	if v := os.Getenv("TASKNEST_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
		set("cache_dir")
	}
	if v := os.Getenv("TASKNEST_CACHE_TTL"); v != "" {
		if d, err := ParseDuration(v); err == nil {
			cfg.CacheTTL = d
			set("cache_ttl")
		}
	}
	if v := os.Getenv("TASKNEST_STATS"); v != "" {
		if b, ok := parseEnvBool(v); ok {
			cfg.Stats = &b
			set("stats")
		}
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
		cfg.Sources["base_url"] = string(SourceFlag)
	}
	if o.CacheDir != "" {
		cfg.CacheDir = o.CacheDir
		cfg.Sources["cache_dir"] = string(SourceFlag)
	}
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
	if o.Theme != "" && validTheme(o.Theme) {
		cfg.Theme = o.Theme
		cfg.Sources["theme"] = string(SourceFlag)
	}
	if o.Timeout > 0 {
		cfg.Timeout = o.Timeout
		cfg.Sources["timeout"] = string(SourceFlag)
	}
}

// parseEnvBool parses a boolean environment variable strictly.
// Returns (value, true) for recognized values, (false, false) for unrecognized.
func parseEnvBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

// ParseDuration accepts Go durations ("45s", "2m") or a bare number of seconds.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("duration must be positive: %q", v)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", v)
	}
	return d, nil
}

// getDuration extracts a duration stored either as a string or as seconds.
func getDuration(m map[string]any, key string) (time.Duration, bool) {
	switch v := m[key].(type) {
	case string:
		d, err := ParseDuration(v)
		return d, err == nil
	case float64:
		if v <= 0 {
			return 0, false
		}
		return time.Duration(v * float64(time.Second)), true
	default:
		return 0, false
	}
}

func validTheme(v string) bool {
	return v == "light" || v == "dark"
}

func validFormat(v string) bool {
	switch v {
	case "auto", "json", "yaml", "yml", "styled", "quiet":
		return true
	}
	return false
}

// Keys returns the persisted config keys in display order.
func Keys() []string {
	return []string{"base_url", "theme", "format", "timeout", "keyring", "cache_dir", "cache_ttl", "stats", "verbose"}
}

// Values returns the resolved value of every key as display strings.
func (cfg *Config) Values() map[string]string {
	vals := map[string]string{
		"base_url":  cfg.BaseURL,
		"theme":     cfg.Theme,
		"format":    cfg.Format,
		"timeout":   cfg.Timeout.String(),
		"keyring":   strconv.FormatBool(cfg.Keyring),
		"cache_dir": cfg.CacheDir,
		"cache_ttl": cfg.CacheTTL.String(),
	}
	if cfg.Stats != nil {
		vals["stats"] = strconv.FormatBool(*cfg.Stats)
	}
	if cfg.Verbose != nil {
		vals["verbose"] = strconv.Itoa(*cfg.Verbose)
	}
	return vals
}

// Path helpers

func systemConfigPath() string {
	return "/etc/tasknest/config.json"
}

// GlobalConfigPath returns the path of the user's config file.
func GlobalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.json")
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "tasknest")
}

// SetValue validates value for key and persists it to the config file at path.
// Returns the value as stored.
func SetValue(path, key, value string) (any, error) {
	stored, err := coerce(key, value)
	if err != nil {
		return nil, err
	}

	m, err := readFileMap(path)
	if err != nil {
		return nil, err
	}
	m[key] = stored
	return stored, writeFileMap(path, m)
}

// UnsetValue removes key from the config file at path. Missing keys are a no-op.
func UnsetValue(path, key string) error {
	if !isKey(key) {
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
	m, err := readFileMap(path)
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return writeFileMap(path, m)
}

func isKey(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// coerce converts a command-line string into the JSON value stored for key.
func coerce(key, value string) (any, error) {
	switch key {
	case "base_url", "cache_dir":
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("%s cannot be empty", key)
		}
		return value, nil
	case "theme":
		if !validTheme(value) {
			return nil, fmt.Errorf("invalid theme %q (want light or dark)", value)
		}
		return value, nil
	case "format":
		if !validFormat(value) {
			return nil, fmt.Errorf("invalid format %q (want auto, json, yaml, styled, or quiet)", value)
		}
		return value, nil
	case "timeout", "cache_ttl":
		d, err := ParseDuration(value)
		if err != nil {
			return nil, err
		}
		return d.String(), nil
	case "keyring", "stats":
		b, ok := parseEnvBool(value)
		if !ok {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return b, nil
	case "verbose":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 2 {
			return nil, fmt.Errorf("verbose must be 0, 1, or 2")
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
}

func readFileMap(path string) (map[string]any, error) {
	m := map[string]any{}
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is the user's config file
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config file %s is not valid JSON: %w", path, err)
	}
	return m, nil
}

func writeFileMap(path string, m map[string]any) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, append(data, '\n'))
}
