// Package config resolves supachat settings from ~/.supachat/config.yml
// overlaid by environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Backend string

const (
	BackendSupabase Backend = "supabase"
	BackendLocal    Backend = "local"
)

const (
	DefaultBucket   = "supachat+"
	DefaultLogLevel = "info"

	TypingHintAfterSend = "after_send"
	TypingHintOff       = "off"
)

// DefaultEnvFiles are read from the working directory, earlier files
// taking precedence. Real environment variables win over both.
var DefaultEnvFiles = []string{".env.local", ".env"}

type LocalConfig struct {
	// Database is a SQLite file path or a postgres:// URL.
	Database   string `yaml:"database"`
	StorageDir string `yaml:"storage_dir"`
	JWTSecret  string `yaml:"jwt_secret"`
	PublicURL  string `yaml:"public_url"`
}

type Config struct {
	Backend         Backend     `yaml:"backend"`
	SupabaseURL     string      `yaml:"supabase_url"`
	SupabaseAnonKey string      `yaml:"supabase_anon_key"`
	StorageBucket   string      `yaml:"storage_bucket"`
	Local           LocalConfig `yaml:"local"`
	TypingHint      string      `yaml:"typing_hint"`
	LogFile         string      `yaml:"log_file"`
	LogLevel        string      `yaml:"log_level"`
	SessionFile     string      `yaml:"session_file"`

	path string
}

// Error lists the configuration keys that are missing or invalid.
type Error struct {
	Path    string
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("configuration incomplete (%s): %s", e.Path, strings.Join(parts, "; "))
}

// Dir returns ~/.supachat.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".supachat"), nil
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// Load reads the YAML file at path (DefaultPath when empty; a missing file
// is not an error), then overlays the environment. envFiles defaults to
// DefaultEnvFiles. The result is not validated.
func Load(path string, envFiles ...string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if envFiles == nil {
		envFiles = DefaultEnvFiles
	}

	cfg := &Config{path: path}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	env, err := readEnvFiles(envFiles)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(env)
	cfg.applyDefaults()
	return cfg, nil
}

// readEnvFiles merges the dotenv files that exist, first file wins.
func readEnvFiles(files []string) (map[string]string, error) {
	merged := make(map[string]string)
	for i := len(files) - 1; i >= 0; i-- {
		if _, err := os.Stat(files[i]); err != nil {
			continue
		}
		values, err := godotenv.Read(files[i])
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", files[i], err)
		}
		for k, v := range values {
			merged[k] = v
		}
	}
	return merged, nil
}

func (c *Config) applyEnv(dotenv map[string]string) {
	lookup := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := os.LookupEnv(k); ok && v != "" {
				return v
			}
		}
		for _, k := range keys {
			if v := dotenv[k]; v != "" {
				return v
			}
		}
		return ""
	}
	set := func(dst *string, keys ...string) {
		if v := lookup(keys...); v != "" {
			*dst = v
		}
	}

	if v := lookup("SUPACHAT_BACKEND"); v != "" {
		c.Backend = Backend(v)
	}
	set(&c.SupabaseURL, "SUPABASE_URL", "VITE_SUPABASE_URL")
	set(&c.SupabaseAnonKey, "SUPABASE_ANON_KEY", "VITE_SUPABASE_ANON_KEY")
	set(&c.StorageBucket, "SUPACHAT_STORAGE_BUCKET")
	set(&c.Local.Database, "SUPACHAT_DATABASE")
	set(&c.Local.StorageDir, "SUPACHAT_STORAGE_DIR")
	set(&c.Local.JWTSecret, "SUPACHAT_JWT_SECRET")
	set(&c.Local.PublicURL, "SUPACHAT_PUBLIC_URL")
	set(&c.TypingHint, "SUPACHAT_TYPING_HINT")
	set(&c.LogLevel, "SUPACHAT_LOG_LEVEL")
}

// applyDefaults fills unset values; files default to the config directory.
func (c *Config) applyDefaults() {
	dir := filepath.Dir(c.path)
	if c.Backend == "" {
		c.Backend = BackendSupabase
	}
	if c.StorageBucket == "" {
		c.StorageBucket = DefaultBucket
	}
	if c.TypingHint == "" {
		c.TypingHint = TypingHintAfterSend
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(dir, "supachat.log")
	}
	if c.SessionFile == "" {
		c.SessionFile = filepath.Join(dir, "session.yml")
	}
	if c.Backend == BackendLocal {
		if c.Local.Database == "" {
			c.Local.Database = filepath.Join(dir, "local.db")
		}
		if c.Local.StorageDir == "" {
			c.Local.StorageDir = filepath.Join(dir, "objects")
		}
	}
	c.SupabaseURL = strings.TrimRight(strings.TrimSpace(c.SupabaseURL), "/")
	c.SupabaseAnonKey = strings.TrimSpace(c.SupabaseAnonKey)
}

// Path is the config file this configuration was loaded from.
func (c *Config) Path() string { return c.path }

// Validate reports the keys the selected backend needs but lacks.
func (c *Config) Validate() error {
	cfgErr := &Error{Path: c.path}

	switch c.Backend {
	case BackendSupabase:
		if c.SupabaseURL == "" {
			cfgErr.Missing = append(cfgErr.Missing, "supabase_url")
		}
		if c.SupabaseAnonKey == "" {
			cfgErr.Missing = append(cfgErr.Missing, "supabase_anon_key")
		}
	case BackendLocal:
		if c.Local.JWTSecret == "" {
			cfgErr.Missing = append(cfgErr.Missing, "local.jwt_secret")
		}
	default:
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("backend %q", c.Backend))
	}

	if c.TypingHint != TypingHintAfterSend && c.TypingHint != TypingHintOff {
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("typing_hint %q", c.TypingHint))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("log_level %q", c.LogLevel))
	}

	if len(cfgErr.Missing) > 0 || len(cfgErr.Invalid) > 0 {
		return cfgErr
	}
	return nil
}

// IsConfigError reports whether err is a *Error.
func IsConfigError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	copied := *c
	copied.SupabaseAnonKey = mask(c.SupabaseAnonKey)
	copied.Local.JWTSecret = mask(c.Local.JWTSecret)
	return copied
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "********"
	}
	return secret[:4] + "…" + secret[len(secret)-4:]
}

// YAML renders the configuration as it would appear in config.yml.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}
