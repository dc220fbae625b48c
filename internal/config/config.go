// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/magiconair/properties"
)

// Config holds the process-level settings of the conditions system.
type Config struct {
	ConnectionFile string // path to a connection .properties file (optional)
	Profile        string // deployment profile name or XML file path (empty: chosen by run number)
	Tag            string // conditions tag applied to every lookup (optional)
	DetectorsDir   string // directory holding <detector>/compact.xml files
	SchemaFile     string // YAML table schema extending the built-in registry (optional)
	SecretKey      string // hex AES-256 key opening sealed connection passwords (optional)
	LogLevel       string // log level: debug, info, warn, error (default "info")
	Env            string // environment: "development" (default) or "production"

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps a level name to an slog.Level. Unknown names map to info.
// The java.util.logging names used by older profiles are accepted too.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "fine", "finer", "finest", "all":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "severe":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ConnectionFile: os.Getenv("CONDITIONS_CONNECTION_FILE"),
		Profile:        os.Getenv("CONDITIONS_PROFILE"),
		Tag:            os.Getenv("CONDITIONS_TAG"),
		DetectorsDir:   os.Getenv("CONDITIONS_DETECTORS_DIR"),
		SchemaFile:     os.Getenv("CONDITIONS_SCHEMA_FILE"),
		SecretKey:      os.Getenv("CONDITIONS_SECRET_KEY"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Env:            os.Getenv("ENV"),
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DetectorsDir == "" {
		cfg.DetectorsDir = "detectors"
	}
	if cfg.ConnectionFile != "" {
		if _, err := os.Stat(cfg.ConnectionFile); err != nil {
			return nil, fmt.Errorf("connection properties file from CONDITIONS_CONNECTION_FILE: %w", err)
		}
	} else {
		cfg.Warnings = append(cfg.Warnings, "CONDITIONS_CONNECTION_FILE not set, using the local SQLite database")
	}

	// Production jobs must not silently fall back to a scratch database.
	if cfg.IsProduction() && cfg.ConnectionFile == "" {
		return nil, fmt.Errorf("CONDITIONS_CONNECTION_FILE must be set in production (ENV=production)")
	}

	return cfg, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// LoadConnectionProperties reads a connection .properties file into a map.
func LoadConnectionProperties(path string) (map[string]string, error) {
	p, err := propertiesLoader().LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return p.Map(), nil
}

// ReadProperties parses Java properties syntax: '=', ':' or whitespace
// separators, '#' and '!' comments, backslash escapes and line
// continuations. Values are kept verbatim, quotes included, and ${...}
// references are not expanded. Later keys override earlier ones.
func ReadProperties(r io.Reader) (map[string]string, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	p, err := propertiesLoader().LoadBytes(buf)
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}

func propertiesLoader() *properties.Loader {
	return &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
