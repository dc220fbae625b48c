package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONDITIONS_CONNECTION_FILE", "CONDITIONS_PROFILE", "CONDITIONS_TAG",
		"CONDITIONS_DETECTORS_DIR", "CONDITIONS_SCHEMA_FILE", "CONDITIONS_SECRET_KEY", "LOG_LEVEL", "ENV",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "detectors", cfg.DetectorsDir)
	assert.Empty(t, cfg.ConnectionFile)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "CONDITIONS_CONNECTION_FILE")
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	props := filepath.Join(t.TempDir(), "conditions.properties")
	require.NoError(t, os.WriteFile(props, []byte("hostname=localhost\n"), 0o600))

	t.Setenv("CONDITIONS_CONNECTION_FILE", props)
	t.Setenv("CONDITIONS_PROFILE", "engrun")
	t.Setenv("CONDITIONS_TAG", "pass1")
	t.Setenv("CONDITIONS_DETECTORS_DIR", "/opt/detectors")
	t.Setenv("CONDITIONS_SECRET_KEY", "00ff")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, props, cfg.ConnectionFile)
	assert.Equal(t, "engrun", cfg.Profile)
	assert.Equal(t, "pass1", cfg.Tag)
	assert.Equal(t, "/opt/detectors", cfg.DetectorsDir)
	assert.Equal(t, "00ff", cfg.SecretKey)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_MissingConnectionFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONDITIONS_CONNECTION_FILE", filepath.Join(t.TempDir(), "missing.properties"))

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONDITIONS_CONNECTION_FILE")
}

func TestLoadFromEnv_ProductionRequiresConnection(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"FINE", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"config", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"SEVERE", slog.LevelError},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestReadProperties(t *testing.T) {
	in := `# connection to the conditions database
! legacy comment
hostname = hpsdb.example.org
port: 3306
user hpsuser
password="secret=value"
database=hps_\
    conditions
notes=a\=b \u00e9 ${user}
`
	props, err := ReadProperties(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"hostname": "hpsdb.example.org",
		"port":     "3306",
		"user":     "hpsuser",
		"password": `"secret=value"`,
		"database": "hps_conditions",
		"notes":    "a=b é ${user}",
	}, props)
}

func TestReadProperties_EscapedKey(t *testing.T) {
	in := `user\ name a\=b
hostname=db\
  .jlab.org
`
	props, err := ReadProperties(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, "a=b", props["user name"])
	assert.Equal(t, "db.jlab.org", props["hostname"])
}

func TestLoadConnectionProperties(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.properties")
	require.NoError(t, os.WriteFile(path, []byte("driver=pgx\nhostname=db\n"), 0o600))

	props, err := LoadConnectionProperties(path)
	require.NoError(t, err)
	assert.Equal(t, "pgx", props["driver"])
	assert.Equal(t, "db", props["hostname"])

	_, err = LoadConnectionProperties(filepath.Join(t.TempDir(), "nope.properties"))
	require.Error(t, err)
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	if err != nil {
		t.Errorf("expected no error for missing .env, got: %v", err)
	}
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	t.Setenv("CONDITIONS_TEST_KEY", "")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("# comment\nCONDITIONS_TEST_KEY='test_value'\n"), 0o644))

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "test_value", os.Getenv("CONDITIONS_TEST_KEY"))
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("CONDITIONS_PRECEDENCE_KEY", "from_env")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CONDITIONS_PRECEDENCE_KEY=from_file\n"), 0o644))

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "from_env", os.Getenv("CONDITIONS_PRECEDENCE_KEY"))
}
