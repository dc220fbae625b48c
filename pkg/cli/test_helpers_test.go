package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// testEnv is a migrated SQLite conditions database in a temp dir, reached
// through a connection properties file.
type testEnv struct {
	dir        string
	connection string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	for _, k := range []string{
		"CONDITIONS_CONNECTION_FILE", "CONDITIONS_PROFILE", "CONDITIONS_TAG",
		"CONDITIONS_DETECTORS_DIR", "CONDITIONS_SCHEMA_FILE", "CONDITIONS_SECRET_KEY", "LOG_LEVEL", "ENV",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("CONDITIONS_USER", "tester")

	dir := t.TempDir()
	env := &testEnv{dir: dir, connection: filepath.Join(dir, "conditions.properties")}
	props := "driver=sqlite3\ndatabase=" + filepath.Join(dir, "conditions.sqlite") + "\n"
	require.NoError(t, os.WriteFile(env.connection, []byte(props), 0o600))

	_, err := env.run(t, "migrate")
	require.NoError(t, err)
	return env
}

// run executes one condb invocation and returns its stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runWithInput(t, "", args...)
}

func (e *testEnv) runWithInput(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{
		"--env-file", filepath.Join(e.dir, "missing.env"),
		"--connection", e.connection,
		"--detectors-dir", e.dir,
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func decodeJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}
