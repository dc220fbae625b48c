package db

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
)

// OpenTestConnection opens a ConnectionManager on a fresh SQLite file in
// t.TempDir(), runs all migrations, and registers cleanup.
func OpenTestConnection(t *testing.T) *ConnectionManager {
	t.Helper()

	params := ConnectionParameters{
		Driver:   DriverSQLite,
		Database: filepath.Join(t.TempDir(), "test.sqlite"),
	}
	conn, err := NewConnectionManager(params, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new connection manager: %v", err)
	}
	t.Cleanup(func() { _ = conn.Disconnect() })

	if err := conn.Migrate(context.Background()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return conn
}
