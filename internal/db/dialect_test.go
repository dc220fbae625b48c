package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver string
		name   string
		goose  string
	}{
		{"sqlite3", DriverSQLite, "sqlite3"},
		{"sqlite", DriverSQLite, "sqlite3"},
		{"mysql", DriverMySQL, "mysql"},
		{"pgx", DriverPostgres, "postgres"},
		{"postgres", DriverPostgres, "postgres"},
		{"PostgreSQL", DriverPostgres, "postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := DialectFor(tt.driver)
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name)
			assert.Equal(t, tt.goose, d.Goose)
		})
	}

	_, err := DialectFor("oracle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestDialect_Rebind(t *testing.T) {
	sqlite, _ := DialectFor(DriverSQLite)
	pg, _ := DialectFor(DriverPostgres)

	q := "SELECT id FROM conditions WHERE name = ? AND run_start <= ? AND notes <> '?'"
	assert.Equal(t, q, sqlite.Rebind(q))
	assert.Equal(t, "SELECT id FROM conditions WHERE name = $1 AND run_start <= $2 AND notes <> '?'", pg.Rebind(q))
}

func TestDialect_Quote(t *testing.T) {
	sqlite, _ := DialectFor(DriverSQLite)
	mysql, _ := DialectFor(DriverMySQL)

	assert.Equal(t, `"offset"`, sqlite.Quote("offset"))
	assert.Equal(t, "`offset`", mysql.Quote("offset"))
	assert.Equal(t, `"a""b"`, sqlite.Quote(`a"b`))
}

func TestDialect_Placeholders(t *testing.T) {
	d, _ := DialectFor(DriverSQLite)
	assert.Equal(t, "", d.Placeholders(0))
	assert.Equal(t, "?", d.Placeholders(1))
	assert.Equal(t, "?, ?, ?", d.Placeholders(3))
}

func TestDialect_UsesReturning(t *testing.T) {
	for driver, want := range map[string]bool{DriverSQLite: false, DriverMySQL: false, DriverPostgres: true} {
		d, err := DialectFor(driver)
		require.NoError(t, err)
		assert.Equal(t, want, d.UsesReturning(), driver)
	}
}
