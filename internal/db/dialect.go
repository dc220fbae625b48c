package db

import (
	"fmt"
	"strconv"
	"strings"
)

// Supported connection drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

// Dialect captures the SQL differences between the supported backends.
// Queries inside this module are written with '?' placeholders and passed
// through Rebind before execution.
type Dialect struct {
	Name        string // driver name passed to database/sql
	Goose       string // goose dialect name
	Migrations  string // directory inside EmbedMigrations
	DefaultPort int

	numbered  bool
	quote     byte
	returning bool
}

var dialects = map[string]Dialect{
	DriverSQLite: {
		Name:       DriverSQLite,
		Goose:      "sqlite3",
		Migrations: "migrations/sqlite",
		quote:      '"',
	},
	DriverMySQL: {
		Name:        DriverMySQL,
		Goose:       "mysql",
		Migrations:  "migrations/mysql",
		DefaultPort: 3306,
		quote:       '`',
	},
	DriverPostgres: {
		Name:        DriverPostgres,
		Goose:       "postgres",
		Migrations:  "migrations/postgres",
		DefaultPort: 5432,
		numbered:    true,
		quote:       '"',
		returning:   true,
	},
}

// DialectFor returns the dialect for a driver name. "postgres" and
// "postgresql" are accepted as aliases of "pgx".
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		driver = DriverPostgres
	case "sqlite":
		driver = DriverSQLite
	}
	d, ok := dialects[strings.ToLower(driver)]
	if !ok {
		return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
	return d, nil
}

// UsesReturning reports whether generated keys are read with RETURNING
// instead of LastInsertId.
func (d Dialect) UsesReturning() bool { return d.returning }

// Quote quotes an identifier for this dialect.
func (d Dialect) Quote(ident string) string {
	q := string(d.quote)
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// Placeholders returns n comma-separated '?' placeholders.
func (d Dialect) Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Rebind rewrites '?' placeholders to the dialect's native form. Question
// marks inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inLiteral := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inLiteral = !inLiteral
			b.WriteByte(c)
		case c == '?' && !inLiteral:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
