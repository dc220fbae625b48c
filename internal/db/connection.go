package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"hps-conditions/internal/domain"
)

// Querier runs '?'-placeholder statements against the conditions database.
// It is implemented by *ConnectionManager and by *Tx.
type Querier interface {
	Dialect() Dialect
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	InsertReturningID(ctx context.Context, keyColumn, query string, args ...any) (int64, error)
}

// executor is the subset of *sql.DB and *sql.Tx the helpers need.
type executor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ConnectionManager owns the single physical connection to the conditions
// database. The connection is opened lazily on first use and kept until
// Disconnect. A ConnectionManager is not safe for concurrent use.
type ConnectionManager struct {
	params  ConnectionParameters
	dialect Dialect
	logger  *slog.Logger

	db     *sql.DB
	logged bool
	opener func(ctx context.Context) (*sql.DB, error)
}

var (
	_ Querier = (*ConnectionManager)(nil)
	_ Querier = (*Tx)(nil)
)

// NewConnectionManager creates a new ConnectionManager. No connection is
// made until the first query.
func NewConnectionManager(params ConnectionParameters, logger *slog.Logger) (*ConnectionManager, error) {
	if err := params.Normalize(); err != nil {
		return nil, err
	}
	d, err := DialectFor(params.Driver)
	if err != nil {
		return nil, domain.ErrConfiguration("%v", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &ConnectionManager{
		params:  params,
		dialect: d,
		logger:  logger.With("component", "connection"),
	}
	c.opener = c.open
	return c, nil
}

// NewConnectionManagerFromDB wraps an already open *sql.DB. Disconnect
// closes it.
func NewConnectionManagerFromDB(db *sql.DB, dialect Dialect, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	c := &ConnectionManager{
		params:  ConnectionParameters{Driver: dialect.Name},
		dialect: dialect,
		logger:  logger.With("component", "connection"),
		db:      db,
		logged:  true,
	}
	c.opener = func(context.Context) (*sql.DB, error) {
		return nil, domain.ErrIllegalState("connection was closed and cannot be reopened")
	}
	return c
}

// Parameters returns the normalized connection parameters.
func (c *ConnectionManager) Parameters() ConnectionParameters { return c.params }

// Dialect returns the SQL dialect of the connection.
func (c *ConnectionManager) Dialect() Dialect { return c.dialect }

// IsConnected reports whether a physical connection is currently open.
func (c *ConnectionManager) IsConnected() bool { return c.db != nil }

// Conn returns the live connection, opening it on first call.
func (c *ConnectionManager) Conn(ctx context.Context) (*sql.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	if !c.logged {
		c.logger.Info("opening conditions database connection", "params", c.params.String())
		c.logged = true
	}
	db, err := c.opener(ctx)
	if err != nil {
		return nil, domain.ErrDatabase("connect", "", err)
	}
	c.db = db
	return db, nil
}

func (c *ConnectionManager) open(ctx context.Context) (*sql.DB, error) {
	switch c.dialect.Name {
	case DriverSQLite:
		return OpenSQLite(ctx, c.params.Database, c.params.LoginTimeout)
	case DriverMySQL:
		db, err := sql.Open(DriverMySQL, c.params.mysqlDSN())
		return c.openPool(ctx, db, err)
	case DriverPostgres:
		cfg, err := pgx.ParseConfig(c.params.postgresURL())
		if err != nil {
			return nil, fmt.Errorf("parse postgres config: %w", err)
		}
		return c.openPool(ctx, stdlib.OpenDB(*cfg), nil)
	default:
		return nil, fmt.Errorf("unsupported driver %q", c.dialect.Name)
	}
}

func (c *ConnectionManager) openPool(ctx context.Context, db *sql.DB, err error) (*sql.DB, error) {
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.dialect.Name, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ping(ctx, db, c.params.LoginTimeout); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", c.dialect.Name, err)
	}
	return db, nil
}

// Query executes a read query. The caller must release the rows with
// CleanupRows or rows.Close.
func (c *ConnectionManager) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db, err := c.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return runner{db, c.dialect}.Query(ctx, query, args...)
}

// Exec executes a statement that returns no rows.
func (c *ConnectionManager) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, err := c.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return runner{db, c.dialect}.Exec(ctx, query, args...)
}

// InsertReturningID executes an INSERT and returns the value generated for
// keyColumn.
func (c *ConnectionManager) InsertReturningID(ctx context.Context, keyColumn, query string, args ...any) (int64, error) {
	db, err := c.Conn(ctx)
	if err != nil {
		return 0, err
	}
	return runner{db, c.dialect}.InsertReturningID(ctx, keyColumn, query, args...)
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (c *ConnectionManager) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	db, err := c.Conn(ctx)
	if err != nil {
		return err
	}
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ErrDatabase("begin", "", err)
	}
	if err := fn(&Tx{runner{sqlTx, c.dialect}}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			c.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return domain.ErrDatabase("commit", "", err)
	}
	return nil
}

// CleanupRows closes rows. Closing nil or already-released rows only logs.
func (c *ConnectionManager) CleanupRows(rows *sql.Rows) {
	if rows == nil {
		c.logger.Warn("cleanup called on nil result set")
		return
	}
	if err := rows.Close(); err != nil {
		c.logger.Warn("error closing result set", "error", err)
	}
}

// CleanupStmt closes a prepared statement. Closing nil or an already closed
// statement only logs.
func (c *ConnectionManager) CleanupStmt(stmt *sql.Stmt) {
	if stmt == nil {
		c.logger.Warn("cleanup called on nil statement")
		return
	}
	if err := stmt.Close(); err != nil {
		c.logger.Warn("error closing statement", "error", err)
	}
}

// Disconnect closes the physical connection. Calling it without an open
// connection logs a warning and returns nil.
func (c *ConnectionManager) Disconnect() error {
	if c.db == nil {
		c.logger.Warn("disconnect called with no open connection")
		return nil
	}
	db := c.db
	c.db = nil
	if err := db.Close(); err != nil {
		return domain.ErrDatabase("disconnect", "", err)
	}
	c.logger.Debug("conditions database connection closed")
	return nil
}

// Tx is a transaction started by ConnectionManager.WithTx.
type Tx struct {
	runner
}

type runner struct {
	ex      executor
	dialect Dialect
}

func (r runner) Dialect() Dialect { return r.dialect }

func (r runner) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := r.ex.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, domain.ErrDatabase("query", query, err)
	}
	return rows, nil
}

func (r runner) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := r.ex.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, domain.ErrDatabase("exec", query, err)
	}
	return res, nil
}

func (r runner) InsertReturningID(ctx context.Context, keyColumn, query string, args ...any) (int64, error) {
	if r.dialect.UsesReturning() {
		query += " RETURNING " + r.dialect.Quote(keyColumn)
		var id int64
		if err := r.ex.QueryRowContext(ctx, r.dialect.Rebind(query), args...).Scan(&id); err != nil {
			return 0, domain.ErrDatabase("insert", query, err)
		}
		return id, nil
	}
	res, err := r.ex.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return 0, domain.ErrDatabase("insert", query, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, domain.ErrDatabase("insert", query, err)
	}
	return id, nil
}
