package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// RunMigrations executes all pending goose migrations for the dialect.
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	goose.SetBaseFS(EmbedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect.Goose); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, dialect.Migrations); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// MigrationVersion returns the current schema version of the database.
func MigrationVersion(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	if err := goose.SetDialect(dialect.Goose); err != nil {
		return 0, fmt.Errorf("goose set dialect: %w", err)
	}
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("goose version: %w", err)
	}
	return v, nil
}

// Migrate opens the connection if needed and applies pending migrations.
func (c *ConnectionManager) Migrate(ctx context.Context) error {
	db, err := c.Conn(ctx)
	if err != nil {
		return err
	}
	if err := RunMigrations(ctx, db, c.dialect); err != nil {
		return err
	}
	v, err := MigrationVersion(ctx, db, c.dialect)
	if err != nil {
		return err
	}
	c.logger.Debug("schema migrated", "version", v)
	return nil
}
