// Package app provides application-level wiring for the conditions system:
// connection, table registry, converters and the conditions manager.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"hps-conditions/internal/conditions"
	"hps-conditions/internal/config"
	"hps-conditions/internal/db"
	"hps-conditions/internal/db/crypto"
)

// Deps holds the external dependencies that main() must provide.
// Conn and Profile are optional; when nil they are built from Cfg.
type Deps struct {
	Cfg     *config.Config
	Logger  *slog.Logger
	Run     int // run used to pick a profile when Cfg.Profile is empty
	Migrate bool

	Conn    *db.ConnectionManager
	Profile *config.Profile
}

// App holds the fully-wired conditions system.
type App struct {
	Config     *config.Config
	Profile    *config.Profile
	Conn       *db.ConnectionManager
	Tables     *conditions.TableRegistry
	Converters *conditions.ConverterRegistry
	Manager    *conditions.Manager

	logger *slog.Logger
}

// New wires the connection, registries and manager from the provided deps.
// The manager is returned uninitialized; call Manager.SetDetector before
// requesting conditions.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// === Profile ===
	profile := deps.Profile
	if profile == nil {
		var err error
		if profile, err = cfg.ResolveProfile(deps.Run); err != nil {
			return nil, err
		}
	}
	logger.Debug("using conditions profile", "profile", profile.Name, "groups", profile.Groups())

	// === Connection ===
	conn := deps.Conn
	if conn == nil {
		var err error
		if conn, err = openConnection(cfg, profile, logger); err != nil {
			return nil, err
		}
	}
	if deps.Migrate {
		if err := conn.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate conditions database: %w", err)
		}
	}

	// === Registries ===
	tables, err := buildTables(cfg, profile)
	if err != nil {
		return nil, err
	}
	converters, err := buildConverters(cfg, profile, tables)
	if err != nil {
		return nil, err
	}

	// === Manager ===
	tag := cfg.Tag
	if tag == "" {
		tag = profile.Settings.Tag
	}
	mgr, err := conditions.NewManager(conditions.ManagerDeps{
		Conn:       conn,
		Tables:     tables,
		Converters: converters,
		Logger:     logger,
		Options: conditions.Options{
			Tag:                            tag,
			CacheAllConditions:             profile.Settings.CacheAllConditions,
			CloseConnectionAfterInitialize: profile.Settings.CloseConnectionAfterInitialize,
			FreezeAfterInitialize:          profile.Settings.FreezeAfterInitialize,
		},
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Config:     cfg,
		Profile:    profile,
		Conn:       conn,
		Tables:     tables,
		Converters: converters,
		Manager:    mgr,
		logger:     logger,
	}, nil
}

// Close releases the database connection.
func (a *App) Close() error {
	if err := a.Conn.Disconnect(); err != nil {
		a.logger.Warn("disconnect conditions database", "error", err)
		return err
	}
	return nil
}

// openConnection builds connection parameters from the properties file, or
// falls back to the local SQLite database. The profile login timeout is
// used unless the properties file sets one.
func openConnection(cfg *config.Config, profile *config.Profile, logger *slog.Logger) (*db.ConnectionManager, error) {
	var params db.ConnectionParameters
	explicitTimeout := false
	if cfg.ConnectionFile != "" {
		props, err := config.LoadConnectionProperties(cfg.ConnectionFile)
		if err != nil {
			return nil, err
		}
		if err := crypto.RevealPassword(props, cfg.SecretKey); err != nil {
			return nil, err
		}
		if params, err = db.ConnectionParametersFromProperties(props); err != nil {
			return nil, err
		}
		_, explicitTimeout = props["loginTimeout"]
	}
	if d := profile.Settings.LoginTimeoutDuration(); d > 0 && !explicitTimeout {
		params.LoginTimeout = d
	}
	return db.NewConnectionManager(params, logger)
}
