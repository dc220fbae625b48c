// Package cli implements the condb command-line tool for the conditions
// database.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"hps-conditions/internal/app"
	"hps-conditions/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(os.Stdout, map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// session carries the resolved configuration of one CLI invocation.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	user   string
	id     string
}

// openApp wires the conditions system. run picks the profile when none is
// configured.
func (s *session) openApp(ctx context.Context, run int, migrate bool) (*app.App, error) {
	return app.New(ctx, app.Deps{Cfg: s.cfg, Logger: s.logger, Run: run, Migrate: migrate})
}

// collectionLog is the log line stored with every collection this session
// allocates.
func (s *session) collectionLog(cmd *cobra.Command) string {
	return fmt.Sprintf("%s by %s (session %s)", cmd.CommandPath(), s.user, s.id)
}

func currentUser() string {
	if v := os.Getenv("CONDITIONS_USER"); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "condb"
}

func newRootCmd() *cobra.Command {
	var (
		envFile      string
		connection   string
		profile      string
		tag          string
		detectorsDir string
		schemaFile   string
		logLevel     string
		output       string
	)
	s := &session{}

	rootCmd := &cobra.Command{
		Use:           "condb",
		Short:         "HPS conditions database tool",
		Long:          "Command-line interface for loading, tagging and inspecting the HPS conditions database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(output); err != nil {
				return err
			}
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			// Apply precedence: flag > env > default
			flags := cmd.Flags()
			if flags.Changed("connection") {
				cfg.ConnectionFile = connection
			}
			if flags.Changed("profile") {
				cfg.Profile = profile
			}
			if flags.Changed("tag") {
				cfg.Tag = tag
			}
			if flags.Changed("detectors-dir") {
				cfg.DetectorsDir = detectorsDir
			}
			if flags.Changed("schema") {
				cfg.SchemaFile = schemaFile
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			s.cfg = cfg
			s.user = currentUser()
			s.id = uuid.NewString()
			s.logger = slog.New(tint.NewHandler(cmd.ErrOrStderr(), &tint.Options{
				Level:      cfg.SlogLevel(),
				TimeFormat: time.Kitchen,
			})).With("session", s.id)
			for _, w := range cfg.Warnings {
				s.logger.Debug(w)
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "Environment file read before the environment")
	pf.StringVarP(&connection, "connection", "c", "", "Connection .properties file (default: local SQLite database)")
	pf.StringVarP(&profile, "profile", "p", "", "Deployment profile name or XML file (default: chosen by run number)")
	pf.StringVar(&tag, "tag", "", "Conditions tag")
	pf.StringVar(&detectorsDir, "detectors-dir", "", "Directory of detector compact descriptions")
	pf.StringVar(&schemaFile, "schema", "", "YAML table schema file")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newMigrateCmd(s))
	rootCmd.AddCommand(newSealPasswordCmd(s))

	// Loading
	rootCmd.AddCommand(newLoadCmd(s))
	rootCmd.AddCommand(newAddCmd(s))
	rootCmd.AddCommand(newTagCmd(s))

	// Inspection
	rootCmd.AddCommand(newPrintCmd(s))
	rootCmd.AddCommand(newFindCmd(s))
	rootCmd.AddCommand(newValidateCmd(s))
	rootCmd.AddCommand(newRunSummaryCmd(s))

	return rootCmd
}
