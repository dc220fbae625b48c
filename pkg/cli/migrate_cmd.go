package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"hps-conditions/internal/db"
)

func newMigrateCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the conditions database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := s.openApp(ctx, 0, true)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			conn, err := a.Conn.Conn(ctx)
			if err != nil {
				return err
			}
			v, err := db.MigrationVersion(ctx, conn, a.Conn.Dialect())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "conditions schema at version %d (%s)\n", v, a.Conn.Parameters())
			return nil
		},
	}
}
