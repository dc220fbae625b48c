package cli

import (
	"github.com/spf13/cobra"

	"hps-conditions/internal/conditions"
	"hps-conditions/internal/db"
	"hps-conditions/internal/domain"
)

func newTagCmd(s *session) *cobra.Command {
	var (
		runs   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "tag <new-tag>",
		Short: "Copy the conditions in effect for a run range into a new tag",
		Long: `Resolve every conditions set over a run range, reading records of the --tag
given on the command line (default: every tag), and insert a copy of each
selected record under the new tag. All copies are written in one transaction.`,
		Example: `  condb tag pass1 --runs 5000-5999
  condb tag pass2 --runs 5000-5999 --tag pass1 --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start, end, err := parseRunRange(runs)
			if err != nil {
				return err
			}
			a, err := s.openApp(ctx, start, false)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			recs, err := a.Manager.Records().ResolveRange(ctx, start, end, a.Manager.Tag(), a.Tables.ActionFor)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return domain.ErrNotFound("no conditions found for runs %d-%d", start, end)
			}
			if dryRun {
				return renderRecords(cmd, recs)
			}

			var copied []domain.ConditionsRecord
			err = a.Conn.WithTx(ctx, func(tx *db.Tx) error {
				var err error
				copied, err = conditions.NewRecordRepo(tx).CopyToTag(ctx, recs, args[0], s.user, a.Tables.ActionFor)
				return err
			})
			if err != nil {
				return err
			}
			s.logger.Info("conditions tagged", "tag", args[0], "records", len(copied), "runs", runs)
			return renderRecords(cmd, copied)
		},
	}

	cmd.Flags().StringVar(&runs, "runs", "", "Run range FIRST-LAST")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the records that would be tagged without writing")
	_ = cmd.MarkFlagRequired("runs")
	return cmd
}
