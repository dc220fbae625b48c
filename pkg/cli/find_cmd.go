package cli

import (
	"github.com/spf13/cobra"
)

func newFindCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "find <name>",
		Short: "List every validity record of a conditions set",
		Long: `List the records of one conditions set across all runs, ordered by run start.
The --tag flag restricts the listing to one tag.`,
		Example: `  condb find beam_current
  condb find svt_gains --tag pass1 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.openApp(ctx, 0, false)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			recs, err := a.Manager.Records().ListByName(ctx, args[0], a.Manager.Tag())
			if err != nil {
				return err
			}
			return renderRecords(cmd, recs)
		},
	}
}
