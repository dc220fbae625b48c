package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch getOutputFormat(cmd) {
			case "json":
				return printJSON(cmd.OutOrStdout(), map[string]string{"version": version, "commit": commit})
			case "yaml":
				return printYAML(cmd.OutOrStdout(), map[string]string{"version": version, "commit": commit})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "condb version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
