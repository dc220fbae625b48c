package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hps-conditions/internal/db/crypto"
)

func newSealPasswordCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "seal-password",
		Short: "Encrypt a database password for a connection file",
		Long: `Read a password from standard input and print the sealed value to store as
"` + crypto.EncryptedPasswordKey + `" in a connection .properties file. The key is read from
CONDITIONS_SECRET_KEY (64 hex digits).`,
		Example: `  echo -n "$DB_PASSWORD" | condb seal-password`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := crypto.NewCipher(s.cfg.SecretKey)
			if err != nil {
				return err
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password from stdin: %w", err)
			}
			sealed, err := c.Seal(strings.TrimRight(line, "\r\n"))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", crypto.EncryptedPasswordKey, sealed)
			return nil
		},
	}
}
