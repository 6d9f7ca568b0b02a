package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mediaflow/blobxfer/internal/crypto" // package name is 'encryption'
)

// newKeygenCmd creates the 'keygen' command.
func newKeygenCmd() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random AES-256 key",
		Long: `Generate a random 256-bit key for encrypted transfers, base64 encoded.

The key is printed to stdout, or written with mode 0600 to --out.
Anyone holding the key can decrypt the blobs uploaded with it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := encryption.GenerateKey()
			if err != nil {
				return err
			}
			encoded := encryption.EncodeBase64(key)

			if outFile == "" {
				fmt.Fprintln(cmd.OutOrStdout(), encoded)
				return nil
			}
			if err := os.WriteFile(outFile, []byte(encoded+"\n"), 0600); err != nil {
				return fmt.Errorf("failed to write key: %w", err)
			}
			GetLogger().Info().Str("path", outFile).Msg("key saved")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write the key to this file instead of stdout")

	return cmd
}
