package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/postguard/internal/auth"
	"github.com/TimurManjosov/postguard/internal/webhook"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Admin key utilities",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an admin API key",
	Long: `Generate a random admin API key and its bcrypt hash. Configure the server
with ADMIN_API_KEY_HASH=<hash> and keep the key itself for clients.

Example:
  postguard keys generate`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := auth.GenerateAPIKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		hash, err := auth.HashAPIKey(key)
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Key:  %s\n", key)
		fmt.Fprintf(out, "Hash: %s\n", hash)
		fmt.Fprintln(out, "\nThe key is shown only once.")
		return nil
	},
}

var keysWebhookSecretCmd = &cobra.Command{
	Use:   "webhook-secret",
	Short: "Generate a webhook signing secret",
	Long: `Generate a random secret for WEBHOOK_SECRET. Receivers verify the
X-Postguard-Signature header with the same value.

Example:
  postguard keys webhook-secret`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := webhook.GenerateSecret()
		if err != nil {
			return fmt.Errorf("failed to generate secret: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd, keysWebhookSecretCmd)
}
