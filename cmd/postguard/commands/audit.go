package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/postguard/internal/cli"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent administrative changes",
	Long: `Show the most recent audit events, newest first.

Examples:
  postguard audit
  postguard audit --limit 200 --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		events, err := c.ListAudit(cmd.Context(), auditLimit)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}

		if quiet {
			return nil
		}
		return cli.PrintAudit(cmd.OutOrStdout(), events, outputFormat())
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Number of events to show (1-500)")
}
