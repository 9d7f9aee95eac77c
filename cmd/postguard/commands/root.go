package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/postguard/internal/cli"
	"github.com/TimurManjosov/postguard/internal/client"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	quiet   bool
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "postguard",
	Short: "CLI tool for managing IP-range content blocking",
	Long: `Postguard is a command-line tool for the postguard admin API.

It manages the blocked IP rules, toggles blocking on individual posts and
shows the audit trail of administrative changes.

Examples:
  postguard rules get
  postguard rules set rules.txt --env prod
  postguard rules check 10.1.2.3 --local --file rules.txt
  postguard posts block 6f0c1e2a-...
  postguard audit --limit 20`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the postguard API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Admin API key")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Environment from the config file")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}

// newClient resolves the target deployment and returns a client for it.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	envCfg, effectiveEnv, err := cli.GetEnvConfig(env, baseURL, apiKey)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "Using %s (%s)\n", envCfg.BaseURL, effectiveEnv)
	}
	return client.NewClient(envCfg.BaseURL, envCfg.APIKey), nil
}

func outputFormat() cli.OutputFormat {
	return cli.OutputFormat(format)
}
