package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/postguard/internal/cli"
	"github.com/TimurManjosov/postguard/internal/gate"
	"github.com/TimurManjosov/postguard/internal/ipmatch"
)

var (
	rulesLocal       bool
	rulesFile        string
	rulesAlignSubnet bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage blocked IP rules",
	Long: `Manage the blocked IP rules. Each non-blank line is one rule:

  192.168.1.10     exact address
  192.168.*        wildcard, * stands for a run of digits
  10.0.0.0/8       CIDR range`,
}

var rulesGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the stored rules",
	Long: `Show the stored rules with per-line diagnostics.

Examples:
  postguard rules get
  postguard rules get --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		rs, err := c.GetBlockedIPs(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get rules: %w", err)
		}

		if quiet {
			return nil
		}
		return cli.PrintRuleSet(cmd.OutOrStdout(), rs, outputFormat())
	},
}

var rulesSetCmd = &cobra.Command{
	Use:   "set <file>",
	Short: "Replace the stored rules",
	Long: `Replace the stored rules with the contents of a file, or stdin when the
file is "-". Lines that fail to compile are stored but never match; they
are listed in the output.

Examples:
  postguard rules set rules.txt
  printf '10.0.0.0/8\n' | postguard rules set -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readRuleText(cmd, args[0])
		if err != nil {
			return err
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		rs, err := c.SetBlockedIPs(cmd.Context(), text)
		if err != nil {
			return fmt.Errorf("failed to set rules: %w", err)
		}

		if quiet {
			return nil
		}
		if outputFormat() == cli.FormatTable {
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %d rules\n", len(rs.Rules))
		}
		return cli.PrintRuleSet(cmd.OutOrStdout(), rs, outputFormat())
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check rule text without storing it",
	Long: `Compile rule text and report lines that would never match. With --local
the text is compiled by the CLI itself and no server is contacted.

Examples:
  postguard rules validate rules.txt
  postguard rules validate rules.txt --local`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readRuleText(cmd, args[0])
		if err != nil {
			return err
		}

		var (
			rules  []ipmatch.Rule
			counts map[ipmatch.Kind]int
			errs   []*ipmatch.ParseError
			data   any
		)
		switch {
		case rulesLocal && quiet:
			// only the verdict is reported
			errs = ipmatch.Validate(text, ipmatch.WithAlignSubnet(rulesAlignSubnet))
		case rulesLocal:
			l := ipmatch.Parse(text, ipmatch.WithAlignSubnet(rulesAlignSubnet))
			rules, counts, errs = l.Rules(), l.Counts(), l.Errors()
			data = map[string]any{"valid": len(errs) == 0, "rules": rules, "counts": counts, "errors": errs}
		default:
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			v, err := c.ValidateBlockedIPs(cmd.Context(), text)
			if err != nil {
				return fmt.Errorf("failed to validate rules: %w", err)
			}
			rules, counts, errs, data = v.Rules, v.Counts, v.Errors, v
		}

		if !quiet {
			if err := cli.PrintRules(cmd.OutOrStdout(), rules, counts, errs, data, outputFormat()); err != nil {
				return err
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%d invalid rule(s)", len(errs))
		}
		return nil
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check <ip>",
	Short: "Check whether an address is blocked",
	Long: `Report whether an address matches the rules, and which rule matched.

By default the server checks against its active rules. With --local the
rules in --file are matched by the CLI.

Examples:
  postguard rules check 10.1.2.3
  postguard rules check 10.1.2.3 --local --file rules.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip := args[0]

		var d gate.Decision
		if rulesLocal {
			if rulesFile == "" {
				return fmt.Errorf("--file is required with --local")
			}
			text, err := readRuleText(cmd, rulesFile)
			if err != nil {
				return err
			}
			l := ipmatch.Parse(text, ipmatch.WithAlignSubnet(rulesAlignSubnet))
			d = gate.New(func() *ipmatch.RuleList { return l }, gate.Options{}).Check(ip)
		} else {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.Check(cmd.Context(), ip)
			if err != nil {
				return fmt.Errorf("failed to check address: %w", err)
			}
			d = *res
		}

		if quiet {
			return nil
		}
		return cli.PrintDecision(cmd.OutOrStdout(), &d, outputFormat())
	},
}

// readRuleText reads path, or stdin when path is "-".
func readRuleText(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read rules: %w", err)
	}
	return string(data), nil
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesGetCmd, rulesSetCmd, rulesValidateCmd, rulesCheckCmd)

	for _, cmd := range []*cobra.Command{rulesValidateCmd, rulesCheckCmd} {
		cmd.Flags().BoolVar(&rulesLocal, "local", false, "Compile the rules locally instead of asking the server")
		cmd.Flags().BoolVar(&rulesAlignSubnet, "align-subnet", false, "Mask CIDR subnets before comparing (local only)")
	}
	rulesCheckCmd.Flags().StringVar(&rulesFile, "file", "", "Rule file for --local, - for stdin")
}
