package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veridict/veridict/cmd/veridict/commands"
	"github.com/veridict/veridict/logger"
)

var rootCmd = &cobra.Command{
	Use:   "veridict",
	Short: "Veridict - multi-stage claim validation pipeline",
	Long: `Veridict - adaptive-quorum claim validation.

Claims move through an ordered sequence of validation stages. Independent
workers reserve evaluation slots, submit evidence, and a tiered consensus
policy decides whether each claim advances, is rejected, or is deferred
for operator attention.

Available commands:
  am      - Manage Veridict configuration
  db      - Manage database operations
  claim   - Submit and inspect claims
  serve   - Start the pipeline server

Examples:
  veridict am show                  # Show current configuration
  veridict claim submit '{...}'     # Submit a claim for validation
  veridict claim status CLM_...     # Show a claim's state and audit trail
  veridict db stats                 # Show database statistics
  veridict serve                    # Start the pipeline server`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() != "show" {
			if err := logger.Initialize(false); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ClaimCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
