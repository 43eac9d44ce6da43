package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the databases and the oracle are reachable",
	Long: `Check opens both databases, lists the L2 rules and asks the configured
oracle provider whether it is available. No evaluation is performed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := commandConfig(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.Oracle.Timeout)
		defer cancel()

		w, err := buildWiring(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = w.close() }()

		rules, err := w.store.L2Rules(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Databases: %d L2 rules\n", len(rules))

		if err := w.oracle.Check(ctx); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Oracle:    %s (%s)\n", w.oracle.Provider().Name(), cfg.Oracle.Model)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	addOracleFlags(checkCmd)
}
