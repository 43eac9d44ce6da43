package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rulecheck/internal/model"
)

var (
	claimID     string
	ruleID      string
	description string
	l1Value     string
)

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one L2 rule for one claim",
	Long: `Evaluate resolves the L1 facts an L2 rule references, asks the oracle
to compare them and prints the resulting decision as JSON.

The rule is either looked up by id (--rule) or given inline
(--description and --l1-value).

Example:
  rulecheck evaluate --claim CLM-1001 --rule L2_01_01
  rulecheck evaluate --claim CLM-1001 --description "Names must match" \
      --l1-value "Claim form : L1_01_06, Aadhar card : L1_05_01"
  rulecheck evaluate --claim CLM-1001 --rule L2_01_01 --provider ollama --model llama3.1:8b`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVar(&claimID, "claim", "", "claim id to evaluate (required)")
	evaluateCmd.Flags().StringVar(&ruleID, "rule", "", "L2 rule id to evaluate")
	evaluateCmd.Flags().StringVar(&description, "description", "", "inline L2 rule description")
	evaluateCmd.Flags().StringVar(&l1Value, "l1-value", "", "inline L1 value (references or a literal hint)")
	_ = evaluateCmd.MarkFlagRequired("claim")
	evaluateCmd.MarkFlagsMutuallyExclusive("rule", "description")
	evaluateCmd.MarkFlagsOneRequired("rule", "description")
	evaluateCmd.MarkFlagsRequiredTogether("description", "l1-value")

	addOracleFlags(evaluateCmd)
}

// evaluationOutput is the JSON document printed by evaluate
type evaluationOutput struct {
	ClaimID  string               `json:"claim_id"`
	RuleID   string               `json:"rule_id,omitempty"`
	Decision model.DecisionRecord `json:"decision"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}

	// Whole-run bound: every retry attempt plus backoff
	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout(cfg))
	defer cancel()

	w, err := buildWiring(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = w.close() }()

	start := time.Now()
	var decision model.DecisionRecord
	if ruleID != "" {
		decision, err = w.engine.EvaluateRuleWithRetry(ctx, ruleID, claimID)
	} else {
		decision, err = w.engine.EvaluateWithRetry(ctx, description, l1Value, claimID)
	}
	if err != nil {
		return fmt.Errorf("evaluate claim %s: %w", claimID, err)
	}

	if err := writeJSON(os.Stdout, evaluationOutput{
		ClaimID:  claimID,
		RuleID:   ruleID,
		Decision: decision,
	}, cfg.Output.Pretty); err != nil {
		return err
	}

	if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "✓ %s in %v\n", decision.Verdict, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// runTimeout bounds a single evaluation including every retry
func runTimeout(cfg *model.Config) time.Duration {
	attempts := cfg.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts)*(cfg.Oracle.Timeout+cfg.Retry.MaxBackoff) + time.Minute
}

func writeJSON(w io.Writer, v interface{}, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}
