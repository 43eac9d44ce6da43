package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rulecheck/internal/checkrule"
	"github.com/ppiankov/rulecheck/internal/model"
)

var (
	procedureClaim      string
	procedureName       string
	procedureExpression string
	procedureList       bool
)

// procedureCmd represents the procedure command
var procedureCmd = &cobra.Command{
	Use:   "procedure",
	Short: "Check a claim's submitted documents against a procedure",
	Long: `Procedure checks whether a claim carries the documents its medical
procedure needs. Each procedure combines check rules: [CH01, CH02] needs
every document, (CH01, CH02) needs at least one. The oracle is not used.

The result lists the missing documents and, for every check rule, the L1
values recorded for the claim ("Not submitted" when the document is absent).

Example:
  rulecheck procedure --list
  rulecheck procedure --claim CLM-1001 --name "Cataract Surgery"
  rulecheck procedure --claim CLM-1001 --expression "[CH01, (CH02, CH03)]"`,
	Args: cobra.NoArgs,
	RunE: runProcedure,
}

func init() {
	rootCmd.AddCommand(procedureCmd)

	procedureCmd.Flags().StringVar(&procedureClaim, "claim", "", "claim id to check")
	procedureCmd.Flags().StringVar(&procedureName, "name", "", "procedure name")
	procedureCmd.Flags().StringVar(&procedureExpression, "expression", "", "check rule expression to use instead of a stored procedure")
	procedureCmd.Flags().BoolVar(&procedureList, "list", false, "list the known procedures")
	procedureCmd.MarkFlagsOneRequired("list", "name", "expression")
	procedureCmd.MarkFlagsMutuallyExclusive("list", "name", "expression")

	addStoreFlags(procedureCmd)
}

func runProcedure(cmd *cobra.Command, args []string) error {
	if !procedureList && procedureClaim == "" {
		return errors.New(`required flag "claim" not set`)
	}

	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}

	sqlStore, st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sqlStore.Close() }()

	checks := checkrule.New(sqlStore, st, logger)
	ctx := cmd.Context()

	if procedureList {
		procedures, err := checks.Procedures(ctx)
		if err != nil {
			return err
		}
		return writeProcedures(os.Stdout, procedures)
	}

	result, err := evaluateProcedure(ctx, checks, procedureName, procedureExpression, procedureClaim)
	if err != nil {
		return err
	}
	if err := writeJSON(os.Stdout, result, cfg.Output.Pretty); err != nil {
		return err
	}

	if result.Passed {
		fmt.Fprintf(os.Stderr, "✓ %s: required documents present\n", procedureClaim)
	} else {
		fmt.Fprintf(os.Stderr, "✗ %s: %d document(s) missing\n", procedureClaim, len(result.Missing))
	}
	return nil
}

// evaluateProcedure checks a stored procedure, or an inline expression when name is empty
func evaluateProcedure(ctx context.Context, checks *checkrule.Evaluator, name, expression, claim string) (model.ProcedureResult, error) {
	if name != "" {
		return checks.EvaluateProcedure(ctx, name, claim)
	}
	return checks.EvaluateExpression(ctx, expression, claim)
}

func writeProcedures(w io.Writer, procedures []model.Procedure) error {
	for _, p := range procedures {
		rule := p.Expression
		if rule == "" {
			rule = p.CheckRules
		}
		if _, err := fmt.Fprintf(w, "%-40s %s\n", p.Name, rule); err != nil {
			return err
		}
	}
	return nil
}
