package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/rulecheck/internal/model"
	"github.com/ppiankov/rulecheck/internal/worker"
)

var (
	outputDir    string
	batchTimeout time.Duration
	metricsAddr  string
	procedure    string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <claims-file>",
	Short: "Evaluate every L2 rule for many claims in parallel",
	Long: `Batch evaluates every L2 rule for each claim listed in the input file:
- Read claim ids from the file (one per line, # starts a comment)
- Evaluate (claim, rule) pairs with a bounded worker pool
- Write one JSON report per claim to the output directory

A failed evaluation is recorded in its claim report and never stops the batch.

Example:
  rulecheck batch claims.txt
  rulecheck batch claims.txt --concurrency 8 --output-dir ./decisions
  rulecheck batch claims.txt --rps 2 --metrics-addr :9090
  rulecheck batch claims.txt --procedure "Cataract Surgery"`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Int("concurrency", model.DefaultConfig().Concurrency.Workers, "number of concurrent evaluations")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./rulecheck-reports", "output directory for claim reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "batch-timeout", 30*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the batch runs")
	batchCmd.Flags().StringVar(&procedure, "procedure", "", "also check each claim's documents against this procedure")

	addOracleFlags(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]

	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Rulecheck Batch Evaluation\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", cfg.Concurrency.Workers)
	fmt.Fprintf(os.Stderr, "  Oracle:       %s/%s\n", cfg.Oracle.Provider, cfg.Oracle.Model)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	if procedure != "" {
		fmt.Fprintf(os.Stderr, "  Procedure:    %s\n", procedure)
	}
	fmt.Fprintf(os.Stderr, "\n")

	if metricsAddr != "" {
		stop := serveMetrics(metricsAddr)
		defer stop()
		fmt.Fprintf(os.Stderr, "  Metrics:      http://%s/metrics\n\n", metricsAddr)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	w, err := buildWiring(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = w.close() }()

	processor := worker.NewBatchProcessor(w.engine, w.store, cfg.Concurrency.Workers, logger)
	if procedure != "" {
		processor.WithProcedure(w.checks, procedure)
	}

	fmt.Fprintf(os.Stderr, "⚙️  Evaluating claims with %d workers...\n", cfg.Concurrency.Workers)
	fmt.Fprintf(os.Stderr, "\n")

	// An interrupted batch still returns a report; write it before failing
	report, batchErr := processor.ProcessFile(ctx, file)
	if report == nil {
		return fmt.Errorf("process file: %w", batchErr)
	}

	var total worker.ClaimSummary
	for _, claim := range report.Claims {
		path := filepath.Join(outputDir, sanitizeFilename(claim.ClaimID)+".json")
		if err := writeReport(path, claim, cfg.Output.Pretty); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write report: %v\n", claim.ClaimID, err)
			continue
		}

		s := claim.Summary
		total.Passed += s.Passed
		total.Failed += s.Failed
		total.Undetermined += s.Undetermined
		total.Errors += s.Errors

		mark := "✓"
		if s.Errors > 0 {
			mark = "✗"
		}
		fmt.Fprintf(os.Stderr, "%s %s (pass %d, fail %d, undetermined %d, errors %d)%s\n",
			mark, claim.ClaimID, s.Passed, s.Failed, s.Undetermined, s.Errors, procedureNote(claim))
	}

	// Summary
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Run:           %s\n", report.RunID)
	fmt.Fprintf(os.Stderr, "  Claims:        %d\n", len(report.Claims))
	fmt.Fprintf(os.Stderr, "  Rules:         %d\n", report.Rules)
	fmt.Fprintf(os.Stderr, "  Pass:          %d\n", total.Passed)
	fmt.Fprintf(os.Stderr, "  Fail:          %d\n", total.Failed)
	fmt.Fprintf(os.Stderr, "  Undetermined:  %d\n", total.Undetermined)
	fmt.Fprintf(os.Stderr, "  Errors:        %d\n", total.Errors)
	fmt.Fprintf(os.Stderr, "  Elapsed:       %v\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "  Output:        %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	if batchErr != nil {
		return fmt.Errorf("process file: %w", batchErr)
	}
	return nil
}

// procedureNote summarises a claim's procedure check for the progress line
func procedureNote(claim *worker.ClaimReport) string {
	switch {
	case claim.ProcedureError != "":
		return " [procedure: error]"
	case claim.Procedure == nil:
		return ""
	case claim.Procedure.Passed:
		return " [procedure: passed]"
	default:
		return fmt.Sprintf(" [procedure: failed, %d missing]", len(claim.Procedure.Missing))
	}
}

// writeReport writes one claim report as JSON
func writeReport(path string, claim *worker.ClaimReport, pretty bool) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return writeJSON(f, claim, pretty)
}

// serveMetrics exposes the Prometheus registry until the returned func is called
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "-",
)

// sanitizeFilename sanitizes a string for use as a filename
func sanitizeFilename(s string) string {
	s = filenameReplacer.Replace(strings.TrimSpace(s))
	s = strings.Trim(s, ".")
	if s == "" {
		s = "claim"
	}

	// Limit length
	if len(s) > 100 {
		s = s[:100]
	}

	return s
}
