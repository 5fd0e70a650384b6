package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/report"
	"github.com/ppiankov/patfam/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Aggregate several molecules from a file",
	Long: `Batch runs one aggregation per molecule:
- Read molecules from the input file, one "primary[,brand]" per line
- Run several molecules concurrently; they share the source budgets
- Write one JSON result per molecule

Example:
  patfam batch molecules.txt
  patfam batch molecules.txt --concurrency 2 --output-dir ./results`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 2, "number of molecules aggregated at once")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./patfam-results", "output directory for results")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", time.Hour, "total timeout for the batch")
	addRunFlags(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	queries, err := worker.ReadQueriesFromFile(file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  patfam batch\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s (%d molecules)\n", file, len(queries))
	fmt.Fprintf(os.Stderr, "  Concurrency:  %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	rt, err := setupRuntime(ctx, applyRunFlags)
	if err != nil {
		return err
	}
	defer rt.close()

	processor := worker.NewBatchProcessor(rt.orchestrator, concurrency)
	results := processor.ProcessQueries(ctx, queries)

	successCount := 0
	failureCount := 0
	for _, result := range results {
		if result.Result == nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Query.PrimaryName, result.Error)
			continue
		}

		path := filepath.Join(outputDir, sanitizeFilename(result.Query.PrimaryName)+".json")
		if err := report.WriteJSONFile(path, result.Result); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write JSON: %v\n", result.Query.PrimaryName, err)
			continue
		}

		if result.Result.State == model.StateFailed {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %s\n", result.Query.PrimaryName, result.Result.Diagnostics.RunFailure)
			continue
		}
		successCount++
		fmt.Fprintf(os.Stderr, "✓ %s (roots: %d, patents: %d, %s: %d, %s)\n",
			result.Query.PrimaryName,
			len(result.Result.RootIdentifiers),
			len(result.Result.CanonicalPatents),
			result.Result.Subset.Jurisdiction,
			len(result.Result.Subset.Patents),
			result.Result.Comparison.Rating,
		)
	}
	skipped := len(queries) - len(results)

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d molecules\n", len(queries))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	if skipped > 0 {
		fmt.Fprintf(os.Stderr, "  Skipped:   %d (batch timeout)\n", skipped)
	}
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", " ", "-",
)

// sanitizeFilename turns a molecule name into a file name
func sanitizeFilename(s string) string {
	s = filenameReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		s = "molecule"
	}
	return s
}
