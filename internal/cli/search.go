package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/patfam/internal/aggregate"
	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/report"
)

var (
	brandName    string
	outJSON      string
	deadline     time.Duration
	depth        int
	workers      int
	jurisdiction string
	exhaustive   bool
	noCache      bool
	noSynonyms   bool
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <molecule>",
	Short: "Aggregate the patent families of one molecule",
	Long: `Search runs one aggregation for a molecule:
- Seed root publications from the search engines (name, brand, synonyms)
- Expand each root's family across every family-capable source
- Sweep the target jurisdiction's patent office directly
- Merge per-source records into canonical patents
- Rate the target jurisdiction coverage against the baseline

Example:
  patfam search darolutamide --brand Nubeqa
  patfam search darolutamide --json darolutamide.json --deadline 5m
  patfam search olaparib --jurisdiction BR --exhaustive`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVar(&brandName, "brand", "", "commercial name of the molecule")
	addRunFlags(searchCmd)
	searchCmd.Flags().StringVar(&outJSON, "json", "-", "output JSON path (- for stdout)")
}

// addRunFlags registers the flags shared by search and batch
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "global run deadline (default from config)")
	cmd.Flags().IntVar(&depth, "depth", -1, "family expansion depth, 1 = direct family (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent root expansions (default from config)")
	cmd.Flags().StringVar(&jurisdiction, "jurisdiction", "", "target jurisdiction of the subset view (default from config)")
	cmd.Flags().BoolVar(&exhaustive, "exhaustive", false, "add year, assignee and formulation seed sweeps")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the lookup cache (force fresh fetches)")
	cmd.Flags().BoolVar(&noSynonyms, "no-synonyms", false, "do not seed with PubChem synonyms")
}

// applyRunFlags copies the explicitly set run flags into cfg
func applyRunFlags(cfg *model.Config) {
	if deadline > 0 {
		cfg.Run.Deadline = deadline
		if cfg.Run.CallTimeout >= deadline {
			cfg.Run.CallTimeout = deadline / 2
		}
	}
	if depth >= 0 {
		cfg.Run.MaxDepth = depth
	}
	if workers > 0 {
		cfg.Expansion.Workers = workers
	}
	if jurisdiction != "" {
		cfg.Subset.Jurisdiction = jurisdiction
	}
	if exhaustive {
		cfg.Seed.Exhaustive = true
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	if noSynonyms {
		cfg.Seed.UseSynonyms = false
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	q, err := model.NewMoleculeQuery(args[0], brandName)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := setupRuntime(ctx, applyRunFlags)
	if err != nil {
		return err
	}
	defer rt.close()

	if verbose {
		fmt.Fprintf(os.Stderr, "Searching: %s\n", q.PrimaryName)
		fmt.Fprintf(os.Stderr, "Deadline: %v\n", rt.cfg.Run.Deadline)
		fmt.Fprintf(os.Stderr, "Cache: %v\n", rt.cfg.Cache.Enabled)
		fmt.Fprintln(os.Stderr)
	}

	res, runErr := rt.orchestrator.Run(ctx, q)
	if res == nil {
		return fmt.Errorf("search failed: %w", runErr)
	}

	if err := report.WriteJSONFile(outJSON, res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	report.WriteSummary(os.Stderr, res)

	if errors.Is(runErr, aggregate.ErrRunFailure) {
		return runErr
	}
	return nil
}
