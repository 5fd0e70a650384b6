package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/patfam/internal/model"
)

// WriteJSON encodes the result with indentation
func WriteJSON(w io.Writer, res *model.AggregationResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// WriteJSONFile writes the result to path; "-" writes to stdout
func WriteJSONFile(path string, res *model.AggregationResult) error {
	if path == "-" {
		return WriteJSON(os.Stdout, res)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteJSON(f, res); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteSummary prints a terse run summary
func WriteSummary(w io.Writer, res *model.AggregationResult) {
	fmt.Fprintf(w, "%s: %s", res.Query.PrimaryName, res.State)
	if res.Partial {
		fmt.Fprint(w, " (partial)")
	}
	fmt.Fprintf(w, " in %v\n", res.Duration.Round(time.Millisecond))

	fmt.Fprintf(w, "  roots:    %d\n", len(res.RootIdentifiers))
	fmt.Fprintf(w, "  patents:  %d across %d jurisdictions\n", len(res.CanonicalPatents), len(res.AllCountries))
	if res.Subset.Jurisdiction != "" {
		fmt.Fprintf(w, "  %s:       %d\n", res.Subset.Jurisdiction, len(res.Subset.Patents))
	}

	c := res.Comparison
	if c.Baseline != "" {
		fmt.Fprintf(w, "  vs %s: roots %d/%d, %s %d/%d -> %s\n",
			c.Baseline, c.FoundRoots, c.ExpectedRoots, res.Subset.Jurisdiction, c.FoundSubset, c.ExpectedSubset, c.Rating)
	}

	if len(res.Diagnostics.Failures) > 0 {
		sources := make([]string, 0, len(res.Diagnostics.Failures))
		for src := range res.Diagnostics.Failures {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		parts := make([]string, 0, len(sources))
		for _, src := range sources {
			parts = append(parts, fmt.Sprintf("%s=%d", src, res.Diagnostics.FailureCount(src)))
		}
		fmt.Fprintf(w, "  failures: %s\n", strings.Join(parts, " "))
	}
	if res.Diagnostics.RunFailure != "" {
		fmt.Fprintf(w, "  error:    %s\n", res.Diagnostics.RunFailure)
	}
}
