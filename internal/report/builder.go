// Package report derives the summary views of an aggregation run from the
// canonical patent set.
package report

import (
	"sort"

	"github.com/ppiankov/patfam/internal/model"
)

// RootOutcome is what the expansion of one root reported
type RootOutcome struct {
	Status  model.RootStatus
	Members int
}

// Input is everything Build needs
type Input struct {
	Patents      map[string]*model.CanonicalPatent
	Roots        []model.PublicationIdentifier
	Outcomes     map[string]RootOutcome // Root key -> outcome
	Jurisdiction string                 // Subset jurisdiction
	Baseline     model.ComparisonConfig
}

// Summary holds the derived views
type Summary struct {
	AllCountries map[string]int
	Subset       model.JurisdictionSubset
	Comparison   model.Comparison
	Roots        []model.RootSummary
}

// Build computes jurisdiction counts, the subset view, per-root summaries and
// the baseline comparison. The counts always sum to len(in.Patents).
func Build(in Input) Summary {
	s := Summary{
		AllCountries: make(map[string]int),
		Subset:       model.JurisdictionSubset{Jurisdiction: in.Jurisdiction, Patents: []*model.CanonicalPatent{}},
	}

	keys := make([]string, 0, len(in.Patents))
	for k := range in.Patents {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	subsetByRoot := make(map[string]int)
	for _, k := range keys {
		p := in.Patents[k]
		s.AllCountries[p.Jurisdiction()]++
		if in.Jurisdiction == "" || p.Jurisdiction() != in.Jurisdiction {
			continue
		}
		s.Subset.Patents = append(s.Subset.Patents, p)
		for _, r := range p.Roots {
			subsetByRoot[r]++
		}
	}

	for _, root := range in.Roots {
		out, ok := in.Outcomes[root.Key()]
		if !ok {
			out = RootOutcome{Status: model.RootIncomplete}
		}
		s.Roots = append(s.Roots, model.RootSummary{
			Root:        root,
			Status:      out.Status,
			Members:     out.Members,
			SubsetCount: subsetByRoot[root.Key()],
		})
	}

	s.Comparison = Compare(in.Baseline, len(in.Roots), len(s.Subset.Patents), len(in.Patents))
	return s
}

// Compare rates the found counts against the baseline
func Compare(baseline model.ComparisonConfig, roots, subset, total int) model.Comparison {
	c := model.Comparison{
		Baseline:       baseline.Baseline,
		ExpectedRoots:  baseline.ExpectedRoots,
		ExpectedSubset: baseline.ExpectedSubset,
		FoundRoots:     roots,
		FoundSubset:    subset,
		FoundTotal:     total,
		RootRate:       rate(roots, baseline.ExpectedRoots),
		SubsetRate:     rate(subset, baseline.ExpectedSubset),
	}
	c.Rating = Rate(c.SubsetRate)
	return c
}

// Rate grades a coverage rate
func Rate(r float64) model.Rating {
	switch {
	case r >= 1.0:
		return model.RatingSuperior
	case r >= 0.75:
		return model.RatingExcellent
	case r >= 0.5:
		return model.RatingGood
	default:
		return model.RatingNeedsImprovement
	}
}

// rate is found/expected; an empty baseline counts as met
func rate(found, expected int) float64 {
	if expected <= 0 {
		return 1.0
	}
	return float64(found) / float64(expected)
}
