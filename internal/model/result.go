package model

import "time"

// RunState is a state of the aggregation state machine
type RunState string

const (
	StateSeeding     RunState = "SEEDING"
	StateExpanding   RunState = "EXPANDING"
	StateMerging     RunState = "MERGING"
	StateSummarizing RunState = "SUMMARIZING"
	StateDone        RunState = "DONE"
	StateFailed      RunState = "FAILED"
)

// IsTerminal reports whether the run has finished
func (s RunState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// FailureKind classifies a source failure in diagnostics
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
	FailureMalformed FailureKind = "source_error"
)

// AggregationResult is the consolidated, immutable outcome of one run
type AggregationResult struct {
	RunID            string                      `json:"run_id"`
	Query            MoleculeQuery               `json:"query"`
	State            RunState                    `json:"state"`
	Partial          bool                        `json:"partial"` // Deadline expired before every expansion finished
	RootIdentifiers  []PublicationIdentifier     `json:"root_identifiers"`
	AllCountries     map[string]int              `json:"all_countries"`
	CanonicalPatents map[string]*CanonicalPatent `json:"canonical_patents"`
	Subset           JurisdictionSubset          `json:"jurisdiction_subset"`
	Comparison       Comparison                  `json:"comparison"`
	Roots            []RootSummary               `json:"roots"`
	Diagnostics      Diagnostics                 `json:"diagnostics"`
	SeedTerms        []string                    `json:"seed_terms,omitempty"`
	StartedAt        time.Time                   `json:"started_at"`
	Duration         time.Duration               `json:"duration"`
}

// JurisdictionSubset is the view of the canonical set restricted to one jurisdiction
type JurisdictionSubset struct {
	Jurisdiction string             `json:"jurisdiction"`
	Patents      []*CanonicalPatent `json:"patents"`
}

// Comparison rates the run against an external baseline count
type Comparison struct {
	Baseline       string  `json:"baseline"`
	ExpectedRoots  int     `json:"expected_roots"`
	ExpectedSubset int     `json:"expected_subset"`
	FoundRoots     int     `json:"found_roots"`
	FoundSubset    int     `json:"found_subset"`
	FoundTotal     int     `json:"found_total"`
	RootRate       float64 `json:"root_rate"`   // FoundRoots / ExpectedRoots
	SubsetRate     float64 `json:"subset_rate"` // FoundSubset / ExpectedSubset
	Rating         Rating  `json:"rating"`
}

// Rating grades subset coverage against the baseline
type Rating string

const (
	RatingSuperior         Rating = "SUPERIOR"
	RatingExcellent        Rating = "EXCELLENT"
	RatingGood             Rating = "GOOD"
	RatingNeedsImprovement Rating = "NEEDS_IMPROVEMENT"
)

// RootStatus describes how the expansion of one root ended
type RootStatus string

const (
	RootSuccess    RootStatus = "success"
	RootNoMembers  RootStatus = "no_members"
	RootIncomplete RootStatus = "incomplete" // Cut by the run deadline
	RootFailed     RootStatus = "failed"     // Every source failed for the root
)

// RootSummary reports the expansion outcome of one root
type RootSummary struct {
	Root        PublicationIdentifier `json:"root"`
	Status      RootStatus            `json:"status"`
	Members     int                   `json:"members"`
	SubsetCount int                   `json:"subset_count"`
}

// Diagnostics summarises failures absorbed during the run
type Diagnostics struct {
	Failures        map[string]map[FailureKind]int `json:"failures"` // source -> kind -> count
	Lookups         map[string]int                 `json:"lookups"`  // source -> calls issued
	Gaps            []Gap                          `json:"gaps,omitempty"`
	IncompleteRoots []PublicationIdentifier        `json:"incomplete_roots,omitempty"`
	RunFailure      string                         `json:"run_failure,omitempty"`
}

// FailureCount returns how many failures of any kind a source had
func (d Diagnostics) FailureCount(source string) int {
	total := 0
	for _, n := range d.Failures[source] {
		total += n
	}
	return total
}

// Gap is one absorbed failure
type Gap struct {
	Source  string      `json:"source"`
	Target  string      `json:"target"` // Identifier key or query term
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}
