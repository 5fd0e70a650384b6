package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/pubchem"
)

// firstSweepYear is the first publication year of the exhaustive year sweep
const firstSweepYear = 2005

// sweepAssignees are the originator companies tried by the exhaustive assignee sweep
var sweepAssignees = []string{
	"Orion Corporation", "Bayer", "AstraZeneca", "Pfizer", "Novartis",
	"Roche", "Merck", "Bristol-Myers Squibb", "Johnson & Johnson",
	"Eli Lilly", "Sanofi", "GlaxoSmithKline", "AbbVie", "Takeda",
	"Gilead", "Amgen", "Biogen", "Celgene", "Vertex", "Regeneron",
}

// formulationTerms target follow-on filings (salts, forms, processes)
var formulationTerms = []string{
	"pharmaceutical composition",
	"treatment method",
	"crystalline form",
	"polymorphic",
	"synthesis process",
}

// baseTerms are the names searched everywhere: primary, brand, development codes and CAS
func baseTerms(q model.MoleculeQuery, syn *pubchem.Synonyms, cfg model.SeedConfig) []string {
	terms := newTermSet()
	for _, t := range q.Terms() {
		terms.add(t)
	}
	if cfg.UseSynonyms {
		for _, t := range syn.Terms(cfg.MaxSynonymTerms) {
			terms.add(t)
			// Codes are indexed with and without their hyphen
			if compact := strings.ReplaceAll(t, "-", ""); compact != t && !casLike(t) {
				terms.add(compact)
			}
		}
	}
	return terms.list
}

// seedTerms extends baseTerms with the exhaustive strategies when enabled
func seedTerms(q model.MoleculeQuery, syn *pubchem.Synonyms, cfg model.SeedConfig, now time.Time) []string {
	terms := newTermSet()
	for _, t := range baseTerms(q, syn, cfg) {
		terms.add(t)
	}
	if !cfg.Exhaustive {
		return terms.list
	}

	name := q.PrimaryName
	for year := firstSweepYear; year <= now.Year(); year++ {
		terms.add(fmt.Sprintf("%q WO%d", name, year))
	}
	for _, company := range sweepAssignees {
		terms.add(fmt.Sprintf("%q %q", name, company))
	}
	for _, f := range formulationTerms {
		terms.add(fmt.Sprintf("%q %s", name, f))
	}
	if q.BrandName != "" {
		terms.add(fmt.Sprintf("%q pharmaceutical composition", q.BrandName))
	}
	return terms.list
}

func casLike(s string) bool {
	return strings.Count(s, "-") == 2 && strings.Trim(s, "0123456789-") == ""
}

// termSet keeps the first spelling of each case-insensitive term
type termSet struct {
	seen map[string]bool
	list []string
}

func newTermSet() *termSet {
	return &termSet{seen: make(map[string]bool)}
}

func (s *termSet) add(term string) {
	term = strings.TrimSpace(term)
	key := strings.ToLower(term)
	if term == "" || s.seen[key] {
		return
	}
	s.seen[key] = true
	s.list = append(s.list, term)
}
