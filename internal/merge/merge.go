// Package merge folds partial records from many sources into canonical patents.
//
// Merge is commutative and idempotent: the canonical patent only depends on
// the set of records applied, never on their arrival order.
package merge

import (
	"sort"
	"strings"

	"github.com/ppiankov/patfam/internal/model"
)

// Field names a scalar field of a canonical patent
type Field string

const (
	FieldTitle           Field = "title"
	FieldAbstract        Field = "abstract"
	FieldAssignee        Field = "assignee"
	FieldFilingDate      Field = "filing_date"
	FieldPublicationDate Field = "publication_date"
	FieldStatus          Field = "status"
)

// Origin records which source supplied a scalar value
type Origin struct {
	Source string `json:"source"`
	Rank   int    `json:"rank"`
}

// Canonical is a canonical patent with its per-field provenance
type Canonical struct {
	Patent     *model.CanonicalPatent
	Provenance map[Field]Origin
}

// Clone returns a deep copy
func (c *Canonical) Clone() *Canonical {
	if c == nil {
		return nil
	}
	prov := make(map[Field]Origin, len(c.Provenance))
	for k, v := range c.Provenance {
		prov[k] = v
	}
	return &Canonical{Patent: c.Patent.Clone(), Provenance: prov}
}

// Merge returns existing with incoming folded in. existing is not modified
// and may be nil. incoming must carry the same identifier key.
func Merge(existing *Canonical, incoming model.PartialRecord, p *Precedence) *Canonical {
	var out *Canonical
	if existing == nil {
		out = &Canonical{
			Patent:     &model.CanonicalPatent{Identifier: incoming.Identifier},
			Provenance: make(map[Field]Origin),
		}
	} else {
		out = existing.Clone()
	}
	cp := out.Patent
	if incoming.Identifier.Key() != cp.Identifier.Key() {
		return out
	}

	cp.Identifier = preferIdentifier(cp.Identifier, incoming.Identifier)
	origin := Origin{Source: incoming.Source, Rank: p.Rank(incoming.SourceKind)}
	f := incoming.Fields

	mergeScalar(out, FieldTitle, &cp.Title, f.Title, origin)
	mergeScalar(out, FieldAbstract, &cp.Abstract, f.Abstract, origin)
	mergeScalar(out, FieldAssignee, &cp.Assignee, f.Assignee, origin)
	mergeScalar(out, FieldFilingDate, &cp.FilingDate, f.FilingDate, origin)
	mergeScalar(out, FieldPublicationDate, &cp.PublicationDate, f.PublicationDate, origin)
	mergeScalar(out, FieldStatus, &cp.Status, f.Status, origin)

	cp.Inventors = unionStrings(cp.Inventors, f.Inventors)
	cp.FamilyMembers = unionIdentifiers(cp.FamilyMembers, f.FamilyMembers, cp.Identifier)
	cp.SourcesContributed = unionStrings(cp.SourcesContributed, []string{incoming.Source})
	cp.Claims = pickClaims(cp.Claims, f.Claims)

	return out
}

// WithRoots returns c with the root keys added
func WithRoots(c *Canonical, roots ...string) *Canonical {
	if c == nil || len(roots) == 0 {
		return c
	}
	out := c.Clone()
	out.Patent.Roots = unionStrings(out.Patent.Roots, roots)
	return out
}

// mergeScalar keeps the value with the best (rank, source, value) triple
func mergeScalar(c *Canonical, field Field, current *string, incoming string, origin Origin) {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" {
		return
	}
	if *current == "" {
		*current = incoming
		c.Provenance[field] = origin
		return
	}
	if beats(origin, incoming, c.Provenance[field], *current) {
		*current = incoming
		c.Provenance[field] = origin
	}
}

// beats orders candidates: higher precedence, then lexically smaller source
// name, then longer value, then lexically smaller value
func beats(a Origin, aValue string, b Origin, bValue string) bool {
	if a.Rank != b.Rank {
		return a.Rank > b.Rank
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if len(aValue) != len(bValue) {
		return len(aValue) > len(bValue)
	}
	return aValue < bValue
}

// preferIdentifier keeps a kind-bearing identifier, the smaller kind on ties
func preferIdentifier(a, b model.PublicationIdentifier) model.PublicationIdentifier {
	switch {
	case a.Kind == "":
		return b
	case b.Kind == "":
		return a
	case b.Kind < a.Kind:
		return b
	default:
		return a
	}
}

// pickClaims keeps the longer claim list; equal lengths keep the lexically smaller
func pickClaims(current, incoming []string) []string {
	if len(incoming) == 0 {
		return current
	}
	if len(current) == 0 {
		return append([]string(nil), incoming...)
	}
	if len(incoming) != len(current) {
		if len(incoming) > len(current) {
			return append([]string(nil), incoming...)
		}
		return current
	}
	for i := range current {
		if incoming[i] != current[i] {
			if incoming[i] < current[i] {
				return append([]string(nil), incoming...)
			}
			return current
		}
	}
	return current
}

func unionStrings(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	set := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !set[s] {
				set[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// unionIdentifiers merges by key, dropping self; one identifier per key, the
// kind-bearing one preferred
func unionIdentifiers(a, b []model.PublicationIdentifier, self model.PublicationIdentifier) []model.PublicationIdentifier {
	if len(b) == 0 {
		return a
	}
	byKey := make(map[string]model.PublicationIdentifier, len(a)+len(b))
	for _, list := range [][]model.PublicationIdentifier{a, b} {
		for _, id := range list {
			if id.IsZero() || id.SameAs(self) {
				continue
			}
			if prev, ok := byKey[id.Key()]; ok {
				byKey[id.Key()] = preferIdentifier(prev, id)
				continue
			}
			byKey[id.Key()] = id
		}
	}
	out := make([]model.PublicationIdentifier, 0, len(byKey))
	for _, id := range byKey {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
