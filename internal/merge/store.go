package merge

import (
	"errors"
	"sort"
	"sync"

	"github.com/ppiankov/patfam/internal/model"
)

// ErrFrozen is returned by writes after Freeze
var ErrFrozen = errors.New("merge store is frozen")

// Store holds the canonical patents of one run.
// Each identifier has a single writer at a time; distinct identifiers merge in parallel.
type Store struct {
	lifecycle  sync.RWMutex // Writers hold it shared, Freeze exclusive
	frozen     bool
	mu         sync.RWMutex // Guards entries
	entries    map[string]*entry
	precedence *Precedence
}

type entry struct {
	mu      sync.Mutex
	canon   *Canonical
	applied map[string]bool // Record fingerprints already merged
}

// NewStore creates an empty store using precedence p (nil = default)
func NewStore(p *Precedence) *Store {
	if p == nil {
		p = DefaultPrecedence()
	}
	return &Store{
		entries:    make(map[string]*entry),
		precedence: p,
	}
}

// Apply merges one record, attributing it to roots. It reports whether the
// record was new to the store.
func (s *Store) Apply(rec model.PartialRecord, roots ...string) (bool, error) {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.frozen {
		return false, ErrFrozen
	}
	if rec.Identifier.IsZero() {
		return false, nil
	}
	return s.apply(rec, roots), nil
}

// Commit applies the buffered records of one root expansion
func (s *Store) Commit(root string, recs []model.PartialRecord) (int, error) {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.frozen {
		return 0, ErrFrozen
	}

	var roots []string
	if root != "" {
		roots = []string{root}
	}
	applied := 0
	for _, rec := range recs {
		if rec.Identifier.IsZero() {
			continue
		}
		if s.apply(rec, roots) {
			applied++
		}
	}
	return applied, nil
}

func (s *Store) apply(rec model.PartialRecord, roots []string) bool {
	e := s.entry(rec.Identifier.Key())

	e.mu.Lock()
	defer e.mu.Unlock()

	fp := rec.Fingerprint()
	fresh := !e.applied[fp]
	if fresh {
		e.applied[fp] = true
		e.canon = Merge(e.canon, rec, s.precedence)
	}
	if len(roots) > 0 {
		e.canon = WithRoots(e.canon, roots...)
	}
	return fresh
}

func (s *Store) entry(key string) *entry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e
	}
	e = &entry{applied: make(map[string]bool)}
	s.entries[key] = e
	return e
}

// Freeze ends the write lifecycle. It waits for in-flight writes.
func (s *Store) Freeze() {
	s.lifecycle.Lock()
	s.frozen = true
	s.lifecycle.Unlock()
}

// Frozen reports whether Freeze was called
func (s *Store) Frozen() bool {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	return s.frozen
}

// Len returns the number of canonical patents
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Get returns a copy of one canonical patent
func (s *Store) Get(key string) (*model.CanonicalPatent, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.canon == nil {
		return nil, false
	}
	return e.canon.Patent.Clone(), true
}

// Provenance returns which source supplied each scalar of one patent
func (s *Store) Provenance(key string) map[Field]Origin {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.canon == nil {
		return nil
	}
	return e.canon.Clone().Provenance
}

// Snapshot returns deep copies of every canonical patent keyed by identifier key
func (s *Store) Snapshot() map[string]*model.CanonicalPatent {
	s.mu.RLock()
	entries := make(map[string]*entry, len(s.entries))
	for k, e := range s.entries {
		entries[k] = e
	}
	s.mu.RUnlock()

	out := make(map[string]*model.CanonicalPatent, len(entries))
	for k, e := range entries {
		e.mu.Lock()
		if e.canon != nil {
			out[k] = e.canon.Patent.Clone()
		}
		e.mu.Unlock()
	}
	return out
}

// Keys returns the identifier keys in sorted order. A key can appear just
// before its first merge lands; Get reports it absent until then.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Jurisdiction returns the keys filed in jurisdiction, sorted
func (s *Store) Jurisdiction(jurisdiction string) []string {
	var out []string
	for _, k := range s.Keys() {
		if p, ok := s.Get(k); ok && p.Jurisdiction() == jurisdiction {
			out = append(out, k)
		}
	}
	return out
}
