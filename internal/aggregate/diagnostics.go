package aggregate

import (
	"sync"

	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/source"
)

// maxGaps bounds the gap log to its most recent entries
const maxGaps = 100

// recorder accumulates the diagnostics of one run
type recorder struct {
	mu         sync.Mutex
	failures   map[string]map[model.FailureKind]int
	lookups    map[string]int
	gaps       []model.Gap
	incomplete []model.PublicationIdentifier
}

func newRecorder() *recorder {
	return &recorder{
		failures: make(map[string]map[model.FailureKind]int),
		lookups:  make(map[string]int),
	}
}

func (r *recorder) lookup(src string) {
	r.mu.Lock()
	r.lookups[src]++
	r.mu.Unlock()
}

func (r *recorder) failure(src, target string, err error) {
	kind := source.AsFailureKind(err)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures[src] == nil {
		r.failures[src] = make(map[model.FailureKind]int)
	}
	r.failures[src][kind]++

	r.gaps = append(r.gaps, model.Gap{Source: src, Target: target, Kind: kind, Message: err.Error()})
	if len(r.gaps) > maxGaps {
		r.gaps = append(r.gaps[:0:0], r.gaps[len(r.gaps)-maxGaps:]...)
	}
}

func (r *recorder) incompleteRoot(id model.PublicationIdentifier) {
	r.mu.Lock()
	r.incomplete = append(r.incomplete, id)
	r.mu.Unlock()
}

func (r *recorder) snapshot() model.Diagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := model.Diagnostics{
		Failures: make(map[string]map[model.FailureKind]int, len(r.failures)),
		Lookups:  make(map[string]int, len(r.lookups)),
		Gaps:     append([]model.Gap(nil), r.gaps...),
	}
	for src, kinds := range r.failures {
		d.Failures[src] = make(map[model.FailureKind]int, len(kinds))
		for k, n := range kinds {
			d.Failures[src][k] = n
		}
	}
	for src, n := range r.lookups {
		d.Lookups[src] = n
	}
	d.IncompleteRoots = append([]model.PublicationIdentifier(nil), r.incomplete...)
	return d
}
