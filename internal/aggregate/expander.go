package aggregate

import (
	"context"
	"iter"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/patfam/internal/logging"
	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/source"
)

// RecordSink receives what an expansion finds. Complete is called once the
// traversal has visited every node it queued.
type RecordSink interface {
	Records(recs []model.PartialRecord)
	Failed(source string, target model.PublicationIdentifier, err error)
	Complete()
}

// visitedSet is the run-wide claim table of looked-up identifiers
type visitedSet struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newVisitedSet() *visitedSet {
	return &visitedSet{keys: make(map[string]bool)}
}

// claim reports whether id was unclaimed and claims it
func (v *visitedSet) claim(id model.PublicationIdentifier) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.keys[id.Key()] {
		return false
	}
	v.keys[id.Key()] = true
	return true
}

// Expander walks the family graph of root identifiers
type Expander struct {
	clients  []source.Client
	caller   *caller
	visited  *visitedSet
	maxDepth int
	follow   map[source.RelationType]bool
	leaf     map[source.RelationType]bool
	log      logging.Logger
}

var (
	// defaultFollow is the relation set expanded when none is configured
	defaultFollow = []source.RelationType{source.RelationFamilyMember, source.RelationAlsoPublishedAs}
	// leafRelations are yielded but never queued for further lookups
	leafRelations = []source.RelationType{source.RelationCitation}
)

// related is one relation target found at a node
type related struct {
	id     model.PublicationIdentifier
	expand bool
}

func newExpander(clients []source.Client, c *caller, visited *visitedSet, maxDepth int, follow []source.RelationType, log logging.Logger) *Expander {
	var capable []source.Client
	for _, cl := range clients {
		if cl.SupportsFamilyExpansion() {
			capable = append(capable, cl)
		}
	}
	if len(follow) == 0 {
		follow = defaultFollow
	}
	set := make(map[source.RelationType]bool, len(follow))
	for _, t := range follow {
		set[t] = true
	}
	leaf := make(map[source.RelationType]bool, len(leafRelations))
	for _, t := range leafRelations {
		if !set[t] {
			leaf[t] = true
		}
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Expander{
		clients:  capable,
		caller:   c,
		visited:  visited,
		maxDepth: maxDepth,
		follow:   set,
		leaf:     leaf,
		log:      log,
	}
}

// Expand returns the identifiers related to root, breadth first up to
// maxDepth hops (depth 1 is the direct family). The sequence is lazy and
// yields each identifier once; the root itself is never yielded. Cited
// documents are yielded without being looked up. Identifiers already
// claimed by another expansion of the run are yielded but not looked up
// again. sink.Complete is called when the traversal ran to its end.
func (e *Expander) Expand(ctx context.Context, root model.PublicationIdentifier, sink RecordSink) iter.Seq[model.PublicationIdentifier] {
	return func(yield func(model.PublicationIdentifier) bool) {
		yielded := map[string]bool{root.Key(): true}

		var frontier []model.PublicationIdentifier
		if e.visited.claim(root) {
			frontier = append(frontier, root)
		}

		for hop := 0; hop < e.maxDepth && len(frontier) > 0; hop++ {
			var next []model.PublicationIdentifier
			for _, node := range frontier {
				if ctx.Err() != nil {
					return
				}
				found, ok := e.visit(ctx, node, sink)
				if !ok {
					return
				}
				for _, rel := range found {
					key := rel.id.Key()
					if !yielded[key] {
						yielded[key] = true
						if !yield(rel.id) {
							return
						}
					}
					if rel.expand && hop+1 < e.maxDepth && e.visited.claim(rel.id) {
						next = append(next, rel.id)
					}
				}
			}
			frontier = next
		}
		sink.Complete()
	}
}

// visit looks node up on every family-capable client concurrently and
// returns the relation targets in client order. ok is false when the run
// context ended before every lookup answered.
func (e *Expander) visit(ctx context.Context, node model.PublicationIdentifier, sink RecordSink) ([]related, bool) {
	found := make([][]related, len(e.clients))
	cut := make([]bool, len(e.clients))

	var g errgroup.Group
	for i, cl := range e.clients {
		g.Go(func() error {
			resp, err := e.caller.lookup(ctx, cl, source.IDRequest(node))
			if err != nil {
				if ctx.Err() != nil {
					cut[i] = true
					return nil
				}
				sink.Failed(cl.Name(), node, err)
				return nil
			}
			sink.Records(resp.Records)
			for _, rel := range resp.Related {
				if rel.To.IsZero() {
					continue
				}
				switch {
				case e.follow[rel.Type]:
					found[i] = append(found[i], related{id: rel.To, expand: true})
				case e.leaf[rel.Type]:
					found[i] = append(found[i], related{id: rel.To})
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []related
	for i, rels := range found {
		if cut[i] {
			return nil, false
		}
		out = append(out, rels...)
	}
	e.log.Debug("expanded", logging.String("id", node.Key()), logging.Int("related", len(out)))
	return out, true
}
