// Package aggregate runs the patent family aggregation of one molecule:
// seed search, family expansion, jurisdiction sweep and enrichment, merge
// and summary.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/patfam/internal/logging"
	"github.com/ppiankov/patfam/internal/merge"
	"github.com/ppiankov/patfam/internal/metrics"
	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/pubchem"
	"github.com/ppiankov/patfam/internal/report"
	"github.com/ppiankov/patfam/internal/source"
	"github.com/ppiankov/patfam/internal/worker"
)

// ErrRunFailure is returned when seeding produced no root identifiers
var ErrRunFailure = errors.New("aggregation run failed")

// SynonymResolver expands a molecule name into development codes and CAS.
// *pubchem.Resolver implements it.
type SynonymResolver interface {
	Resolve(ctx context.Context, molecule string) (*pubchem.Synonyms, error)
}

// Orchestrator drives aggregation runs. It is safe for concurrent runs;
// runs share the governor and therefore the source budgets.
type Orchestrator struct {
	cfg      *model.Config
	clients  []source.Client
	resolver SynonymResolver
	governor Governor
	follow   []source.RelationType
	log      logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	sleep    SleepFunc
}

var _ worker.Runner = (*Orchestrator)(nil)

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithResolver enables synonym seeding
func WithResolver(r SynonymResolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithGovernor sets the per-source rate governor
func WithGovernor(g Governor) Option {
	return func(o *Orchestrator) { o.governor = g }
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithFollowRelations sets the relation types the expander follows
func WithFollowRelations(types ...source.RelationType) Option {
	return func(o *Orchestrator) { o.follow = types }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep overrides the retry backoff sleep
func WithSleep(sleep SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// New creates an orchestrator over clients
func New(cfg *model.Config, clients []source.Client, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(clients) == 0 {
		return nil, errors.New("no source clients configured")
	}

	o := &Orchestrator{
		cfg:      cfg,
		clients:  clients,
		governor: worker.Unlimited(),
		log:      logging.NewNopLogger(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// run is the state of one aggregation
type run struct {
	id      string
	query   model.MoleculeQuery
	state   model.RunState
	store   *merge.Store
	visited *visitedSet
	diag    *recorder
	caller  *caller
	log     logging.Logger
}

// Run aggregates the patent family of q. Source failures only show up in
// diagnostics; the returned error is non-nil only for invalid queries and
// for ErrRunFailure, which comes with the FAILED result.
func (o *Orchestrator) Run(ctx context.Context, q model.MoleculeQuery) (*model.AggregationResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	started := o.now()

	if o.cfg.Run.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Run.Deadline)
		defer cancel()
	}

	r := &run{
		id:      uuid.NewString(),
		query:   q,
		store:   merge.NewStore(o.precedence()),
		visited: newVisitedSet(),
		diag:    newRecorder(),
	}
	r.log = o.log.With(logging.String("run_id", r.id), logging.String("molecule", q.PrimaryName))
	r.caller = &caller{
		governor:    o.governor,
		retry:       o.cfg.Retry,
		callTimeout: o.cfg.Run.CallTimeout,
		sleep:       o.sleep,
		metrics:     o.metrics,
		diag:        r.diag,
		log:         r.log,
	}

	r.transition(model.StateSeeding)
	roots, terms, base := o.seed(ctx, r)
	if len(roots) == 0 {
		r.transition(model.StateFailed)
		res := o.result(r, started, nil, nil, terms)
		res.Diagnostics.RunFailure = "no root identifiers found"
		r.store.Freeze()
		o.metrics.ObserveRun(string(res.State))
		return res, fmt.Errorf("%w: no root identifiers found for %q", ErrRunFailure, q.PrimaryName)
	}

	r.transition(model.StateExpanding)
	var sweep sync.WaitGroup
	if o.cfg.Subset.Sweep && o.cfg.Subset.Jurisdiction != "" {
		sweep.Add(1)
		go func() {
			defer sweep.Done()
			o.sweepJurisdiction(ctx, r, base)
		}()
	}
	outcomes := o.expand(ctx, r, roots)
	sweep.Wait()

	r.transition(model.StateMerging)
	if o.cfg.Enrichment.Enabled && ctx.Err() == nil {
		o.enrich(ctx, r)
	}

	r.transition(model.StateSummarizing)
	r.store.Freeze()
	res := o.result(r, started, roots, outcomes, terms)
	res.Partial = ctx.Err() != nil || len(res.Diagnostics.IncompleteRoots) > 0

	r.transition(model.StateDone)
	res.State = model.StateDone
	res.Duration = o.now().Sub(started)
	o.metrics.ObserveRun(string(res.State))
	r.log.Info("run finished",
		logging.Int("roots", len(roots)),
		logging.Int("patents", len(res.CanonicalPatents)),
		logging.Int("subset", len(res.Subset.Patents)),
		logging.Bool("partial", res.Partial),
		logging.Duration("duration", res.Duration),
	)
	return res, nil
}

func (r *run) transition(s model.RunState) {
	r.state = s
	r.log.Debug("state", logging.String("state", string(s)))
}

func (o *Orchestrator) precedence() *merge.Precedence {
	if len(o.cfg.Merge.Precedence) == 0 {
		return merge.DefaultPrecedence()
	}
	return merge.NewPrecedence(o.cfg.Merge.Precedence)
}

// seed searches every term on every search engine. It returns the roots in
// discovery order, the terms searched and the name-only subset of those terms.
func (o *Orchestrator) seed(ctx context.Context, r *run) ([]model.PublicationIdentifier, []string, []string) {
	var syn *pubchem.Synonyms
	if o.resolver != nil && o.cfg.Seed.UseSynonyms {
		var err error
		syn, err = o.resolveSynonyms(ctx, r)
		if err != nil {
			r.log.Warn("synonym resolution failed", logging.Err(err))
		}
	}
	base := baseTerms(r.query, syn, o.cfg.Seed)
	terms := seedTerms(r.query, syn, o.cfg.Seed, o.now())

	var engines []source.Client
	for _, c := range o.clients {
		if c.Kind() == source.KindSearchEngine {
			engines = append(engines, c)
		}
	}

	// hits[term][engine] keeps discovery order independent of completion order
	hits := make([][][]model.PartialRecord, len(terms))
	var g errgroup.Group
	g.SetLimit(o.cfg.Expansion.Workers)
	for i, term := range terms {
		hits[i] = make([][]model.PartialRecord, len(engines))
		for j, engine := range engines {
			g.Go(func() error {
				resp, err := r.caller.lookup(ctx, engine, source.QueryRequest(term))
				if err == nil {
					hits[i][j] = resp.Records
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	allowed := make(map[string]bool)
	for _, j := range o.cfg.Seed.RootJurisdictions {
		allowed[j] = true
	}

	var roots []model.PublicationIdentifier
	seen := make(map[string]bool)
	for i := range hits {
		for j := range hits[i] {
			for _, rec := range hits[i][j] {
				id := rec.Identifier
				if id.IsZero() || (len(allowed) > 0 && !allowed[id.Jurisdiction]) {
					continue
				}
				if !seen[id.Key()] {
					if limit := o.cfg.Seed.MaxRoots; limit > 0 && len(roots) >= limit {
						continue
					}
					seen[id.Key()] = true
					roots = append(roots, id)
				}
				// Only root hits enter the canonical set
				if _, err := r.store.Apply(rec, id.Key()); err != nil {
					r.log.Warn("apply seed record", logging.Err(err))
				}
			}
		}
	}

	r.log.Info("seeding finished", logging.Int("terms", len(terms)), logging.Int("roots", len(roots)))
	return roots, terms, base
}

func (o *Orchestrator) resolveSynonyms(ctx context.Context, r *run) (*pubchem.Synonyms, error) {
	permit, err := o.governor.Acquire(ctx, pubchem.Name)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	callCtx := ctx
	if o.cfg.Run.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.Run.CallTimeout)
		defer cancel()
	}

	r.diag.lookup(pubchem.Name)
	syn, err := o.resolver.Resolve(callCtx, r.query.PrimaryName)
	if err != nil {
		r.diag.failure(pubchem.Name, r.query.PrimaryName, err)
		return nil, err
	}
	return syn, nil
}

// rootBuffer collects the records of one root until its expansion completes
type rootBuffer struct {
	mu       sync.Mutex
	records  []model.PartialRecord
	lookups  int
	failures int
	complete bool
}

func (b *rootBuffer) Records(recs []model.PartialRecord) {
	b.mu.Lock()
	b.records = append(b.records, recs...)
	b.lookups++
	b.mu.Unlock()
}

func (b *rootBuffer) Failed(string, model.PublicationIdentifier, error) {
	b.mu.Lock()
	b.lookups++
	b.failures++
	b.mu.Unlock()
}

func (b *rootBuffer) Complete() {
	b.mu.Lock()
	b.complete = true
	b.mu.Unlock()
}

// expandJob expands one root on the pool
type expandJob struct {
	root     model.PublicationIdentifier
	expander *Expander
	run      *run
}

type expandResult struct {
	root    model.PublicationIdentifier
	outcome report.RootOutcome
	err     error
}

func (r *expandResult) GetError() error { return r.err }

func (j *expandJob) Execute(ctx context.Context) worker.Result {
	buf := &rootBuffer{}
	members := 0
	for range j.expander.Expand(ctx, j.root, buf) {
		members++
	}

	if !buf.complete {
		// Cut by the deadline: the buffered records are dropped
		return &expandResult{root: j.root, outcome: report.RootOutcome{Status: model.RootIncomplete, Members: members}, err: context.Cause(ctx)}
	}

	if _, err := j.run.store.Commit(j.root.Key(), buf.records); err != nil {
		return &expandResult{root: j.root, outcome: report.RootOutcome{Status: model.RootIncomplete}, err: err}
	}

	status := model.RootSuccess
	switch {
	case buf.lookups > 0 && buf.failures == buf.lookups:
		status = model.RootFailed
	case members == 0:
		status = model.RootNoMembers
	}
	return &expandResult{root: j.root, outcome: report.RootOutcome{Status: status, Members: members}}
}

// expand runs one expansion per root on the worker pool and commits each
// root's records when its expansion completes
func (o *Orchestrator) expand(ctx context.Context, r *run, roots []model.PublicationIdentifier) map[string]report.RootOutcome {
	expander := newExpander(o.clients, r.caller, r.visited, o.cfg.Run.MaxDepth, o.follow, r.log)

	jobs := make([]worker.Job, len(roots))
	for i, root := range roots {
		jobs[i] = &expandJob{root: root, expander: expander, run: r}
	}

	outcomes := make(map[string]report.RootOutcome, len(roots))
	pool := worker.NewPool(ctx, o.cfg.Expansion.Workers)
	for _, res := range pool.Run(jobs) {
		er := res.(*expandResult)
		outcomes[er.root.Key()] = er.outcome
	}

	for _, root := range roots {
		out, ok := outcomes[root.Key()]
		if !ok {
			out = report.RootOutcome{Status: model.RootIncomplete}
			outcomes[root.Key()] = out
		}
		if out.Status == model.RootIncomplete {
			r.diag.incompleteRoot(root)
		}
	}
	return outcomes
}

// sweepJurisdiction queries the non-search sources directly for the subset
// jurisdiction; hits are applied as they arrive
func (o *Orchestrator) sweepJurisdiction(ctx context.Context, r *run, terms []string) {
	var offices []source.Client
	for _, c := range o.clients {
		if c.Kind() != source.KindSearchEngine {
			offices = append(offices, c)
		}
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Expansion.Workers)
	for _, term := range terms {
		for _, c := range offices {
			g.Go(func() error {
				req := source.Request{Query: term, Jurisdiction: o.cfg.Subset.Jurisdiction}
				resp, err := r.caller.lookup(ctx, c, req)
				if err != nil {
					return nil
				}
				for _, rec := range resp.Records {
					if rec.Identifier.Jurisdiction == o.cfg.Subset.Jurisdiction {
						_, _ = r.store.Apply(rec)
					}
				}
				return nil
			})
		}
	}
	_ = g.Wait()
}

// enrich looks the first subset patents up on every client
func (o *Orchestrator) enrich(ctx context.Context, r *run) {
	keys := r.store.Jurisdiction(o.cfg.Subset.Jurisdiction)
	if limit := o.cfg.Enrichment.MaxDetails; limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Expansion.Workers)
	for _, key := range keys {
		p, ok := r.store.Get(key)
		if !ok {
			continue
		}
		for _, c := range o.clients {
			g.Go(func() error {
				resp, err := r.caller.lookup(ctx, c, source.IDRequest(p.Identifier))
				if err != nil {
					return nil
				}
				for _, rec := range resp.Records {
					if rec.Identifier.SameAs(p.Identifier) {
						_, _ = r.store.Apply(rec)
					}
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	r.log.Debug("enrichment finished", logging.Int("patents", len(keys)))
}

// result assembles the immutable result from the frozen store
func (o *Orchestrator) result(r *run, started time.Time, roots []model.PublicationIdentifier, outcomes map[string]report.RootOutcome, terms []string) *model.AggregationResult {
	patents := r.store.Snapshot()
	summary := report.Build(report.Input{
		Patents:      patents,
		Roots:        roots,
		Outcomes:     outcomes,
		Jurisdiction: o.cfg.Subset.Jurisdiction,
		Baseline:     o.cfg.Comparison,
	})

	return &model.AggregationResult{
		RunID:            r.id,
		Query:            r.query,
		State:            r.state,
		RootIdentifiers:  append([]model.PublicationIdentifier{}, roots...),
		AllCountries:     summary.AllCountries,
		CanonicalPatents: patents,
		Subset:           summary.Subset,
		Comparison:       summary.Comparison,
		Roots:            summary.Roots,
		Diagnostics:      r.diag.snapshot(),
		SeedTerms:        terms,
		StartedAt:        started,
		Duration:         o.now().Sub(started),
	}
}
