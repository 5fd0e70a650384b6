package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/patfam/internal/logging"
	"github.com/ppiankov/patfam/internal/merge"
	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/pubchem"
	"github.com/ppiankov/patfam/internal/source"
	"github.com/ppiankov/patfam/internal/worker"
)

// darolutamideSources builds a small three-source world for darolutamide
func darolutamideSources() (serp, inpi, epo *fakeClient) {
	serp = newFake("serpapi", source.KindSearchEngine, true)
	serp.queries["darolutamide"] = []model.PartialRecord{
		serp.record("WO2011051540A1", model.Fields{Title: "Androgen receptor modulating compounds"}),
		serp.record("US10010530B2", model.Fields{}),
		serp.record("WO2012143599A1", model.Fields{}),
	}
	serp.queries["Nubeqa"] = []model.PartialRecord{
		serp.record("WO2012143599A1", model.Fields{}),
	}
	serp.addFamily("WO2011051540", model.Fields{Abstract: "Compounds."}, "BR112012008823", "EP2493858")
	serp.addFamily("WO2012143599", model.Fields{}, "BR112013026912")

	epo = newFake("epo", source.KindPatentData, true)
	epo.addFamily("WO2011051540", model.Fields{Title: "ANDROGEN RECEPTOR MODULATING COMPOUNDS"}, "BR112012008823")

	inpi = newFake("inpi", source.KindPatentOffice, false)
	inpi.queries["darolutamide"] = []model.PartialRecord{
		inpi.record("BR112012008823", model.Fields{}),
		inpi.record("BR102019000001", model.Fields{}),
	}
	inpi.lookups["BR112012008823"] = &source.Response{Records: []model.PartialRecord{
		inpi.record("BR112012008823", model.Fields{Title: "COMPOSTOS MODULADORES", Status: "Pedido deferido"}),
	}}
	return serp, inpi, epo
}

func TestRun_Darolutamide(t *testing.T) {
	serp, inpi, epo := darolutamideSources()
	o, err := New(testConfig(), []source.Client{serp, inpi, epo}, WithSleep(noSleep))
	require.NoError(t, err)

	res, err := o.Run(context.Background(), model.MoleculeQuery{PrimaryName: "darolutamide", BrandName: "Nubeqa"})
	require.NoError(t, err)

	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err)
	assert.Equal(t, model.StateDone, res.State)
	assert.False(t, res.Partial)
	assert.Equal(t, []string{"WO2011051540", "WO2012143599"}, keysOf(res.RootIdentifiers))
	assert.Equal(t, "WO2011051540A1", res.RootIdentifiers[0].String())

	assert.Len(t, res.CanonicalPatents, 6)
	assert.Equal(t, map[string]int{"WO": 2, "BR": 3, "EP": 1}, res.AllCountries)
	assert.NotContains(t, res.CanonicalPatents, "US10010530", "non-root seed hits stay out")

	total := 0
	for _, n := range res.AllCountries {
		total += n
	}
	assert.Equal(t, len(res.CanonicalPatents), total)

	wo := res.CanonicalPatents["WO2011051540"]
	assert.Equal(t, "ANDROGEN RECEPTOR MODULATING COMPOUNDS", wo.Title, "patent data wins over search engine")
	assert.Equal(t, "Compounds.", wo.Abstract)
	assert.Equal(t, []string{"epo", "serpapi"}, wo.SourcesContributed)

	br := res.CanonicalPatents["BR112012008823"]
	assert.Equal(t, []string{"epo", "inpi", "serpapi"}, br.SourcesContributed)
	assert.Equal(t, "Pedido deferido", br.Status, "enriched from the office")
	assert.Equal(t, []string{"WO2011051540"}, br.Roots)

	assert.Equal(t, "BR", res.Subset.Jurisdiction)
	assert.Len(t, res.Subset.Patents, 3)
	require.Len(t, res.Roots, 2)
	assert.Equal(t, model.RootSuccess, res.Roots[0].Status)
	assert.Equal(t, 2, res.Roots[0].Members)
	assert.Equal(t, 1, res.Roots[0].SubsetCount)

	assert.Equal(t, 2, res.Comparison.FoundRoots)
	assert.Equal(t, 3, res.Comparison.FoundSubset)
	assert.Equal(t, []string{"darolutamide", "Nubeqa"}, res.SeedTerms)

	for key, p := range res.CanonicalPatents {
		assert.NotEmpty(t, p.SourcesContributed, key)
	}
	// Each root is expanded once per family source
	assert.Equal(t, 1, epo.callsFor("WO2011051540"))
	assert.Equal(t, 1, inpi.callsFor("BR112012008823"))
}

func TestRun_SharedFamilyAcrossRoots(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	serp.queries["darolutamide"] = []model.PartialRecord{
		serp.record("WO2011051540A1", model.Fields{}),
		serp.record("WO2012143599A1", model.Fields{}),
		serp.record("WO2013000001A1", model.Fields{}),
	}
	serp.addFamily("WO2011051540", model.Fields{}, "BR112012008823", "EP2493858")
	serp.addFamily("WO2012143599", model.Fields{}, "BR112012008823", "US10010530")
	serp.addFamily("WO2013000001", model.Fields{}, "EP2493858")

	epo := newFake("epo", source.KindPatentData, true)
	epo.addFamily("WO2011051540", model.Fields{}, "BR112012008823")
	epo.addFamily("WO2012143599", model.Fields{}, "BR112012008823")

	cfg := testConfig()
	cfg.Subset.Sweep = false
	cfg.Enrichment.Enabled = false
	o, err := New(cfg, []source.Client{serp, epo}, WithSleep(noSleep))
	require.NoError(t, err)

	res, err := o.Run(context.Background(), model.MoleculeQuery{PrimaryName: "darolutamide"})
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Equal(t, []string{"WO2011051540", "WO2012143599", "WO2013000001"}, keysOf(res.RootIdentifiers))

	assert.Len(t, res.CanonicalPatents, 6)
	assert.Equal(t, map[string]int{"WO": 3, "BR": 1, "EP": 1, "US": 1}, res.AllCountries)

	br := res.CanonicalPatents["BR112012008823"]
	assert.Equal(t, []string{"epo", "serpapi"}, br.SourcesContributed)
	assert.Equal(t, []string{"WO2011051540", "WO2012143599"}, br.Roots)
	ep := res.CanonicalPatents["EP2493858"]
	assert.Equal(t, []string{"serpapi"}, ep.SourcesContributed)
	assert.Equal(t, []string{"WO2011051540", "WO2013000001"}, ep.Roots)

	require.Len(t, res.Roots, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{res.Roots[0].Members, res.Roots[1].Members, res.Roots[2].Members})
	assert.Equal(t, []int{1, 1, 0}, []int{res.Roots[0].SubsetCount, res.Roots[1].SubsetCount, res.Roots[2].SubsetCount})
	for _, root := range []string{"WO2011051540", "WO2012143599", "WO2013000001"} {
		assert.Equal(t, 1, serp.callsFor(root), root)
		assert.Equal(t, 1, epo.callsFor(root), root)
	}
}

func TestRun_ZeroRootsFails(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	serp.queries["unknownium"] = []model.PartialRecord{serp.record("US10010530", model.Fields{})}

	o, err := New(testConfig(), []source.Client{serp}, WithSleep(noSleep))
	require.NoError(t, err)

	res, err := o.Run(context.Background(), model.MoleculeQuery{PrimaryName: "unknownium"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunFailure))
	require.NotNil(t, res)
	assert.Equal(t, model.StateFailed, res.State)
	assert.Empty(t, res.RootIdentifiers)
	assert.NotNil(t, res.CanonicalPatents)
	assert.Empty(t, res.CanonicalPatents)
	assert.NotEmpty(t, res.Diagnostics.RunFailure)
}

func TestRun_InvalidQuery(t *testing.T) {
	o, err := New(testConfig(), []source.Client{newFake("serpapi", source.KindSearchEngine, true)})
	require.NoError(t, err)

	_, err = o.Run(context.Background(), model.MoleculeQuery{PrimaryName: "  "})
	assert.ErrorIs(t, err, model.ErrInvalidQuery)
}

func TestRun_DeadlineKeepsCommittedRoots(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	for i := 0; i < 10; i++ {
		root := fmt.Sprintf("WO2011%06d", i)
		member := fmt.Sprintf("EP%07d", i)
		serp.queries["slowamide"] = append(serp.queries["slowamide"], serp.record(root, model.Fields{}))
		serp.addFamily(root, model.Fields{}, member)
	}

	slow := &delayedLookups{fakeClient: serp, delay: 100 * time.Millisecond}

	cfg := testConfig()
	cfg.Run.Deadline = 550 * time.Millisecond
	cfg.Run.CallTimeout = 400 * time.Millisecond
	cfg.Expansion.Workers = 1
	cfg.Subset.Sweep = false
	cfg.Enrichment.Enabled = false

	o, err := New(cfg, []source.Client{slow}, WithSleep(noSleep))
	require.NoError(t, err)

	res, err := o.Run(context.Background(), model.MoleculeQuery{PrimaryName: "slowamide"})
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, res.State)
	assert.True(t, res.Partial)
	require.Len(t, res.Roots, 10)

	done := 0
	for i, rs := range res.Roots {
		member := fmt.Sprintf("EP%07d", i)
		switch rs.Status {
		case model.RootSuccess:
			done++
			assert.Contains(t, res.CanonicalPatents, member)
		case model.RootIncomplete:
			assert.NotContains(t, res.CanonicalPatents, member, "buffered records of cut roots are dropped")
			assert.Contains(t, res.CanonicalPatents, rs.Root.Key(), "seed records stay")
		default:
			t.Fatalf("unexpected status %s for %s", rs.Status, rs.Root)
		}
	}
	assert.Greater(t, done, 0)
	assert.Less(t, done, 10)
	assert.Len(t, res.Diagnostics.IncompleteRoots, 10-done)
}

// delayedLookups slows identifier lookups only, so seeding stays fast
type delayedLookups struct {
	*fakeClient
	delay time.Duration
}

func (d *delayedLookups) Lookup(ctx context.Context, req source.Request) (*source.Response, error) {
	if !req.IsQuery() {
		select {
		case <-ctx.Done():
			return nil, source.TransportError(d.name, req.Op(), ctx.Err())
		case <-time.After(d.delay):
		}
	}
	return d.fakeClient.Lookup(ctx, req)
}

func TestRun_AlwaysFailingSource(t *testing.T) {
	serp, inpi, epo := darolutamideSources()
	epo.err = source.StatusError("epo", "lookup", 503)

	var mu sync.Mutex
	var delays []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	cfg := testConfig()
	cfg.Enrichment.Enabled = false
	cfg.Subset.Sweep = false
	o, err := New(cfg, []source.Client{serp, inpi, epo}, WithSleep(sleep))
	require.NoError(t, err)

	res, err := o.Run(context.Background(), model.MoleculeQuery{PrimaryName: "darolutamide"})
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, res.State)

	// Two roots, three attempts each
	assert.Equal(t, 2, res.Diagnostics.Failures["epo"][model.FailureTransient])
	assert.Equal(t, 6, res.Diagnostics.Lookups["epo"])
	assert.Len(t, res.Diagnostics.Gaps, 2)
	assert.ElementsMatch(t, []time.Duration{1 * time.Millisecond, 2 * time.Millisecond, 1 * time.Millisecond, 2 * time.Millisecond}, delays)

	// The other sources still deliver
	assert.Contains(t, res.CanonicalPatents, "BR112012008823")
	assert.Equal(t, "Androgen receptor modulating compounds", res.CanonicalPatents["WO2011051540"].Title)
	for _, rs := range res.Roots {
		assert.Equal(t, model.RootSuccess, rs.Status)
	}
}

func TestRun_EverySourceFailingMarksRootFailed(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	serp.queries["darolutamide"] = []model.PartialRecord{serp.record("WO2011051540", model.Fields{})}
	failing := &failingLookups{fakeClient: serp}

	cfg := testConfig()
	cfg.Enrichment.Enabled = false
	o, err := New(cfg, []source.Client{failing}, WithSleep(noSleep))
	require.NoError(t, err)

	res, err := o.Run(context.Background(), model.MoleculeQuery{PrimaryName: "darolutamide"})
	require.NoError(t, err)
	require.Len(t, res.Roots, 1)
	assert.Equal(t, model.RootFailed, res.Roots[0].Status)
	assert.Equal(t, 1, res.Diagnostics.Failures["serpapi"][model.FailurePermanent])
}

type failingLookups struct{ *fakeClient }

// cancelAfterLookup ends the run context right after answering
type cancelAfterLookup struct {
	*fakeClient
	cancel context.CancelFunc
}

func (c *cancelAfterLookup) Lookup(ctx context.Context, req source.Request) (*source.Response, error) {
	resp, err := c.fakeClient.Lookup(ctx, req)
	c.cancel()
	return resp, err
}

func TestExpandJob_CompletedExpansionCommitsAfterDeadline(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	serp.addFamily("WO2011051540", model.Fields{}, "BR112012008823")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &cancelAfterLookup{fakeClient: serp, cancel: cancel}

	r := &run{store: merge.NewStore(merge.DefaultPrecedence()), visited: newVisitedSet()}
	job := &expandJob{
		root:     model.MustParseIdentifier("WO2011051540"),
		expander: newExpander([]source.Client{client}, testCaller(), r.visited, 1, nil, logging.NewNopLogger()),
		run:      r,
	}

	res := job.Execute(ctx).(*expandResult)
	require.Error(t, ctx.Err())
	assert.Equal(t, model.RootSuccess, res.outcome.Status)
	assert.NoError(t, res.GetError())
	p, ok := r.store.Get("BR112012008823")
	require.True(t, ok)
	assert.Equal(t, []string{"WO2011051540"}, p.Roots)
}

func (f *failingLookups) Lookup(ctx context.Context, req source.Request) (*source.Response, error) {
	if req.IsQuery() {
		return f.fakeClient.Lookup(ctx, req)
	}
	return nil, source.StatusError(f.name, req.Op(), 404)
}

func TestRun_MaxRootsAndRootJurisdictions(t *testing.T) {
	serp, inpi, epo := darolutamideSources()
	cfg := testConfig()
	cfg.Seed.MaxRoots = 1
	o, err := New(cfg, []source.Client{serp, inpi, epo}, WithSleep(noSleep))
	require.NoError(t, err)

	res, err := o.Run(context.Background(), model.MoleculeQuery{PrimaryName: "darolutamide"})
	require.NoError(t, err)
	assert.Equal(t, []string{"WO2011051540"}, keysOf(res.RootIdentifiers))
	assert.NotContains(t, res.CanonicalPatents, "WO2012143599")

	cfg = testConfig()
	cfg.Seed.RootJurisdictions = []string{"US"}
	o, err = New(cfg, []source.Client{serp, inpi, epo}, WithSleep(noSleep))
	require.NoError(t, err)
	res, err = o.Run(context.Background(), model.MoleculeQuery{PrimaryName: "darolutamide"})
	require.NoError(t, err)
	assert.Equal(t, []string{"US10010530"}, keysOf(res.RootIdentifiers))
}

type stubResolver struct{ syn *pubchem.Synonyms }

func (s stubResolver) Resolve(context.Context, string) (*pubchem.Synonyms, error) { return s.syn, nil }

func TestRun_SynonymSeeding(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	serp.queries["ODM-201"] = []model.PartialRecord{serp.record("WO2011051540", model.Fields{})}

	cfg := testConfig()
	cfg.Seed.UseSynonyms = true
	o, err := New(cfg, []source.Client{serp},
		WithSleep(noSleep),
		WithResolver(stubResolver{syn: &pubchem.Synonyms{DevCodes: []string{"ODM-201"}, CAS: "1297538-32-9"}}),
		WithGovernor(worker.NewGovernor(map[string]worker.Budget{"pubchem": {MaxConcurrent: 1}})),
	)
	require.NoError(t, err)

	res, err := o.Run(context.Background(), model.MoleculeQuery{PrimaryName: "darolutamide"})
	require.NoError(t, err)
	assert.Equal(t, []string{"darolutamide", "ODM-201", "ODM201", "1297538-32-9"}, res.SeedTerms)
	assert.Equal(t, []string{"WO2011051540"}, keysOf(res.RootIdentifiers))
	assert.Equal(t, 1, res.Diagnostics.Lookups["pubchem"])
}

func TestNew_Validation(t *testing.T) {
	_, err := New(testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Run.CallTimeout = cfg.Run.Deadline
	_, err = New(cfg, []source.Client{newFake("serpapi", source.KindSearchEngine, true)})
	assert.Error(t, err)
}

func TestOrchestratorAsBatchRunner(t *testing.T) {
	serp, inpi, epo := darolutamideSources()
	o, err := New(testConfig(), []source.Client{serp, inpi, epo}, WithSleep(noSleep))
	require.NoError(t, err)

	results := worker.NewBatchProcessor(o, 2).ProcessQueries(context.Background(), []model.MoleculeQuery{
		{PrimaryName: "darolutamide"},
		{PrimaryName: "unknownium"},
	})
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Error)
	assert.Equal(t, model.StateDone, results[0].Result.State)
	assert.ErrorIs(t, results[1].Error, ErrRunFailure)
	assert.Equal(t, model.StateFailed, results[1].Result.State)
}
