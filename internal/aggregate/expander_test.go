package aggregate

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ppiankov/patfam/internal/logging"
	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/source"
	"github.com/ppiankov/patfam/internal/worker"
)

type sinkCounter struct {
	rootBuffer
}

func testCaller() *caller {
	return &caller{
		governor: worker.Unlimited(),
		retry:    model.RetryConfig{MaxAttempts: 1},
		sleep:    noSleep,
		diag:     newRecorder(),
		log:      logging.NewNopLogger(),
	}
}

func keysOf(ids []model.PublicationIdentifier) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Key()
	}
	return out
}

func TestExpand_DirectFamily(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	serp.addFamily("WO2011051540", model.Fields{Title: "root"}, "BR112012008823", "EP2493858")
	epo := newFake("epo", source.KindPatentData, true)
	epo.addFamily("WO2011051540", model.Fields{}, "EP2493858", "JP2013509388")
	inpi := newFake("inpi", source.KindPatentOffice, false)

	e := newExpander([]source.Client{serp, epo, inpi}, testCaller(), newVisitedSet(), 1, nil, logging.NewNopLogger())
	sink := &sinkCounter{}
	got := slices.Collect(e.Expand(context.Background(), model.MustParseIdentifier("WO2011051540"), sink))

	assert.Equal(t, []string{"BR112012008823", "EP2493858", "JP2013509388"}, keysOf(got))
	assert.Len(t, sink.records, 6)
	assert.Equal(t, 0, inpi.callCount(), "office sources are not used for expansion")
	// Depth 1 looks up the root only
	assert.Equal(t, 1, serp.callCount())
}

func TestExpand_CyclesTerminate(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	serp.addFamily("WO2011051540", model.Fields{}, "EP2493858")
	serp.addFamily("EP2493858", model.Fields{}, "WO2011051540", "US10010530")
	serp.addFamily("US10010530", model.Fields{}, "EP2493858", "WO2011051540")

	e := newExpander([]source.Client{serp}, testCaller(), newVisitedSet(), 5, nil, logging.NewNopLogger())
	got := slices.Collect(e.Expand(context.Background(), model.MustParseIdentifier("WO2011051540"), &sinkCounter{}))

	assert.Equal(t, []string{"EP2493858", "US10010530"}, keysOf(got))
	for _, key := range []string{"WO2011051540", "EP2493858", "US10010530"} {
		assert.Equal(t, 1, serp.callsFor(key), key)
	}
}

func TestExpand_RunWideVisitedSet(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	serp.addFamily("WO2011051540", model.Fields{}, "EP2493858")
	serp.addFamily("WO2012143599", model.Fields{}, "EP2493858")
	serp.addFamily("EP2493858", model.Fields{}, "BR112012008823")

	visited := newVisitedSet()
	e := newExpander([]source.Client{serp}, testCaller(), visited, 2, nil, logging.NewNopLogger())

	first := slices.Collect(e.Expand(context.Background(), model.MustParseIdentifier("WO2011051540"), &sinkCounter{}))
	second := slices.Collect(e.Expand(context.Background(), model.MustParseIdentifier("WO2012143599"), &sinkCounter{}))

	assert.Equal(t, []string{"EP2493858", "BR112012008823"}, keysOf(first))
	assert.Equal(t, []string{"EP2493858"}, keysOf(second), "claimed identifiers are not expanded again")
	assert.Equal(t, 1, serp.callsFor("EP2493858"))
}

func TestExpand_FollowRelations(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	root := model.MustParseIdentifier("WO2011051540")
	serp.lookups[root.Key()] = &source.Response{Related: []source.Relation{
		{From: root, To: model.MustParseIdentifier("EP2493858"), Type: source.RelationFamilyMember},
		{From: root, To: model.MustParseIdentifier("US7000000"), Type: source.RelationCitation},
		{From: root, To: model.MustParseIdentifier("US8000000"), Type: source.RelationSimilar},
	}}

	def := newExpander([]source.Client{serp}, testCaller(), newVisitedSet(), 1, nil, logging.NewNopLogger())
	assert.Equal(t, []string{"EP2493858", "US7000000"}, keysOf(slices.Collect(def.Expand(context.Background(), root, &sinkCounter{}))))

	all := newExpander([]source.Client{serp}, testCaller(), newVisitedSet(), 1,
		[]source.RelationType{source.RelationFamilyMember, source.RelationCitation, source.RelationSimilar}, logging.NewNopLogger())
	assert.Equal(t, []string{"EP2493858", "US7000000", "US8000000"}, keysOf(slices.Collect(all.Expand(context.Background(), root, &sinkCounter{}))))
}

func TestExpand_CitationsAreYieldedNotExpanded(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	root := model.MustParseIdentifier("WO2011051540")
	cited := model.MustParseIdentifier("BR112013026912")
	serp.lookups[root.Key()] = &source.Response{Related: []source.Relation{
		{From: root, To: cited, Type: source.RelationCitation},
	}}
	serp.addFamily("BR112013026912", model.Fields{}, "EP2699999")

	e := newExpander([]source.Client{serp}, testCaller(), newVisitedSet(), 3, nil, logging.NewNopLogger())
	sink := &sinkCounter{}
	got := slices.Collect(e.Expand(context.Background(), root, sink))

	assert.Equal(t, []string{"BR112013026912"}, keysOf(got))
	assert.Equal(t, 0, serp.callsFor("BR112013026912"))
	assert.True(t, sink.complete)
}

func TestExpand_CutShortIsNotComplete(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	serp.addFamily("WO2011051540", model.Fields{}, "EP2493858")
	serp.addFamily("EP2493858", model.Fields{}, "JP2013509388")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newExpander([]source.Client{serp}, testCaller(), newVisitedSet(), 2, nil, logging.NewNopLogger())
	sink := &sinkCounter{}
	for range e.Expand(ctx, model.MustParseIdentifier("WO2011051540"), sink) {
		cancel()
	}

	assert.False(t, sink.complete)
	assert.Equal(t, 0, serp.callsFor("EP2493858"))
}

func TestExpand_LazyStop(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	serp.addFamily("WO2011051540", model.Fields{}, "EP2493858", "US10010530")
	serp.addFamily("EP2493858", model.Fields{}, "JP2013509388")

	e := newExpander([]source.Client{serp}, testCaller(), newVisitedSet(), 2, nil, logging.NewNopLogger())
	for id := range e.Expand(context.Background(), model.MustParseIdentifier("WO2011051540"), &sinkCounter{}) {
		assert.Equal(t, "EP2493858", id.Key())
		break
	}
	assert.Equal(t, 0, serp.callsFor("EP2493858"))
}

func TestExpand_FailuresReachSink(t *testing.T) {
	serp := newFake("serpapi", source.KindSearchEngine, true)
	serp.err = source.NewError(source.Permanent, "serpapi", "lookup", assert.AnError)

	c := testCaller()
	e := newExpander([]source.Client{serp}, c, newVisitedSet(), 1, nil, logging.NewNopLogger())
	sink := &sinkCounter{}
	got := slices.Collect(e.Expand(context.Background(), model.MustParseIdentifier("WO2011051540"), sink))

	assert.Empty(t, got)
	assert.Equal(t, 1, sink.failures)
	assert.Equal(t, 1, c.diag.snapshot().Failures["serpapi"][model.FailurePermanent])
}
