package merge

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/patfam/internal/model"
)

var root = model.MustParseIdentifier("WO2011051540")

func rec(source string, kind model.SourceKind, f model.Fields) model.PartialRecord {
	return model.PartialRecord{Identifier: root, Source: source, SourceKind: kind, Fields: f}
}

func mergeAll(recs []model.PartialRecord) *Canonical {
	var c *Canonical
	for _, r := range recs {
		c = Merge(c, r, DefaultPrecedence())
	}
	return c
}

func TestMerge_NewPatent(t *testing.T) {
	c := Merge(nil, rec("serpapi", model.SourceSearchEngine, model.Fields{
		Title:     " Androgen receptor modulators ",
		Inventors: []string{"Karjalainen", "Jokela", "Jokela"},
	}), DefaultPrecedence())

	require.NotNil(t, c)
	assert.Equal(t, "Androgen receptor modulators", c.Patent.Title)
	assert.Equal(t, []string{"Jokela", "Karjalainen"}, c.Patent.Inventors)
	assert.Equal(t, []string{"serpapi"}, c.Patent.SourcesContributed)
	assert.Equal(t, Origin{Source: "serpapi", Rank: 1}, c.Provenance[FieldTitle])
}

func TestMerge_DoesNotModifyExisting(t *testing.T) {
	first := Merge(nil, rec("serpapi", model.SourceSearchEngine, model.Fields{Title: "a"}), DefaultPrecedence())
	second := Merge(first, rec("epo", model.SourcePatentData, model.Fields{Title: "b"}), DefaultPrecedence())

	assert.Equal(t, "a", first.Patent.Title)
	assert.Equal(t, "b", second.Patent.Title)
}

func TestMerge_Precedence(t *testing.T) {
	high := rec("epo", model.SourcePatentData, model.Fields{Title: "From EPO", Assignee: "ORION CORPORATION"})
	mid := rec("inpi", model.SourcePatentOffice, model.Fields{Title: "Do INPI", Status: "Pedido deferido"})
	low := rec("serpapi", model.SourceSearchEngine, model.Fields{Title: "From search, much longer title", Assignee: "Orion Corp"})

	for _, order := range [][]model.PartialRecord{{high, mid, low}, {low, mid, high}, {mid, low, high}} {
		c := mergeAll(order)
		assert.Equal(t, "From EPO", c.Patent.Title)
		assert.Equal(t, "ORION CORPORATION", c.Patent.Assignee)
		assert.Equal(t, "Pedido deferido", c.Patent.Status, "lower sources fill empty fields")
		assert.Equal(t, []string{"epo", "inpi", "serpapi"}, c.Patent.SourcesContributed)
		assert.Equal(t, "epo", c.Provenance[FieldTitle].Source)
	}
}

func TestMerge_CustomPrecedence(t *testing.T) {
	p := NewPrecedence([]model.SourceKind{model.SourceSearchEngine, model.SourcePatentData})
	c := Merge(nil, rec("epo", model.SourcePatentData, model.Fields{Title: "epo"}), p)
	c = Merge(c, rec("serpapi", model.SourceSearchEngine, model.Fields{Title: "serp"}), p)
	c = Merge(c, rec("inpi", model.SourcePatentOffice, model.Fields{Title: "inpi"}), p)
	assert.Equal(t, "serp", c.Patent.Title)
	assert.Equal(t, 0, p.Rank(model.SourcePatentOffice))
}

func TestMerge_EqualPrecedenceTieBreak(t *testing.T) {
	a := rec("google", model.SourceSearchEngine, model.Fields{Title: "short"})
	b := rec("serpapi", model.SourceSearchEngine, model.Fields{Title: "a much longer title"})
	assert.Equal(t, "short", mergeAll([]model.PartialRecord{a, b}).Patent.Title)
	assert.Equal(t, "short", mergeAll([]model.PartialRecord{b, a}).Patent.Title)

	// Same source: longer value, then lexical order
	c := rec("serpapi", model.SourceSearchEngine, model.Fields{Title: "bbb"})
	d := rec("serpapi", model.SourceSearchEngine, model.Fields{Title: "aaa"})
	e := rec("serpapi", model.SourceSearchEngine, model.Fields{Title: "aa"})
	assert.Equal(t, "aaa", mergeAll([]model.PartialRecord{c, d, e}).Patent.Title)
	assert.Equal(t, "aaa", mergeAll([]model.PartialRecord{e, d, c}).Patent.Title)
}

func TestMerge_Claims(t *testing.T) {
	short := rec("serpapi", model.SourceSearchEngine, model.Fields{Claims: []string{"1. A compound."}})
	long := rec("epo", model.SourcePatentData, model.Fields{Claims: []string{"1. A compound.", "2. A salt."}})
	other := rec("inpi", model.SourcePatentOffice, model.Fields{Claims: []string{"1. A method.", "2. Use."}})

	assert.Equal(t, long.Fields.Claims, mergeAll([]model.PartialRecord{short, long}).Patent.Claims)
	assert.Equal(t, long.Fields.Claims, mergeAll([]model.PartialRecord{long, short}).Patent.Claims)
	// Equal length: lexically smaller sequence, never interleaved
	assert.Equal(t, long.Fields.Claims, mergeAll([]model.PartialRecord{other, long}).Patent.Claims)
	assert.Equal(t, long.Fields.Claims, mergeAll([]model.PartialRecord{long, other}).Patent.Claims)
}

func TestMerge_FamilyMembers(t *testing.T) {
	c := mergeAll([]model.PartialRecord{
		rec("serpapi", model.SourceSearchEngine, model.Fields{FamilyMembers: []model.PublicationIdentifier{
			model.MustParseIdentifier("EP2493858"),
			model.MustParseIdentifier("WO2011051540A1"), // self
		}}),
		rec("epo", model.SourcePatentData, model.Fields{FamilyMembers: []model.PublicationIdentifier{
			model.MustParseIdentifier("EP2493858A1"),
			model.MustParseIdentifier("BR112012008823"),
		}}),
	})

	require.Len(t, c.Patent.FamilyMembers, 2)
	assert.Equal(t, "BR112012008823", c.Patent.FamilyMembers[0].String())
	assert.Equal(t, "EP2493858A1", c.Patent.FamilyMembers[1].String())
}

func TestMerge_IdentifierKind(t *testing.T) {
	withKind := model.PartialRecord{Identifier: model.MustParseIdentifier("WO2011051540A1"), Source: "epo", SourceKind: model.SourcePatentData}
	c := mergeAll([]model.PartialRecord{rec("serpapi", model.SourceSearchEngine, model.Fields{}), withKind})
	assert.Equal(t, "WO2011051540A1", c.Patent.Identifier.String())
}

func TestMerge_IgnoresOtherKeys(t *testing.T) {
	c := Merge(nil, rec("serpapi", model.SourceSearchEngine, model.Fields{Title: "a"}), DefaultPrecedence())
	other := model.PartialRecord{Identifier: model.MustParseIdentifier("EP2493858"), Source: "epo", SourceKind: model.SourcePatentData, Fields: model.Fields{Title: "b"}}
	assert.Equal(t, "a", Merge(c, other, DefaultPrecedence()).Patent.Title)
}

func TestParseSourceKind(t *testing.T) {
	k, err := ParseSourceKind("Patent_Office")
	require.NoError(t, err)
	assert.Equal(t, model.SourcePatentOffice, k)

	_, err = ParseSourceKind("blog")
	assert.Error(t, err)
}

// Property tests

var sources = []struct {
	name string
	kind model.SourceKind
}{
	{"epo", model.SourcePatentData},
	{"inpi", model.SourcePatentOffice},
	{"serpapi", model.SourceSearchEngine},
	{"google", model.SourceSearchEngine},
}

var (
	titles    = []string{"", "Title A", "Title BB", "title a"}
	assignees = []string{"", "Orion", "ORION CORP"}
	dates     = []string{"", "2010-10-27", "2010-10-28"}
	inventors = [][]string{nil, {"Jokela"}, {"Karjalainen", "Jokela"}, {"Törmäkangas"}}
	claims    = [][]string{nil, {"1. A compound."}, {"1. A compound.", "2. A salt."}, {"1. B compound."}}
	families  = [][]string{nil, {"BR112012008823"}, {"EP2493858A1", "WO2011051540"}, {"EP2493858"}}
)

func recordGen() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, len(sources)-1),
		gen.IntRange(0, len(titles)-1),
		gen.IntRange(0, len(assignees)-1),
		gen.IntRange(0, len(dates)-1),
		gen.IntRange(0, len(inventors)-1),
		gen.IntRange(0, len(claims)-1),
		gen.IntRange(0, len(families)-1),
	).Map(func(v []interface{}) model.PartialRecord {
		src := sources[v[0].(int)]
		var family []model.PublicationIdentifier
		for _, raw := range families[v[6].(int)] {
			family = append(family, model.MustParseIdentifier(raw))
		}
		return rec(src.name, src.kind, model.Fields{
			Title:         titles[v[1].(int)],
			Assignee:      assignees[v[2].(int)],
			FilingDate:    dates[v[3].(int)],
			Inventors:     inventors[v[4].(int)],
			Claims:        claims[v[5].(int)],
			FamilyMembers: family,
		})
	})
}

func equalCanonical(a, b *Canonical) bool {
	return reflect.DeepEqual(a.Patent, b.Patent) && reflect.DeepEqual(a.Provenance, b.Provenance)
}

func TestMergeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("arrival order does not matter", prop.ForAll(
		func(recs []model.PartialRecord, seed int64) bool {
			if len(recs) == 0 {
				return true
			}
			shuffled := make([]model.PartialRecord, len(recs))
			for i, j := range rand.New(rand.NewSource(seed)).Perm(len(recs)) {
				shuffled[i] = recs[j]
			}
			return equalCanonical(mergeAll(recs), mergeAll(shuffled))
		},
		gen.SliceOfN(6, recordGen()),
		gen.Int64(),
	))

	properties.Property("re-merging a record is a no-op", prop.ForAll(
		func(recs []model.PartialRecord, pick int) bool {
			if len(recs) == 0 {
				return true
			}
			c := mergeAll(recs)
			again := Merge(c, recs[pick%len(recs)], DefaultPrecedence())
			return equalCanonical(c, again)
		},
		gen.SliceOfN(5, recordGen()),
		gen.IntRange(0, 100),
	))

	properties.Property("sources never disappear", prop.ForAll(
		func(recs []model.PartialRecord) bool {
			var c *Canonical
			seen := map[string]bool{}
			for _, r := range recs {
				c = Merge(c, r, DefaultPrecedence())
				seen[r.Source] = true
				if len(c.Patent.SourcesContributed) != len(seen) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, recordGen()),
	))

	properties.TestingRun(t)
}
