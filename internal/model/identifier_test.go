package model

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentifier_Variants(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		key  string
	}{
		{"wo modern", []string{"WO2019123456", "WO 2019/123456", "wo2019-123456", "WO2019123456A1", "WO 2019 123456 A1"}, "WO2019123456"},
		{"wo short year", []string{"WO 19/12345", "WO1912345", "WO2019012345A2"}, "WO2019012345"},
		{"wo legacy", []string{"WO 98/12345", "WO9812345"}, "WO1998012345"},
		{"pct application", []string{"PCT/US2019/012345", "PCT/US19/12345"}, "WO2019012345"},
		{"br modern", []string{"BR112020012345A2", "BR 11 2020 012345-6", "br112020012345"}, "BR112020012345"},
		{"br legacy", []string{"BR PI0512345-6", "BRPI0512345", "BRPI0512345A"}, "BRPI0512345"},
		{"us grant", []string{"US10,123,456 B2", "US10123456B2", "us 10123456"}, "US10123456"},
		{"us application", []string{"US2019/0123456 A1", "US20190123456A1"}, "US20190123456"},
		{"ep", []string{"EP3 123 456 A1", "EP3123456B1"}, "EP3123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, raw := range tt.raw {
				id, err := ParseIdentifier(raw)
				require.NoError(t, err, raw)
				assert.Equal(t, tt.key, id.Key(), raw)
			}
		})
	}
}

func TestParseIdentifier_KindCode(t *testing.T) {
	id, err := ParseIdentifier("WO 2019/123456 A1")
	require.NoError(t, err)
	assert.Equal(t, "WO", id.Jurisdiction)
	assert.Equal(t, "2019123456", id.Number)
	assert.Equal(t, "A1", id.Kind)
	assert.Equal(t, "WO2019123456A1", id.String())
	assert.Equal(t, KindClassApplication, id.KindClass())

	grant := MustParseIdentifier("US10123456B2")
	assert.Equal(t, KindClassGrant, grant.KindClass())
	assert.Equal(t, KindClassUnknown, MustParseIdentifier("EP3123456").KindClass())
	assert.Equal(t, KindClassUtility, MustParseIdentifier("BRMU8901234U2").KindClass())
}

func TestParseIdentifier_Invalid(t *testing.T) {
	for _, raw := range []string{"", "W", "12345678", "WO", "WOABCDEF", "US", "--//"} {
		_, err := ParseIdentifier(raw)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, raw)
	}
}

func TestPublicationIdentifier_SameAs(t *testing.T) {
	a := MustParseIdentifier("WO2019123456A1")
	b := MustParseIdentifier("WO 2019/123456")
	assert.True(t, a.SameAs(b))
	assert.NotEqual(t, a, b) // kind differs
	assert.False(t, a.SameAs(MustParseIdentifier("WO2019123457")))
}

func TestPublicationIdentifier_TextRoundTrip(t *testing.T) {
	id := MustParseIdentifier("BR112020012345A2")
	text, err := id.MarshalText()
	require.NoError(t, err)

	var back PublicationIdentifier
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
}

func identifierStrings() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("WO", "BR", "US", "EP", "JP", "CN", "wo", "br"),
		gen.NumString(),
		gen.OneConstOf("", "A1", "A2", "B1", "B2", "A", "C1"),
		gen.OneConstOf("", " ", "-", "/", " / "),
	).Map(func(v []interface{}) string {
		sep := v[3].(string)
		num := v[1].(string)
		if len(num) > 14 {
			num = num[:14]
		}
		return v[0].(string) + sep + num + sep + v[2].(string)
	})
}

func TestParseIdentifier_Idempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("normalize(normalize(x)) == normalize(x)", prop.ForAll(
		func(raw string) bool {
			first, err := ParseIdentifier(raw)
			if err != nil {
				return true
			}
			second, err := ParseIdentifier(first.String())
			return err == nil && second == first
		},
		identifierStrings(),
	))

	properties.Property("separators and case never change the key", prop.ForAll(
		func(raw string) bool {
			first, err := ParseIdentifier(raw)
			if err != nil {
				return true
			}
			spaced := strings.ToLower(first.Jurisdiction) + " " + first.Number + " " + first.Kind
			second, err := ParseIdentifier(spaced)
			return err == nil && second.Key() == first.Key()
		},
		identifierStrings(),
	))

	properties.TestingRun(t)
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "2019-03-15", NormalizeDate("20190315"))
	assert.Equal(t, "2019-03-15", NormalizeDate("2019-03-15"))
	assert.Equal(t, "2019-03-15", NormalizeDate("15/03/2019"))
	assert.Equal(t, "", NormalizeDate("  "))
	assert.Equal(t, "sometime", NormalizeDate(" sometime "))
}

func TestMoleculeQuery(t *testing.T) {
	q, err := NewMoleculeQuery("  darolutamide ", "Nubeqa")
	require.NoError(t, err)
	assert.Equal(t, "darolutamide", q.PrimaryName)
	assert.Equal(t, []string{"darolutamide", "Nubeqa"}, q.Terms())

	same, err := NewMoleculeQuery("Darolutamide", "darolutamide")
	require.NoError(t, err)
	assert.Equal(t, []string{"Darolutamide"}, same.Terms())

	_, err = NewMoleculeQuery("   ", "Nubeqa")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Run.CallTimeout = cfg.Run.Deadline
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Expansion.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Run.MaxDepth = -1
	assert.Error(t, cfg.Validate())
}
