package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBlend(t *testing.T) {
	out, err := Blend(
		map[string]float64{"ai": 80, "med": 20},
		map[string]float64{"ai": 40, "med": 60},
		0.5,
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ai": 60, "med": 40}, out)

	out, err = Blend(map[string]float64{"ai": 50}, map[string]float64{"space": 100}, 0.25)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ai": 37.5, "space": 25}, out)
}

func TestBlendRejectsInvalidWeight(t *testing.T) {
	for _, w := range []float64{-0.1, 1.01, math.NaN(), math.Inf(1)} {
		_, err := Blend(nil, nil, w)
		assert.ErrorIs(t, err, ErrInvalidConfig, "weight %v", w)
	}
}

func scoreMap() *rapid.Generator[map[string]float64] {
	return rapid.MapOf(
		rapid.SampledFrom([]string{"ai", "quantum", "space", "bio", "none"}),
		rapid.Float64Range(0, 100),
	)
}

func TestBlendIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ml := scoreMap().Draw(t, "ml")
		rules := scoreMap().Draw(t, "rules")

		pureML, err := Blend(ml, rules, 0)
		if err != nil {
			t.Fatal(err)
		}
		pureRules, err := Blend(ml, rules, 1)
		if err != nil {
			t.Fatal(err)
		}

		for id, v := range pureML {
			if v != ml[id] {
				t.Fatalf("weight 0: %s = %v, want %v", id, v, ml[id])
			}
		}
		for id, v := range ml {
			if pureML[id] != v {
				t.Fatalf("weight 0 dropped %s", id)
			}
		}
		for id, v := range pureRules {
			if v != rules[id] {
				t.Fatalf("weight 1: %s = %v, want %v", id, v, rules[id])
			}
		}
	})
}

func TestBlenderModes(t *testing.T) {
	ml := map[string]float64{"ai": 80}
	rules := map[string]float64{"ai": 20, "space": 40}

	tests := []struct {
		name     string
		mode     ScoringMode
		weight   float64
		expected map[string]float64
	}{
		{name: "ml passes through", mode: ModeML, weight: 0.9, expected: ml},
		{name: "rules passes through", mode: ModeRules, expected: rules},
		{name: "hybrid blends", mode: ModeHybrid, weight: 0.5, expected: map[string]float64{"ai": 50, "space": 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBlender(tt.mode, tt.weight)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, b.Mode())

			out, err := b.Combine(ml, rules)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}

	_, err := NewBlender(ModeHybrid, 2)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewBlender(ScoringMode(42), 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseScoringMode(t *testing.T) {
	for in, want := range map[string]ScoringMode{"ml": ModeML, " Rules ": ModeRules, "HYBRID": ModeHybrid} {
		got, err := ParseScoringMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseScoringMode("ensemble")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	text, err := ModeHybrid.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "hybrid", string(text))
}
