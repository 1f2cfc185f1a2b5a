package analysis

import (
	"fmt"
	"math"
)

// Blend combines normalized ML and rule scores: ml*(1-weight) + rules*weight.
// A category missing from one side counts as zero there.
func Blend(ml, rules map[string]float64, weight float64) (map[string]float64, error) {
	if math.IsNaN(weight) || weight < 0 || weight > 1 {
		return nil, fmt.Errorf("%w: blend weight must be in [0,1], got %v", ErrInvalidConfig, weight)
	}
	out := make(map[string]float64, len(ml)+len(rules))
	for id, v := range ml {
		out[id] = v * (1 - weight)
	}
	for id, v := range rules {
		out[id] += v * weight
	}
	return out, nil
}

// Blender is the single place scoring modes are composed
type Blender struct {
	mode   ScoringMode
	weight float64
}

// NewBlender validates the mode and, for hybrid mode, the weight
func NewBlender(mode ScoringMode, weight float64) (*Blender, error) {
	switch mode {
	case ModeML, ModeRules:
	case ModeHybrid:
		if math.IsNaN(weight) || weight < 0 || weight > 1 {
			return nil, fmt.Errorf("%w: hybrid weight must be in [0,1], got %v", ErrInvalidConfig, weight)
		}
	default:
		return nil, fmt.Errorf("%w: unknown scoring mode %d", ErrInvalidConfig, mode)
	}
	return &Blender{mode: mode, weight: weight}, nil
}

// Mode returns the configured scoring mode
func (b *Blender) Mode() ScoringMode { return b.mode }

// Combine passes through the active method's scores or blends both in hybrid mode
func (b *Blender) Combine(ml, rules map[string]float64) (map[string]float64, error) {
	switch b.mode {
	case ModeML:
		return copyScores(ml), nil
	case ModeRules:
		return copyScores(rules), nil
	default:
		return Blend(ml, rules, b.weight)
	}
}
