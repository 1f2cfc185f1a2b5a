package analysis

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// FeatureSelector keeps the K features most dependent on the label
type FeatureSelector struct {
	inputDim int
	selected []int
	position map[int]int
}

// FitSelector ranks features by chi-squared statistic against labels and keeps the top k
func FitSelector(vectors []SparseVector, labels []string, k int) (*FeatureSelector, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: feature selection k must be > 0, got %d", ErrInvalidConfig, k)
	}
	if len(vectors) == 0 || len(vectors) != len(labels) {
		return nil, fmt.Errorf("%w: %d vectors and %d labels", ErrInsufficientData, len(vectors), len(labels))
	}

	dim := vectors[0].Dim
	classes := uniqueSorted(labels)
	classIndex := make(map[string]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}

	observed := mat.NewDense(len(classes), dim, nil)
	featureSum := make([]float64, dim)
	classCount := make([]float64, len(classes))
	for i, v := range vectors {
		if err := v.validate(dim); err != nil {
			return nil, err
		}
		c := classIndex[labels[i]]
		classCount[c]++
		for k, j := range v.Indices {
			observed.Set(c, j, observed.At(c, j)+v.Values[k])
			featureSum[j] += v.Values[k]
		}
	}

	n := float64(len(vectors))
	scores := make([]float64, dim)
	for j := 0; j < dim; j++ {
		if featureSum[j] == 0 {
			continue
		}
		chi := 0.0
		for c := range classes {
			expected := classCount[c] / n * featureSum[j]
			if expected == 0 {
				continue
			}
			d := observed.At(c, j) - expected
			chi += d * d / expected
		}
		if !math.IsNaN(chi) {
			scores[j] = chi
		}
	}

	order := make([]int, dim)
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	if k < dim {
		order = order[:k]
	}
	sort.Ints(order)

	return newFeatureSelector(dim, order), nil
}

func newFeatureSelector(inputDim int, selected []int) *FeatureSelector {
	pos := make(map[int]int, len(selected))
	for i, j := range selected {
		pos[j] = i
	}
	return &FeatureSelector{inputDim: inputDim, selected: selected, position: pos}
}

// Dim returns the number of selected features
func (s *FeatureSelector) Dim() int { return len(s.selected) }

// InputDim returns the vocabulary size the selector was fit on
func (s *FeatureSelector) InputDim() int { return s.inputDim }

// Selected returns the kept vocabulary indices in ascending order
func (s *FeatureSelector) Selected() []int {
	return append([]int(nil), s.selected...)
}

// Apply projects a vocabulary vector onto the selected features
func (s *FeatureSelector) Apply(v SparseVector) (SparseVector, error) {
	if err := v.validate(s.inputDim); err != nil {
		return SparseVector{}, err
	}
	out := SparseVector{Dim: len(s.selected)}
	for k, j := range v.Indices {
		if p, ok := s.position[j]; ok {
			out.Indices = append(out.Indices, p)
			out.Values = append(out.Values, v.Values[k])
		}
	}
	return out, nil
}

func uniqueSorted(xs []string) []string {
	seen := make(map[string]struct{}, len(xs))
	out := make([]string, 0)
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	sort.Strings(out)
	return out
}
