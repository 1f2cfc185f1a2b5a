package analysis

import (
	"fmt"
	"math"
	"sort"
)

// SparseVector is a feature vector with strictly increasing indices
type SparseVector struct {
	Dim     int       `json:"dim"`
	Indices []int     `json:"indices"`
	Values  []float64 `json:"values"`
}

// Len returns the number of stored entries
func (v SparseVector) Len() int { return len(v.Indices) }

// Dot computes the inner product with a dense row of length Dim
func (v SparseVector) Dot(row []float64) float64 {
	s := 0.0
	for k, i := range v.Indices {
		s += v.Values[k] * row[i]
	}
	return s
}

func (v SparseVector) validate(dim int) error {
	if v.Dim != dim {
		return fmt.Errorf("%w: vector has %d features, model expects %d", ErrSchemaMismatch, v.Dim, dim)
	}
	if len(v.Indices) != len(v.Values) {
		return fmt.Errorf("%w: vector has %d indices and %d values", ErrSchemaMismatch, len(v.Indices), len(v.Values))
	}
	prev := -1
	for _, i := range v.Indices {
		if i <= prev || i >= dim {
			return fmt.Errorf("%w: feature index %d out of range [0,%d)", ErrSchemaMismatch, i, dim)
		}
		prev = i
	}
	return nil
}

// Vectorizer is a fitted n-gram TF-IDF model. It is read-only after fit.
type Vectorizer struct {
	pre        *Preprocessor
	cfg        VectorizerConfig
	terms      []string
	vocabulary map[string]int
	idf        []float64
	stopWords  []string
	corpusSize int
}

// FitVectorizer builds vocabulary and IDF weights from a corpus
func FitVectorizer(corpus []string, cfg VectorizerConfig) (*Vectorizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := len(corpus)
	if n < 2 {
		return nil, fmt.Errorf("%w: vectorizer needs at least 2 documents, got %d", ErrInsufficientData, n)
	}

	stop := StopWords(cfg.ExtraStopWords)
	pre := NewPreprocessor(cfg.NGramMin, cfg.NGramMax, stop)

	df := make(map[string]int)
	tf := make(map[string]int)
	for _, doc := range corpus {
		seen := make(map[string]struct{})
		for _, term := range pre.Terms(doc) {
			tf[term]++
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}

	maxDocs := cfg.MaxDF * float64(n)
	candidates := make([]string, 0, len(df))
	for term, count := range df {
		if count < cfg.MinDF || float64(count) > maxDocs {
			continue
		}
		candidates = append(candidates, term)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no terms survived document-frequency filtering (%d documents)", ErrInsufficientData, n)
	}

	if cfg.MaxFeatures > 0 && len(candidates) > cfg.MaxFeatures {
		sort.Slice(candidates, func(i, j int) bool {
			if tf[candidates[i]] != tf[candidates[j]] {
				return tf[candidates[i]] > tf[candidates[j]]
			}
			return candidates[i] < candidates[j]
		})
		candidates = candidates[:cfg.MaxFeatures]
	}
	sort.Strings(candidates)

	idf := make([]float64, len(candidates))
	for i, term := range candidates {
		idf[i] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}

	return newVectorizer(cfg, candidates, idf, sortedStopWords(stop), n), nil
}

func newVectorizer(cfg VectorizerConfig, terms []string, idf []float64, stopWords []string, corpusSize int) *Vectorizer {
	vocab := make(map[string]int, len(terms))
	for i, term := range terms {
		vocab[term] = i
	}
	return &Vectorizer{
		pre:        NewPreprocessor(cfg.NGramMin, cfg.NGramMax, stopWordSet(stopWords)),
		cfg:        cfg,
		terms:      terms,
		vocabulary: vocab,
		idf:        idf,
		stopWords:  stopWords,
		corpusSize: corpusSize,
	}
}

// Dim returns the vocabulary size
func (v *Vectorizer) Dim() int { return len(v.terms) }

// Term returns the vocabulary term at index i
func (v *Vectorizer) Term(i int) string { return v.terms[i] }

// Transform maps text to an L2-normalized TF-IDF vector. Empty text yields an empty vector.
func (v *Vectorizer) Transform(text string) SparseVector {
	counts := make(map[int]float64)
	for _, term := range v.pre.Terms(text) {
		if i, ok := v.vocabulary[term]; ok {
			counts[i]++
		}
	}

	out := SparseVector{Dim: len(v.terms)}
	if len(counts) == 0 {
		return out
	}

	out.Indices = make([]int, 0, len(counts))
	for i := range counts {
		out.Indices = append(out.Indices, i)
	}
	sort.Ints(out.Indices)

	out.Values = make([]float64, len(out.Indices))
	norm := 0.0
	for k, i := range out.Indices {
		tf := counts[i]
		if v.cfg.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		w := tf * v.idf[i]
		out.Values[k] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for k := range out.Values {
			out.Values[k] /= norm
		}
	}
	return out
}

// TransformAll transforms every document
func (v *Vectorizer) TransformAll(corpus []string) []SparseVector {
	out := make([]SparseVector, len(corpus))
	for i, doc := range corpus {
		out[i] = v.Transform(doc)
	}
	return out
}
