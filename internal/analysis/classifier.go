package analysis

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	ClassWeightBalanced = "balanced"
	ClassWeightNone     = "none"
)

// linearModel is a multinomial logistic regression: one weight row and bias per class
type linearModel struct {
	weights *mat.Dense
	bias    []float64
}

func (m *linearModel) decision(v SparseVector, out []float64) {
	for c := range out {
		out[c] = v.Dot(m.weights.RawRowView(c)) + m.bias[c]
	}
}

type lrProblem struct {
	x       []SparseVector
	y       []int
	weights []float64
	classes int
	dim     int
	alpha   float64
}

func newLRProblem(x []SparseVector, y []int, classes, dim int, cfg ClassifierConfig) *lrProblem {
	n := float64(len(x))
	sw := make([]float64, len(x))
	for i := range sw {
		sw[i] = 1
	}
	if cfg.ClassWeight == ClassWeightBalanced {
		counts := make([]float64, classes)
		present := 0
		for _, c := range y {
			if counts[c] == 0 {
				present++
			}
			counts[c]++
		}
		for i, c := range y {
			sw[i] = n / (float64(present) * counts[c])
		}
	}
	return &lrProblem{x: x, y: y, weights: sw, classes: classes, dim: dim, alpha: 1 / (cfg.C * n)}
}

// lossGrad evaluates the weighted cross-entropy with L2 penalty and writes its gradient
func (p *lrProblem) lossGrad(m *linearModel, gw *mat.Dense, gb []float64) float64 {
	gw.Zero()
	for c := range gb {
		gb[c] = 0
	}
	n := float64(len(p.x))
	z := make([]float64, p.classes)
	loss := 0.0
	for i, v := range p.x {
		m.decision(v, z)
		lse := floats.LogSumExp(z)
		loss += p.weights[i] * (lse - z[p.y[i]])
		for c := range z {
			g := math.Exp(z[c] - lse)
			if c == p.y[i] {
				g--
			}
			g *= p.weights[i] / n
			gb[c] += g
			row := gw.RawRowView(c)
			for k, j := range v.Indices {
				row[j] += g * v.Values[k]
			}
		}
	}
	loss /= n

	sq := 0.0
	for c := 0; c < p.classes; c++ {
		row := m.weights.RawRowView(c)
		sq += floats.Dot(row, row)
		floats.AddScaled(gw.RawRowView(c), p.alpha, row)
	}
	return loss + 0.5*p.alpha*sq
}

// trainLinear runs full-batch gradient descent with an adaptive step.
// Rejected steps halve the rate, accepted steps grow it by 10%.
func trainLinear(p *lrProblem, cfg ClassifierConfig) *linearModel {
	cur := &linearModel{weights: mat.NewDense(p.classes, p.dim, nil), bias: make([]float64, p.classes)}
	next := &linearModel{weights: mat.NewDense(p.classes, p.dim, nil), bias: make([]float64, p.classes)}
	gw := mat.NewDense(p.classes, p.dim, nil)
	gb := make([]float64, p.classes)
	ngw := mat.NewDense(p.classes, p.dim, nil)
	ngb := make([]float64, p.classes)

	loss := p.lossGrad(cur, gw, gb)
	lr := cfg.LearningRate
	for iter := 0; iter < cfg.MaxIter; iter++ {
		next.weights.Scale(-lr, gw)
		next.weights.Add(next.weights, cur.weights)
		for c := range next.bias {
			next.bias[c] = cur.bias[c] - lr*gb[c]
		}

		nextLoss := p.lossGrad(next, ngw, ngb)
		if nextLoss <= loss {
			improvement := loss - nextLoss
			cur, next = next, cur
			gw, ngw = ngw, gw
			gb, ngb = ngb, gb
			loss = nextLoss
			lr *= 1.1
			if improvement < cfg.Tolerance {
				break
			}
			continue
		}
		lr *= 0.5
		if lr < 1e-12 {
			break
		}
	}
	return cur
}

// Classifier is a calibrated multi-class linear classifier. It is read-only
// after fit and safe for concurrent use.
type Classifier struct {
	labels      []string
	dim         int
	model       *linearModel
	calibration []PlattParams
	trained     bool
}

// FitClassifier trains a class-weighted logistic regression and calibrates it
// per class with Platt scaling on stratified out-of-fold decisions.
func FitClassifier(vectors []SparseVector, labels []string, cfg ClassifierConfig, cal CalibrationConfig) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	if len(vectors) != len(labels) {
		return nil, fmt.Errorf("%w: %d vectors and %d labels", ErrSchemaMismatch, len(vectors), len(labels))
	}
	if len(vectors) < 2 {
		return nil, fmt.Errorf("%w: classifier needs at least 2 examples, got %d", ErrInsufficientData, len(vectors))
	}

	classes := uniqueSorted(labels)
	if len(classes) < 2 {
		return nil, fmt.Errorf("%w: classifier needs at least 2 classes, got %d", ErrInsufficientData, len(classes))
	}
	classIndex := make(map[string]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}

	dim := vectors[0].Dim
	if dim == 0 {
		return nil, fmt.Errorf("%w: vectors have no features", ErrInsufficientData)
	}
	y := make([]int, len(labels))
	counts := make([]int, len(classes))
	for i, v := range vectors {
		if err := v.validate(dim); err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		y[i] = classIndex[labels[i]]
		counts[y[i]]++
	}

	full := trainLinear(newLRProblem(vectors, y, len(classes), dim, cfg), cfg)

	calibration := make([]PlattParams, len(classes))
	for c := range calibration {
		calibration[c] = uncalibrated(counts[c])
	}

	eligible := false
	for _, n := range counts {
		if n >= cal.MinSamplesPerClass {
			eligible = true
			break
		}
	}
	if eligible {
		oof := outOfFoldDecisions(vectors, y, len(classes), dim, cfg, cal.Folds)
		for c := range classes {
			if counts[c] < cal.MinSamplesPerClass {
				continue
			}
			decisions := make([]float64, len(y))
			positives := make([]bool, len(y))
			for i := range y {
				decisions[i] = oof[i][c]
				positives[i] = y[i] == c
			}
			params, err := FitPlatt(decisions, positives)
			if err != nil {
				return nil, fmt.Errorf("calibrating class %q: %w", classes[c], err)
			}
			calibration[c] = params
		}
	}

	return &Classifier{
		labels:      classes,
		dim:         dim,
		model:       full,
		calibration: calibration,
		trained:     true,
	}, nil
}

// outOfFoldDecisions assigns each class's examples round-robin to folds and
// returns every example's decision values from the model that did not see it.
func outOfFoldDecisions(x []SparseVector, y []int, classes, dim int, cfg ClassifierConfig, folds int) [][]float64 {
	fold := make([]int, len(y))
	seen := make([]int, classes)
	for i, c := range y {
		fold[i] = seen[c] % folds
		seen[c]++
	}

	out := make([][]float64, len(y))
	for f := 0; f < folds; f++ {
		var trainX []SparseVector
		var trainY []int
		var held []int
		for i := range y {
			if fold[i] == f {
				held = append(held, i)
				continue
			}
			trainX = append(trainX, x[i])
			trainY = append(trainY, y[i])
		}
		if len(held) == 0 || len(trainX) == 0 {
			continue
		}
		m := trainLinear(newLRProblem(trainX, trainY, classes, dim, cfg), cfg)
		for _, i := range held {
			out[i] = make([]float64, classes)
			m.decision(x[i], out[i])
		}
	}
	return out
}

// Labels returns the known category labels in model order
func (c *Classifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

// Dim returns the expected input dimension
func (c *Classifier) Dim() int { return c.dim }

// Uncalibrated returns labels that had too few examples to calibrate
func (c *Classifier) Uncalibrated() []string {
	var out []string
	for i, p := range c.calibration {
		if !p.Calibrated {
			out = append(out, c.labels[i])
		}
	}
	return out
}

// Predict returns a probability for every known label, summing to 1
func (c *Classifier) Predict(v SparseVector) (map[string]float64, error) {
	if c == nil || !c.trained {
		return nil, ErrNotTrained
	}
	if err := v.validate(c.dim); err != nil {
		return nil, err
	}
	return c.predict(v, make([]float64, len(c.labels))), nil
}

func (c *Classifier) predict(v SparseVector, z []float64) map[string]float64 {
	c.model.decision(v, z)
	sum := 0.0
	for i := range z {
		z[i] = c.calibration[i].Prob(z[i])
		sum += z[i]
	}
	out := make(map[string]float64, len(z))
	for i, label := range c.labels {
		if sum > 0 {
			out[label] = z[i] / sum
		} else {
			out[label] = 1 / float64(len(z))
		}
	}
	return out
}

// PredictBatch predicts every vector across GOMAXPROCS workers. Each result is
// identical to calling Predict on the same vector.
func (c *Classifier) PredictBatch(ctx context.Context, vectors []SparseVector) ([]map[string]float64, error) {
	if c == nil || !c.trained {
		return nil, ErrNotTrained
	}
	for i, v := range vectors {
		if err := v.validate(c.dim); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
	}

	out := make([]map[string]float64, len(vectors))
	workers := runtime.GOMAXPROCS(0)
	chunk := (len(vectors) + workers - 1) / workers
	if chunk == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(vectors); start += chunk {
		end := min(start+chunk, len(vectors))
		g.Go(func() error {
			z := make([]float64, len(c.labels))
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				out[i] = c.predict(vectors[i], z)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
