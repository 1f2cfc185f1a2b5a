package analysis

import (
	"fmt"
	"math"
)

// PlattParams maps a decision value f to P(positive) = 1/(1+exp(A*f+B))
type PlattParams struct {
	A          float64 `json:"a"`
	B          float64 `json:"b"`
	Calibrated bool    `json:"calibrated"`
	Samples    int     `json:"samples"`
}

// uncalibrated is the plain logistic sigmoid used for classes below the calibration minimum
func uncalibrated(samples int) PlattParams {
	return PlattParams{A: -1, B: 0, Samples: samples}
}

// Prob returns the calibrated probability for decision value f
func (p PlattParams) Prob(f float64) float64 {
	return stableSigmoid(-(p.A*f + p.B))
}

// FitPlatt fits sigmoid parameters with Newton's method and backtracking, using
// Platt's regularized targets so separable data does not drive A to infinity.
func FitPlatt(decisions []float64, positives []bool) (PlattParams, error) {
	if len(decisions) != len(positives) || len(decisions) == 0 {
		return PlattParams{}, fmt.Errorf("%w: %d decisions and %d targets", ErrInsufficientData, len(decisions), len(positives))
	}

	var prior1, prior0 float64
	for _, pos := range positives {
		if pos {
			prior1++
		} else {
			prior0++
		}
	}
	if prior1 == 0 || prior0 == 0 {
		return PlattParams{}, fmt.Errorf("%w: calibration needs positive and negative examples", ErrInsufficientData)
	}

	const (
		maxIter = 100
		minStep = 1e-10
		sigma   = 1e-12
		eps     = 1e-5
	)

	hiTarget := (prior1 + 1) / (prior1 + 2)
	loTarget := 1 / (prior0 + 2)
	t := make([]float64, len(positives))
	for i, pos := range positives {
		if pos {
			t[i] = hiTarget
		} else {
			t[i] = loTarget
		}
	}

	objective := func(a, b float64) float64 {
		f := 0.0
		for i, d := range decisions {
			fApB := d*a + b
			if fApB >= 0 {
				f += t[i]*fApB + math.Log1p(math.Exp(-fApB))
			} else {
				f += (t[i]-1)*fApB + math.Log1p(math.Exp(fApB))
			}
		}
		return f
	}

	a := 0.0
	b := math.Log((prior0 + 1) / (prior1 + 1))
	fval := objective(a, b)

	for iter := 0; iter < maxIter; iter++ {
		h11, h22, h21 := sigma, sigma, 0.0
		g1, g2 := 0.0, 0.0
		for i, d := range decisions {
			fApB := d*a + b
			var p, q float64
			if fApB >= 0 {
				e := math.Exp(-fApB)
				p = e / (1 + e)
				q = 1 / (1 + e)
			} else {
				e := math.Exp(fApB)
				p = 1 / (1 + e)
				q = e / (1 + e)
			}
			d2 := p * q
			h11 += d * d * d2
			h22 += d2
			h21 += d * d2
			d1 := t[i] - p
			g1 += d * d1
			g2 += d1
		}
		if math.Abs(g1) < eps && math.Abs(g2) < eps {
			break
		}

		det := h11*h22 - h21*h21
		dA := -(h22*g1 - h21*g2) / det
		dB := -(-h21*g1 + h11*g2) / det
		gd := g1*dA + g2*dB

		step := 1.0
		for step >= minStep {
			na, nb := a+step*dA, b+step*dB
			nf := objective(na, nb)
			if nf < fval+0.0001*step*gd {
				a, b, fval = na, nb, nf
				break
			}
			step /= 2
		}
		if step < minStep {
			break
		}
	}

	return PlattParams{A: a, B: b, Calibrated: true, Samples: int(prior1)}, nil
}
