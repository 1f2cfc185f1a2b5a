package analysis

import "math"

func clip(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// stableSigmoid avoids overflow in exp for large |x|
func stableSigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// roundTo rounds half away from zero to the given decimal places
func roundTo(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
