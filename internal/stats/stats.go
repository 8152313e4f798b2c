package stats

import (
	"math"
)

// ZScore returns the two-sided critical z for the supported confidence
// levels. The ok flag is false for any other level; callers surface that as a
// configuration problem rather than guessing.
func ZScore(confidenceLevel float64) (float64, bool) {
	switch confidenceLevel {
	case 0.99:
		return 2.576, true
	case 0.95:
		return 1.96, true
	case 0.90:
		return 1.645, true
	default:
		return 0, false
	}
}

// ConversionRate is conversions over sample size, 0 for an empty sample.
func ConversionRate(conversions, sampleSize int) float64 {
	if sampleSize <= 0 {
		return 0
	}
	return float64(conversions) / float64(sampleSize)
}

// StandardError of a proportion: sqrt(p*(1-p)/n). Zero for an empty sample.
func StandardError(rate float64, sampleSize int) float64 {
	if sampleSize <= 0 {
		return 0
	}
	return math.Sqrt(rate * (1 - rate) / float64(sampleSize))
}

// ConfidenceInterval is the Wald interval rate +- z*SE, clamped to [0,1].
func ConfidenceInterval(rate float64, sampleSize int, z float64) (lower, upper float64) {
	se := StandardError(rate, sampleSize)
	lower = rate - z*se
	upper = rate + z*se
	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}
	return lower, upper
}

// Lift is the relative percentage difference of a variant's conversion rate
// against the control's. Zero when the control rate is zero (no meaningful
// baseline) and for the control's own row.
func Lift(variantRate, controlRate float64) float64 {
	if controlRate == 0 {
		return 0
	}
	return (variantRate - controlRate) / controlRate * 100
}

// TwoProportionConfidence performs a pooled two-proportion z-test and returns
// the confidence in (0,1) that the first proportion exceeds the second.
// 0.5 means no evidence either way (including the no-data cases).
func TwoProportionConfidence(aConversions, aSample, bConversions, bSample int) float64 {
	if aSample == 0 || bSample == 0 {
		return 0.5
	}

	pA := float64(aConversions) / float64(aSample)
	pB := float64(bConversions) / float64(bSample)

	pooled := float64(aConversions+bConversions) / float64(aSample+bSample)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(aSample) + 1/float64(bSample)))
	if se == 0 {
		switch {
		case pA > pB:
			return 1.0
		case pA < pB:
			return 0.0
		default:
			return 0.5
		}
	}

	z := (pA - pB) / se
	return normalCDF(z)
}

// Significant reports whether the variant's conversion rate differs from the
// control's in either direction at the given confidence level.
func Significant(variantConv, variantSample, controlConv, controlSample int, confidenceLevel float64) bool {
	conf := TwoProportionConfidence(variantConv, variantSample, controlConv, controlSample)
	if conf < 0.5 {
		conf = 1 - conf
	}
	return conf >= confidenceLevel
}

// normalCDF approximates the standard normal CDF with the Abramowitz and
// Stegun formula 7.1.26 (max absolute error ~1.5e-7).
func normalCDF(x float64) float64 {
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt2

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
