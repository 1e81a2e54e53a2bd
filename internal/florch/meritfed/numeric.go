package meritfed

import (
	"math"
)

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// sanitize replaces NaN with 0 and clips the rest into [-clip, clip].
func sanitize(values []float64, clip float64) int {
	replaced := 0
	for i, v := range values {
		switch {
		case math.IsNaN(v):
			values[i] = 0
			replaced++
		case v > clip:
			values[i] = clip
			replaced++
		case v < -clip:
			values[i] = -clip
			replaced++
		}
	}
	return replaced
}
