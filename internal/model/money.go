package model

import "math"

// Round2 rounds a currency amount to cents, half away from zero. Every
// monetary figure that leaves the engine goes through this so detector
// values and claim valuations agree on negative amounts.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
