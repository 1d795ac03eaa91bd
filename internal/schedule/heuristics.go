package schedule

import "math"

const (
	shuffleMinAttempts = 10
	shuffleMinRate     = 0.1

	deleteThreshold = 0.1
	deleteSteepness = 10.0
)

// ShouldShuffle reports whether the current combination is unproductive:
// no success after at least ten attempts, or a success rate below one in ten.
func ShouldShuffle(succ, total int) bool {
	if succ == 0 {
		return total >= shuffleMinAttempts
	}
	return float64(succ)/float64(total) < shuffleMinRate
}

// DeleteProbability maps a success rate to the probability of dropping the
// combination that produced it. The curve is logistic, centered at a rate
// of 0.1.
func DeleteProbability(rate float64) float64 {
	return 1 / (1 + math.Exp(deleteSteepness*(rate-deleteThreshold)))
}

// StarvationPolicy returns, for a loop count, the probability that a draw
// is replaced by the lowest-energy gadget not yet in the combination.
type StarvationPolicy func(loop int) float64

// NoStarvation never overrides a draw.
func NoStarvation(int) float64 { return 0 }

// LogisticStarvation rises from 0 toward maxProb around loop midpoint.
func LogisticStarvation(maxProb, midpoint, steepness float64) StarvationPolicy {
	return func(loop int) float64 {
		return maxProb / (1 + math.Exp(-steepness*(float64(loop)-midpoint)))
	}
}
