package engine

// StopReason says why the generation loop ended.
type StopReason string

const (
	StopConverged StopReason = "converged"
	StopMaxRounds StopReason = "max_rounds"
	StopTimeout   StopReason = "timeout"
)

// Convergence counts rounds and quiet rounds and decides when the loop is
// done.
//
// A round with new feedback resets the quiet counter. A stuck round, one
// that produced no successful program at all, leaves it unchanged: the
// combination was bad, not the corpus saturated.
//
// Not safe for concurrent use; the loop owns it.
type Convergence struct {
	quietLimit int
	maxRounds  int
	rounds     int
	quiet      int
}

// NewConvergence creates a tracker. quietLimit or maxRounds of zero
// disables that limit.
func NewConvergence(quietLimit, maxRounds int) *Convergence {
	return &Convergence{quietLimit: quietLimit, maxRounds: maxRounds}
}

// Record accounts for one finished round.
func (c *Convergence) Record(hasNew, stuck bool) {
	c.rounds++
	switch {
	case hasNew:
		c.quiet = 0
	case !stuck:
		c.quiet++
	}
}

// Done reports whether the loop should stop before the next round.
func (c *Convergence) Done() (StopReason, bool) {
	if c.quietLimit > 0 && c.quiet >= c.quietLimit {
		return StopConverged, true
	}
	if c.maxRounds > 0 && c.rounds >= c.maxRounds {
		return StopMaxRounds, true
	}
	return "", false
}

// Rounds returns the number of recorded rounds.
func (c *Convergence) Rounds() int { return c.rounds }

// Quiet returns the current quiet round streak.
func (c *Convergence) Quiet() int { return c.quiet }
