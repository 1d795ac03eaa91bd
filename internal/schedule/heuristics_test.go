package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldShuffle(t *testing.T) {
	tests := []struct {
		succ, total int
		want        bool
	}{
		{0, 0, false},
		{0, 9, false},
		{0, 10, true},
		{0, 25, true},
		{1, 10, false},
		{1, 11, true},
		{2, 19, false},
		{2, 21, true},
		{5, 5, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldShuffle(tt.succ, tt.total), "succ=%d total=%d", tt.succ, tt.total)
	}
}

func TestDeleteProbability(t *testing.T) {
	assert.InDelta(t, 0.5, DeleteProbability(0.1), 1e-12)
	assert.Greater(t, DeleteProbability(0), DeleteProbability(0.1))
	assert.Less(t, DeleteProbability(1), 0.001)

	prev := 1.0
	for r := 0.0; r <= 1.0; r += 0.1 {
		p := DeleteProbability(r)
		assert.Less(t, p, prev)
		prev = p
	}
}

func TestStarvationPolicies(t *testing.T) {
	assert.Zero(t, NoStarvation(0))
	assert.Zero(t, NoStarvation(1000))

	p := LogisticStarvation(0.2, 50, 0.5)
	assert.InDelta(t, 0.1, p(50), 1e-12)
	assert.Less(t, p(0), 0.001)
	assert.InDelta(t, 0.2, p(500), 1e-9)
}
