package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHungarianIdentity(t *testing.T) {
	cost := [][]float32{
		{0.1, 0.9, 0.9},
		{0.9, 0.1, 0.9},
		{0.9, 0.9, 0.1},
	}
	assert.Equal(t, []int{0, 1, 2}, hungarianAssign(cost))
}

// Greedy matching would take (0,0) at 0.1 and strand row 1 with 0.9;
// the optimal total swaps them.
func TestHungarianGlobalOptimum(t *testing.T) {
	cost := [][]float32{
		{0.1, 0.2},
		{0.15, 0.9},
	}
	assert.Equal(t, []int{1, 0}, hungarianAssign(cost))
}

func TestHungarianForbiddenPairsStayUnassigned(t *testing.T) {
	cost := [][]float32{
		{forbiddenCost, forbiddenCost},
		{0.2, forbiddenCost},
	}
	got := hungarianAssign(cost)
	assert.Equal(t, -1, got[0])
	assert.Equal(t, 0, got[1])
}

func TestHungarianMoreDetectionsThanTracks(t *testing.T) {
	cost := [][]float32{
		{0.1},
		{0.5},
		{0.9},
	}
	got := hungarianAssign(cost)

	assigned := 0
	for _, j := range got {
		if j >= 0 {
			assigned++
			assert.Equal(t, 0, j)
		}
	}
	assert.Equal(t, 1, assigned)
	assert.Equal(t, 0, got[0])
}

func TestHungarianMoreTracksThanDetections(t *testing.T) {
	cost := [][]float32{
		{0.9, 0.1, 0.5},
	}
	assert.Equal(t, []int{1}, hungarianAssign(cost))
}

func TestHungarianEmpty(t *testing.T) {
	assert.Nil(t, hungarianAssign(nil))
	assert.Equal(t, []int{-1, -1}, hungarianAssign([][]float32{{}, {}}))
}
