package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecommendedTopupBuffersAndRounds(t *testing.T) {
	// 10% buffer on top of the shortfall, rounded up to a whole currency unit.
	assert.Equal(t, int64(44_400), RecommendedTopup(40_300))
	assert.Equal(t, int64(1_100), RecommendedTopup(1_000))
	assert.Equal(t, int64(200), RecommendedTopup(100))
}

func TestRecommendedTopupZeroForNonPositive(t *testing.T) {
	assert.Equal(t, int64(0), RecommendedTopup(0))
	assert.Equal(t, int64(0), RecommendedTopup(-500))
}
