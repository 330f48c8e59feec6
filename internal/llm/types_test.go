package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankOrdersByScoreThenIndex(t *testing.T) {
	input := []Ranked{{0, 10}, {1, 90}, {2, 50}, {3, 90}, {4, 10}}
	ranked := Rank(input)

	require.Equal(t, []Ranked{{1, 90}, {3, 90}, {2, 50}, {0, 10}, {4, 10}}, ranked)
	require.Equal(t, ranked, Rank(ranked))
	require.Equal(t, Ranked{0, 10}, input[0], "input must not be reordered")
}

func TestRankTiesFollowIndexRegardlessOfArrival(t *testing.T) {
	arrival := []Ranked{{2, 50}, {0, 50}, {1, 50}}
	require.Equal(t, []Ranked{{0, 50}, {1, 50}, {2, 50}}, Rank(arrival))
}

func TestErrorMarkers(t *testing.T) {
	assert.True(t, IsErrorMarker(RetryMarker(5)))
	assert.True(t, IsErrorMarker("  error: upstream"))
	assert.True(t, IsErrorMarker("429 Too Many Requests"))
	assert.True(t, IsErrorMarker("Rate limit exceeded, slow down"))
	assert.False(t, IsErrorMarker("The error of his ways"))

	assert.True(t, AllErrorMarkers(nil))
	assert.True(t, AllErrorMarkers([]string{RetryMarker(5), RetryMarker(5)}))
	assert.False(t, AllErrorMarkers([]string{RetryMarker(5), "real text"}))
}
