package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChoice(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want int
		msg  string
	}{
		{"1", 3, 0, ""},
		{" 3\n", 3, 2, ""},
		{"0", 3, 0, "Please enter a number between 1 and 3"},
		{"4", 3, 0, "Please enter a number between 1 and 3"},
		{"-1", 5, 0, "Please enter a number between 1 and 5"},
		{"two", 3, 0, "Please enter a valid number"},
		{"", 3, 0, "Please enter a valid number"},
		{"1.5", 3, 0, "Please enter a valid number"},
	}
	for _, tc := range cases {
		got, err := ParseChoice(tc.in, tc.n)
		if tc.msg != "" {
			require.EqualError(t, err, tc.msg, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestSelectManuallyRepromptsUntilValid(t *testing.T) {
	candidates := []Candidate{{Index: 0, Text: "a"}, {Index: 2, Text: "c"}}
	selector := &fakeSelector{replies: []string{"x", "3", "2"}}

	chosen, err := SelectManually(context.Background(), selector, candidates)
	require.NoError(t, err)
	assert.Equal(t, 2, chosen.Index)
	assert.Len(t, selector.shown, 3)
	assert.Equal(t, []string{"Please enter a valid number", "Please enter a number between 1 and 2"}, selector.rejects)
}

func TestSelectManuallyStopsOnReadError(t *testing.T) {
	_, err := SelectManually(context.Background(), &fakeSelector{}, []Candidate{{Text: "a"}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSelectManuallyNoCandidates(t *testing.T) {
	_, err := SelectManually(context.Background(), &fakeSelector{}, nil)
	require.ErrorIs(t, err, ErrNoSuccessfulGenerations)
}
