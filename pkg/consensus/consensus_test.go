package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindRange(t *testing.T) {
	tests := []struct {
		name    string
		heights []int64
		epsilon int64
		want    Range
	}{
		{"majority band excludes fork", []int64{10, 11, 12, 50}, 2, Range{Lo: 10, Hi: 14, Count: 3}},
		{"unsorted input", []int64{50, 12, 10, 11}, 2, Range{Lo: 10, Hi: 14, Count: 3}},
		{"tie prefers higher window", []int64{0, 4}, 2, Range{Lo: 2, Hi: 6, Count: 1}},
		{"all identical", []int64{7, 7, 7}, 3, Range{Lo: 4, Hi: 10, Count: 3}},
		{"single height", []int64{100}, 10, Range{Lo: 90, Hi: 110, Count: 1}},
		{"far apart singletons", []int64{100, 0, 50}, 5, Range{Lo: 95, Hi: 105, Count: 1}},
		{"stale minority below", []int64{1000, 1001, 1003, 1002, 900, 901}, 2, Range{Lo: 1000, Hi: 1004, Count: 4}},
		{"zero epsilon", []int64{5, 5, 6}, 0, Range{Lo: 5, Hi: 5, Count: 2}},
		{"duplicates in majority", []int64{20, 20, 21, 21, 40, 40}, 1, Range{Lo: 20, Hi: 22, Count: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindRange(tt.heights, tt.epsilon)
			require.True(t, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFindRange_Empty(t *testing.T) {
	_, ok := FindRange(nil, 2)
	require.False(t, ok)
}

func TestFindRange_DoesNotMutateInput(t *testing.T) {
	in := []int64{3, 1, 2}
	_, _ = FindRange(in, 1)
	require.Equal(t, []int64{3, 1, 2}, in)
}

func TestRange_Contains(t *testing.T) {
	r := Range{Lo: 10, Hi: 14}
	require.True(t, r.Contains(10))
	require.True(t, r.Contains(14))
	require.False(t, r.Contains(9))
	require.False(t, r.Contains(15))
}
