// Package consensus finds the height band most nodes of a network agree on.
package consensus

import (
	"fmt"
	"sort"
)

// Range is a closed interval of trusted heights and the number of reported
// heights that fall inside it.
type Range struct {
	Lo    int64 `json:"lo"`
	Hi    int64 `json:"hi"`
	Count int   `json:"count"`
}

func (r Range) Contains(h int64) bool { return h >= r.Lo && h <= r.Hi }

func (r Range) String() string { return fmt.Sprintf("[%d, %d]#%d", r.Lo, r.Hi, r.Count) }

// FindRange clusters heights with a sliding window of ±epsilon around every
// reported height and returns the window holding the most heights. On equal
// counts the window anchored at the higher height wins. ok is false for empty input.
func FindRange(heights []int64, epsilon int64) (rng Range, ok bool) {
	if len(heights) == 0 {
		return Range{}, false
	}
	if epsilon < 0 {
		epsilon = 0
	}
	sorted := make([]int64, len(heights))
	copy(sorted, heights)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	best := Range{}
	for i, h := range sorted {
		lo, hi := h-epsilon, h+epsilon

		count := 1
		for j := i + 1; j < n && sorted[j] <= hi; j++ {
			count++
		}
		for j := i - 1; j >= 0 && sorted[j] >= lo; j-- {
			count++
		}
		if count >= best.Count {
			best = Range{Lo: lo, Hi: hi, Count: count}
		}

		if i+1 < n && best.Count > reachable(sorted, sorted[i+1]-epsilon) {
			break
		}
	}
	return best, true
}

// reachable bounds the count of any window whose lower edge is at least floor.
func reachable(sorted []int64, floor int64) int {
	first := sort.Search(len(sorted), func(k int) bool { return sorted[k] >= floor })
	return len(sorted) - first
}
