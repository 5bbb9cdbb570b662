package qc

import "time"

// EstimateInterval infers the dominant sampling interval of a
// time-ascending series as the mode of consecutive differences, in
// seconds. Ties go to the value encountered first in the difference
// sequence. Fewer than two timestamps yield 0, which callers treat as
// "no threshold applicable".
func EstimateInterval(timestamps []time.Time) int {
	if len(timestamps) < 2 {
		return 0
	}

	deltas := make([]int, 0, len(timestamps)-1)
	counts := make(map[int]int)
	for i := 1; i < len(timestamps); i++ {
		d := int(timestamps[i].Sub(timestamps[i-1]) / time.Second)
		deltas = append(deltas, d)
		counts[d]++
	}

	best := 0
	for _, c := range counts {
		if c > best {
			best = c
		}
	}
	for _, d := range deltas {
		if counts[d] == best {
			if d < 0 {
				return -d
			}
			return d
		}
	}
	return 0
}
