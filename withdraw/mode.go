// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package withdraw

// mode returns the single most frequent value. The second return is false
// when the input is empty or the maximum is shared; the caller skips the
// tick rather than act on an ambiguous opinion.
func mode[T comparable](vals []T) (T, bool) {
	var zero T
	if len(vals) == 0 {
		return zero, false
	}
	counts := make(map[T]int, len(vals))
	for _, v := range vals {
		counts[v]++
	}
	best, bestCount, unique := zero, 0, true
	for v, c := range counts {
		switch {
		case c > bestCount:
			best, bestCount, unique = v, c, true
		case c == bestCount:
			unique = false
		}
	}
	if !unique {
		return zero, false
	}
	return best, true
}
