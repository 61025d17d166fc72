// Package utils provides small, generic helpers shared by the HTTP layer.
// Nothing here knows about loads, intakes or any other domain type.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi, falling back
// to def when the string is empty or unparseable. Pagination query params
// arrive as raw strings and bad input must never fail a list request.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampInt bounds n to the inclusive range [lo, hi].
func ClampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
