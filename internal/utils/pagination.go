// Package utils holds small parsing helpers for query parameters.
package utils

import (
	"math"
	"strconv"
)

// AtoiDefault parses s as an int, returning def when s is empty or invalid.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// FloatDefault parses s as a finite float64, returning def when s is empty,
// invalid, NaN, or infinite.
func FloatDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

// ClampPage parses page and page size query values. Page defaults to 1 and
// is at least 1; size defaults to def and is clamped to [1, max].
func ClampPage(pageRaw, sizeRaw string, def, max int) (page, size int) {
	page = AtoiDefault(pageRaw, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(sizeRaw, def)
	if size < 1 {
		size = 1
	}
	if size > max {
		size = max
	}
	return page, size
}

// TotalPages returns the number of pages of size needed for total items.
func TotalPages(total int64, size int) int {
	if size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
