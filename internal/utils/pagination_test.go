package utils

import (
	"math"
	"testing"
)

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		{"", 10, 10},
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		// no trimming
		{"x", 5, 5},
		{" 42", 7, 7},
		{"999999999999999999999999", -1, -1},
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestFloatDefault(t *testing.T) {
	cases := []struct {
		s    string
		want float64
	}{
		{"", -1},
		{"3.5", 3.5},
		{"4", 4},
		{"abc", -1},
		{"NaN", -1},
		{"+Inf", -1},
	}
	for _, tc := range cases {
		got := FloatDefault(tc.s, -1)
		if got != tc.want || math.IsNaN(got) {
			t.Fatalf("FloatDefault(%q) = %v; want %v", tc.s, got, tc.want)
		}
	}
}

func TestClampPage(t *testing.T) {
	cases := []struct {
		page, size         string
		wantPage, wantSize int
	}{
		{"", "", 1, 20},
		{"3", "50", 3, 50},
		{"0", "0", 1, 1},
		{"-2", "500", 1, 100},
		{"x", "y", 1, 20},
	}
	for _, tc := range cases {
		p, s := ClampPage(tc.page, tc.size, 20, 100)
		if p != tc.wantPage || s != tc.wantSize {
			t.Fatalf("ClampPage(%q, %q) = (%d, %d); want (%d, %d)", tc.page, tc.size, p, s, tc.wantPage, tc.wantSize)
		}
	}
}

func TestTotalPages(t *testing.T) {
	if got := TotalPages(0, 20); got != 0 {
		t.Fatalf("empty: %d", got)
	}
	if got := TotalPages(41, 20); got != 3 {
		t.Fatalf("41/20: %d", got)
	}
	if got := TotalPages(40, 20); got != 2 {
		t.Fatalf("40/20: %d", got)
	}
	if got := TotalPages(5, 0); got != 0 {
		t.Fatalf("zero size: %d", got)
	}
}
