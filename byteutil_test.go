// SPDX-License-Identifier: MIT

package bsdiff

import "testing"

func TestCommonPrefixLen(t *testing.T) {
	cases := []struct {
		name string
		a, b []byte
		want int
	}{
		{name: "both-empty", a: nil, b: nil, want: 0},
		{name: "identical-short", a: []byte("abc"), b: []byte("abc"), want: 3},
		{name: "identical-long", a: []byte("0123456789abcdef0123456789abcdef"), b: []byte("0123456789abcdef0123456789abcdef"), want: 32},
		{name: "diverge-at-word-boundary", a: []byte("01234567XYZ"), b: []byte("01234567abc"), want: 8},
		{name: "diverge-mid-word", a: []byte("0123Z678"), b: []byte("0123A678"), want: 4},
		{name: "diverge-first-byte", a: []byte("Zbc"), b: []byte("abc"), want: 0},
		{name: "a-shorter", a: []byte("abc"), b: []byte("abcdef"), want: 3},
		{name: "b-shorter", a: []byte("abcdef"), b: []byte("abc"), want: 3},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := commonPrefixLen(c.a, c.b)
			if got != c.want {
				t.Fatalf("commonPrefixLen(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestCountMatchingBytes(t *testing.T) {
	cases := []struct {
		name string
		a, b []byte
		want int
	}{
		{name: "empty", a: nil, b: nil, want: 0},
		{name: "identical", a: []byte("abcdef"), b: []byte("abcdef"), want: 6},
		{name: "no-matches", a: []byte("aaaa"), b: []byte("bbbb"), want: 0},
		{name: "half-matches", a: []byte("abab"), b: []byte("aabb"), want: 2},
		{name: "scattered-mismatches", a: []byte("abcdefgh"), b: []byte("aXcXefXh"), want: 5},
		{name: "length-mismatch-uses-shorter", a: []byte("abcdef"), b: []byte("abc"), want: 3},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := countMatchingBytes(c.a, c.b)
			if got != c.want {
				t.Fatalf("countMatchingBytes(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
			}
		})
	}
}
