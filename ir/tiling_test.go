/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package ir

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTileRangeExamples(t *testing.T) {
	cases := []struct {
		dim   int64
		count uint32
		want  []Range
	}{
		{7, 2, []Range{{0, 4}, {4, 7}}},
		{9, 3, []Range{{0, 3}, {3, 6}, {6, 9}}},
		{6, 4, []Range{{0, 2}, {2, 4}, {4, 5}, {5, 6}}},
		{2, 3, []Range{{0, 1}, {1, 2}, {2, 2}}},
		{5, 1, []Range{{0, 5}}},
	}
	for _, c := range cases {
		var got []Range
		for id := uint32(0); id < c.count; id++ {
			got = append(got, TileRange(c.dim, id, c.count))
		}
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Errorf("TileRange(%d, *, %d) mismatch (-want +got):\n%s", c.dim, c.count, diff)
		}
	}
}

// every extent over every locality count must be covered exactly once
func TestTileRangeCoverage(t *testing.T) {
	for count := uint32(1); count <= 8; count++ {
		for dim := int64(0); dim <= 40; dim++ {
			ranges := make([]Range, count)
			for id := range ranges {
				ranges[id] = TileRange(dim, uint32(id), count)
				if l := ranges[id].Len(); l != dim/int64(count) && l != dim/int64(count)+1 {
					t.Fatalf("dim=%d count=%d id=%d: unbalanced length %d", dim, count, id, l)
				}
			}
			extent, err := MergeRanges("columns", ranges)
			if err != nil {
				t.Fatalf("dim=%d count=%d: %v", dim, count, err)
			}
			if extent != dim {
				t.Fatalf("dim=%d count=%d: merged extent %d", dim, count, extent)
			}
		}
	}
}

func TestMergeRangesErrors(t *testing.T) {
	if _, err := MergeRanges("rows", []Range{{0, 2}, {3, 5}}); !errors.Is(err, ErrCoverage) {
		t.Errorf("gap not detected: %v", err)
	}
	if _, err := MergeRanges("rows", []Range{{0, 3}, {2, 5}}); !errors.Is(err, ErrCoverage) {
		t.Errorf("overlap not detected: %v", err)
	}
	if _, err := MergeRanges("rows", []Range{{1, 3}}); !errors.Is(err, ErrCoverage) {
		t.Errorf("missing start not detected: %v", err)
	}
	// replicated ranges (grid tiling) and empty tiles are fine
	extent, err := MergeRanges("rows", []Range{{2, 4}, {0, 2}, {0, 2}, {2, 4}, {0, 0}})
	if err != nil || extent != 4 {
		t.Errorf("expected extent 4, got %d (%v)", extent, err)
	}
}

func seq(n int) []int64 {
	r := make([]int64, n)
	for i := range r {
		r[i] = int64(i + 1)
	}
	return r
}

func TestAssembleRoundTrip(t *testing.T) {
	shapes := [][]int{{9}, {4, 6}, {2, 4, 6}, {3, 5}}
	for _, shape := range shapes {
		global := NewInt64(shape, seq(product(shape)))
		for count := uint32(1); count <= 4; count++ {
			for axis := 0; axis < len(shape); axis++ {
				var tiles []Tile
				// deliver the tiles in reverse order
				for id := int(count) - 1; id >= 0; id-- {
					box := make([]Range, len(shape))
					for d := range shape {
						box[d] = Range{0, int64(shape[d])}
					}
					box[axis] = TileRange(int64(shape[axis]), uint32(id), count)
					local, err := Extract(global, box)
					if err != nil {
						t.Fatal(err)
					}
					tiles = append(tiles, Tile{box, local.Copy()})
				}
				result, err := Assemble(tiles)
				if err != nil {
					t.Fatalf("shape %v count %d axis %d: %v", shape, count, axis, err)
				}
				if !result.Equal(global) {
					t.Fatalf("shape %v count %d axis %d: got %v want %v", shape, count, axis, result, global)
				}
			}
		}
	}
}

func TestAssembleCoverageErrors(t *testing.T) {
	a := NewInt64([]int{3}, []int64{1, 2, 3})
	b := NewInt64([]int{3}, []int64{4, 5, 6})
	if _, err := Assemble([]Tile{{[]Range{{0, 3}}, a}, {[]Range{{2, 5}}, b}}); !errors.Is(err, ErrCoverage) {
		t.Errorf("overlap not detected: %v", err)
	}
	if _, err := Assemble([]Tile{{[]Range{{0, 3}}, a}, {[]Range{{4, 7}}, b}}); !errors.Is(err, ErrCoverage) {
		t.Errorf("gap not detected: %v", err)
	}
	if _, err := Assemble([]Tile{{[]Range{{0, 2}}, a}}); !errors.Is(err, ErrAnnotation) {
		t.Errorf("range/extent mismatch not detected: %v", err)
	}
}

func TestAssemblePromotesDType(t *testing.T) {
	a := NewInt64([]int{2}, []int64{1, 2})
	b := NewFloat64([]int{1}, []float64{2.5})
	result, err := Assemble([]Tile{{[]Range{{2, 3}}, b}, {[]Range{{0, 2}}, a}})
	if err != nil {
		t.Fatal(err)
	}
	if result.DType() != Float64 || result.String() != "[1.0, 2.0, 2.5]" {
		t.Errorf("got %v (%v)", result, result.DType())
	}
}
