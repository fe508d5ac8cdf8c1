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
	"fmt"
	"sort"
)

var ErrCoverage = errors.New("tile coverage")

// TileRange splits dim into count parts; the first dim%count parts get one extra element
func TileRange(dim int64, id, count uint32) Range {
	if count == 0 {
		return Range{0, dim}
	}
	size := dim / int64(count)
	rem := dim % int64(count)
	i := int64(id)
	if i < rem {
		start := i * (size + 1)
		return Range{start, start + size + 1}
	}
	start := rem*(size+1) + (i-rem)*size
	return Range{start, start + size}
}

// MergeRanges checks that ranges seen on one axis tile [0, extent) and returns extent
func MergeRanges(axis string, ranges []Range) (int64, error) {
	distinct := make([]Range, 0, len(ranges))
	seen := make(map[Range]bool)
	for _, r := range ranges {
		if r.Empty() || seen[r] {
			continue // replicated along another axis
		}
		seen[r] = true
		distinct = append(distinct, r)
	}
	sort.Slice(distinct, func(i, j int) bool {
		return distinct[i].Start < distinct[j].Start
	})
	var extent int64
	for _, r := range distinct {
		if r.Start > extent {
			return 0, fmt.Errorf("%w: gap [%d, %d) on axis %q", ErrCoverage, extent, r.Start, axis)
		}
		if r.Start < extent {
			return 0, fmt.Errorf("%w: overlap at %v on axis %q", ErrCoverage, r, axis)
		}
		extent = r.Stop
	}
	return extent, nil
}

// Tile is one partition: its ranges in axis order and its local data
type Tile struct {
	Box  []Range
	Data *NodeData
}

func volume(box []Range) int64 {
	v := int64(1)
	for _, r := range box {
		v *= r.Len()
	}
	return v
}

func overlaps(a, b []Range) bool {
	for d := range a {
		if !a[d].Overlaps(b[d]) {
			return false
		}
	}
	return true
}

// Assemble builds the global array from tiles given in any order
func Assemble(tiles []Tile) (*NodeData, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("%w: no tiles", ErrCoverage)
	}
	rank := tiles[0].Data.Rank()
	dtype := tiles[0].Data.DType()
	extent := make([]int64, rank)
	var nonEmpty []Tile
	for _, t := range tiles {
		if t.Data.Rank() != rank || len(t.Box) != rank {
			return nil, fmt.Errorf("%w: tiles of rank %d and %d cannot be combined", ErrShape, rank, t.Data.Rank())
		}
		for d, r := range t.Box {
			if r.Len() != int64(t.Data.Dim(d)) {
				return nil, fmt.Errorf("%w: range %v does not match local extent %d", ErrAnnotation, r, t.Data.Dim(d))
			}
			if r.Start < 0 {
				return nil, fmt.Errorf("%w: negative range %v", ErrCoverage, r)
			}
		}
		dtype = Promote(dtype, t.Data.DType())
		if volume(t.Box) == 0 {
			continue
		}
		for d, r := range t.Box {
			extent[d] = max(extent[d], r.Stop)
		}
		nonEmpty = append(nonEmpty, t)
	}
	var total int64
	for i, t := range nonEmpty {
		total += volume(t.Box)
		for _, o := range nonEmpty[:i] {
			if overlaps(t.Box, o.Box) {
				return nil, fmt.Errorf("%w: tiles %v and %v overlap", ErrCoverage, t.Box, o.Box)
			}
		}
	}
	if total != volume(extentBox(extent)) {
		return nil, fmt.Errorf("%w: tiles cover %d of %d elements of %v", ErrCoverage, total, volume(extentBox(extent)), extent)
	}
	shape := make([]int, rank)
	for d := range extent {
		shape[d] = int(extent[d])
	}
	result := Zeros(dtype, shape)
	for _, t := range nonEmpty {
		dst, err := Extract(result, t.Box)
		if err != nil {
			return nil, err
		}
		if err := dst.Assign(t.Data); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func extentBox(extent []int64) []Range {
	box := make([]Range, len(extent))
	for d, e := range extent {
		box[d] = Range{0, e}
	}
	return box
}

// Extract returns a view of data restricted to box (global = local coordinates)
func Extract(data *NodeData, box []Range) (*NodeData, error) {
	v := data
	for d, r := range box {
		var err error
		v, err = v.Slice(d, int(r.Start), int(r.Stop))
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}
