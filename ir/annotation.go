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
	"strings"
)

var ErrAnnotation = errors.New("invalid annotation")

var axisOrder = [MaxRank]string{"quats", "pages", "rows", "columns"}

// Axes names the axes of an array of the given rank, outermost first
func Axes(rank int) []string {
	if rank <= 0 || rank > MaxRank {
		return nil
	}
	return axisOrder[MaxRank-rank:]
}

// AxisIndex returns the dimension index of axis for rank, or -1
func AxisIndex(rank int, axis string) int {
	for i, a := range Axes(rank) {
		if a == axis {
			return i
		}
	}
	return -1
}

type Range struct {
	Start, Stop int64
}

func (r Range) Len() int64 {
	if r.Stop < r.Start {
		return 0
	}
	return r.Stop - r.Start
}

func (r Range) Empty() bool { return r.Len() == 0 }

func (r Range) Contains(i int64) bool { return i >= r.Start && i < r.Stop }

func (r Range) Overlaps(o Range) bool {
	return !r.Empty() && !o.Empty() && r.Start < o.Stop && o.Start < r.Stop
}

// Intersect returns the common part of two ranges (possibly empty)
func (r Range) Intersect(o Range) Range {
	s, e := max(r.Start, o.Start), min(r.Stop, o.Stop)
	if e < s {
		e = s
	}
	return Range{s, e}
}

func (r Range) String() string { return fmt.Sprintf("[%d, %d)", r.Start, r.Stop) }

type Locality struct {
	ID, Count uint32
}

/*
Annotation describes one partition of a logical distributed array:
the array's name, optionally the owning locality, and the half-open range
covered on each axis.
*/
type Annotation struct {
	Name     string
	Locality *Locality
	Tiles    map[string]Range
}

func NewAnnotation(name string, loc *Locality, tiles map[string]Range) *Annotation {
	t := make(map[string]Range, len(tiles))
	for k, v := range tiles {
		t[k] = v
	}
	return &Annotation{Name: name, Locality: loc, Tiles: t}
}

func (a *Annotation) Clone() *Annotation {
	c := NewAnnotation(a.Name, nil, a.Tiles)
	if a.Locality != nil {
		l := *a.Locality
		c.Locality = &l
	}
	return c
}

func (a *Annotation) WithName(name string) *Annotation {
	c := a.Clone()
	c.Name = name
	return c
}

// Normalize checks the tiles against shape and fills missing axes with [0, extent)
func (a *Annotation) Normalize(shape []int) (*Annotation, error) {
	if a.Name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrAnnotation)
	}
	rank := len(shape)
	if a.Locality != nil && a.Locality.ID >= a.Locality.Count {
		return nil, fmt.Errorf("%w: locality %d out of range for %d localities", ErrAnnotation, a.Locality.ID, a.Locality.Count)
	}
	c := a.Clone()
	for axis, r := range a.Tiles {
		d := AxisIndex(rank, axis)
		if d < 0 {
			return nil, fmt.Errorf("%w: axis %q is not valid for an array of rank %d", ErrAnnotation, axis, rank)
		}
		if r.Start < 0 || r.Stop < r.Start {
			return nil, fmt.Errorf("%w: malformed range %v on axis %q", ErrAnnotation, r, axis)
		}
		if r.Len() != int64(shape[d]) {
			return nil, fmt.Errorf("%w: range %v on axis %q does not match extent %d", ErrAnnotation, r, axis, shape[d])
		}
	}
	for d, axis := range Axes(rank) {
		if _, ok := c.Tiles[axis]; !ok {
			c.Tiles[axis] = Range{0, int64(shape[d])}
		}
	}
	return c, nil
}

// Box returns the ranges in axis order for the given rank
func (a *Annotation) Box(rank int) []Range {
	axes := Axes(rank)
	box := make([]Range, len(axes))
	for d, axis := range axes {
		box[d] = a.Tiles[axis]
	}
	return box
}

func (a *Annotation) Range(axis string) (Range, bool) {
	r, ok := a.Tiles[axis]
	return r, ok
}

func (a *Annotation) Equal(b *Annotation) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || len(a.Tiles) != len(b.Tiles) {
		return false
	}
	if (a.Locality == nil) != (b.Locality == nil) {
		return false
	}
	if a.Locality != nil && *a.Locality != *b.Locality {
		return false
	}
	for k, v := range a.Tiles {
		if w, ok := b.Tiles[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func (a *Annotation) String() string {
	var b strings.Builder
	b.WriteString(a.Name)
	if a.Locality != nil {
		fmt.Fprintf(&b, "@%d/%d", a.Locality.ID, a.Locality.Count)
	}
	keys := make([]string, 0, len(a.Tiles))
	for k := range a.Tiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s%v", k, a.Tiles[k])
	}
	return b.String()
}
