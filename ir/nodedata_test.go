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
)

func matrix() *NodeData {
	// [[1, 2, 3], [4, 5, 6]]
	return NewInt64([]int{2, 3}, []int64{1, 2, 3, 4, 5, 6})
}

func TestViewsReadThrough(t *testing.T) {
	m := matrix()
	col, err := m.Index(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !col.IsRef() || col.String() != "[2, 5]" {
		t.Errorf("column view: %v", col)
	}
	row, _ := m.Index(0, 1)
	if row.String() != "[4, 5, 6]" {
		t.Errorf("row view: %v", row)
	}
	part, _ := row.Slice(0, 1, 3)
	if part.String() != "[5, 6]" {
		t.Errorf("slice of view: %v", part)
	}
}

func TestAssignThroughView(t *testing.T) {
	m := matrix()
	col, _ := m.Index(1, 2)
	if err := col.Assign(NewFloat64([]int{2}, []float64{-1, -2})); err != nil {
		t.Fatal(err)
	}
	if m.String() != "[[1, 2, -1], [4, 5, -2]]" {
		t.Errorf("after column assign: %v", m)
	}
	if err := col.Assign(NewInt64([]int{3}, []int64{1, 2, 3})); !errors.Is(err, ErrShape) {
		t.Errorf("expected shape error, got %v", err)
	}
	row, _ := m.Index(0, 0)
	row.Assign(ScalarInt(0))
	if m.String() != "[[0, 0, 0], [4, 5, -2]]" {
		t.Errorf("after scalar broadcast: %v", m)
	}
}

func TestCopyDetaches(t *testing.T) {
	m := matrix()
	row, _ := m.Index(0, 0)
	c := row.Copy()
	c.SetInt(0, 99)
	if m.Int(0) != 1 || c.IsRef() {
		t.Errorf("copy must own its buffer")
	}
}

func TestEqualAcrossDTypes(t *testing.T) {
	a := NewInt64([]int{2}, []int64{1, 2})
	b := NewFloat64([]int{2}, []float64{1, 2})
	if !a.Equal(b) {
		t.Errorf("numeric equality across dtypes")
	}
	if a.Equal(NewInt64([]int{2, 1}, []int64{1, 2})) {
		t.Errorf("equality must be shape sensitive")
	}
}

func TestAnnotationNormalize(t *testing.T) {
	a := NewAnnotation("a", nil, map[string]Range{"columns": {3, 6}})
	n, err := a.Normalize([]int{4, 3})
	if err != nil {
		t.Fatal(err)
	}
	if r, _ := n.Range("rows"); r != (Range{0, 4}) {
		t.Errorf("missing axis not filled: %v", n)
	}
	if _, err := a.Normalize([]int{4, 2}); !errors.Is(err, ErrAnnotation) {
		t.Errorf("extent mismatch not detected")
	}
	bad := NewAnnotation("a", nil, map[string]Range{"pages": {0, 3}})
	if _, err := bad.Normalize([]int{3}); !errors.Is(err, ErrAnnotation) {
		t.Errorf("invalid axis not detected")
	}
	if _, err := NewAnnotation("", nil, nil).Normalize([]int{3}); !errors.Is(err, ErrAnnotation) {
		t.Errorf("empty name not detected")
	}
}
