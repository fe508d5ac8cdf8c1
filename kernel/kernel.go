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

// Package kernel holds the numeric primitives. Every kernel is a plain
// Fn(args...) Value that panics with a *tree.Error on bad input.
package kernel

import (
	"sync"

	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/tree"
)

var initOnce sync.Once

// Init registers all numeric primitives
func Init() {
	tree.Init()
	initOnce.Do(func() {
		initElementwise()
		initReduce()
		initLinalg()
		initConstruct()
		initSlicing()
	})
}

func fail(kind tree.ErrorKind, format string, args ...any) {
	panic(tree.Errorf(kind, format, args...))
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}

// Shape reads a shape argument: an int, a list of ints or an int vector
func Shape(v tree.Value) []int {
	switch v.Kind() {
	case tree.KindNil:
		return nil
	case tree.KindInt:
		return []int{dim(v.Int())}
	case tree.KindList:
		l := v.List()
		if len(l) > ir.MaxRank {
			fail(tree.ShapeMismatch, "rank %d exceeds maximum rank %d", len(l), ir.MaxRank)
		}
		shape := make([]int, len(l))
		for i, e := range l {
			shape[i] = dim(tree.ToInt(e))
		}
		return shape
	case tree.KindArray:
		a := v.Array()
		if a.Rank() > 1 || a.Size() > ir.MaxRank {
			fail(tree.ShapeMismatch, "shape must be a vector of at most %d extents", ir.MaxRank)
		}
		shape := make([]int, a.Size())
		for i := range shape {
			shape[i] = dim(a.Int(i))
		}
		return shape
	}
	fail(tree.TypeMismatch, "expected a shape, found %s", v.Kind())
	return nil
}

func dim(d int64) int {
	if d < 0 {
		fail(tree.DomainError, "negative extent %d", d)
	}
	return int(d)
}

// ShapeValue converts a shape into the list(...) form the language uses
func ShapeValue(shape []int) tree.Value {
	l := make([]int64, len(shape))
	for i, d := range shape {
		l[i] = int64(d)
	}
	return tree.NewIntList(l...)
}

// Index resolves a possibly negative index against extent n
func Index(i int64, n int) int {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		fail(tree.DomainError, "index %d out of range for extent %d", i, n)
	}
	return int(i)
}

// DTypeOf picks the element type for an optional dtype argument
func DTypeOf(dtype tree.Value, fallback ir.DType) ir.DType {
	if dtype.IsNil() {
		return fallback
	}
	d, err := ir.ParseDType(tree.ToString(dtype))
	check(err)
	return d
}

// scalarDType is the element type a plain scalar value maps to
func scalarDType(v tree.Value) ir.DType {
	switch v.Kind() {
	case tree.KindBool:
		return ir.Bool
	case tree.KindInt:
		return ir.Int64
	}
	return ir.Float64
}

// unpack turns rank 0 results into plain scalars
func unpack(a *ir.NodeData) tree.Value {
	if a.Rank() > 0 {
		return tree.NewArray(a)
	}
	switch a.DType() {
	case ir.Bool:
		return tree.NewBool(a.Bool(0))
	case ir.Int64:
		return tree.NewInt(a.Int(0))
	}
	return tree.NewFloat(a.Float(0))
}
