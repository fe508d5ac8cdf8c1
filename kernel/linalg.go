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
package kernel

import (
	"math"

	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/tree"
)

const singularEpsilon = 1e-12

// Dot is the inner product of vectors and the matrix product otherwise
func Dot(a, b *ir.NodeData) *ir.NodeData {
	if a.Rank() == 0 || b.Rank() == 0 {
		mul := &binaryOp{name: "dot", ints: func(x, y int64) int64 { return x * y }, floats: func(x, y float64) float64 { return x * y }}
		return tree.ToArray(mul.apply(tree.NewArray(a), tree.NewArray(b)))
	}
	if a.Rank() > 2 || b.Rank() > 2 {
		fail(tree.ShapeMismatch, "dot supports vectors and matrices, found ranks %d and %d", a.Rank(), b.Rank())
	}
	// lift vectors to matrices: a row vector on the left, a column vector on the right
	m, k := 1, a.Dim(0)
	if a.Rank() == 2 {
		m, k = a.Dim(0), a.Dim(1)
	}
	k2, n := b.Dim(0), 1
	if b.Rank() == 2 {
		n = b.Dim(1)
	}
	if k != k2 {
		fail(tree.ShapeMismatch, "dot: inner extents %d and %d differ", k, k2)
	}
	dtype := ir.Promote(ir.Promote(a.DType(), b.DType()), ir.Int64)
	var shape []int
	switch {
	case a.Rank() == 2 && b.Rank() == 2:
		shape = []int{m, n}
	case a.Rank() == 2:
		shape = []int{m}
	case b.Rank() == 2:
		shape = []int{n}
	}
	r := ir.Zeros(dtype, shape)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out := i*n + j
			if dtype == ir.Float64 {
				var s float64
				for l := 0; l < k; l++ {
					s += a.Float(i*k+l) * b.Float(l*n+j)
				}
				r.SetFloat(out, s)
			} else {
				var s int64
				for l := 0; l < k; l++ {
					s += a.Int(i*k+l) * b.Int(l*n+j)
				}
				r.SetInt(out, s)
			}
		}
	}
	return r
}

// Transpose reverses the axis order
func Transpose(a *ir.NodeData) *ir.NodeData {
	rank := a.Rank()
	if rank < 2 {
		return a
	}
	in := a.Shape()
	out := make([]int, rank)
	for d := range out {
		out[d] = in[rank-1-d]
	}
	r := ir.Zeros(a.DType(), out)
	idx := make([]int, rank)
	size := r.Size()
	for k := 0; k < size; k++ {
		// k is row-major in out; the source index is the reversed multi index
		rest := k
		for d := rank - 1; d >= 0; d-- {
			idx[d] = rest % out[d]
			rest /= out[d]
		}
		src := 0
		for d := 0; d < rank; d++ {
			src = src*in[d] + idx[rank-1-d]
		}
		switch a.DType() {
		case ir.Bool:
			r.SetBool(k, a.Bool(src))
		case ir.Int64:
			r.SetInt(k, a.Int(src))
		default:
			r.SetFloat(k, a.Float(src))
		}
	}
	return r
}

func transposeAnnotation(ann *ir.Annotation, rank int) *ir.Annotation {
	if ann == nil || rank < 2 {
		return ann
	}
	axes := ir.Axes(rank)
	c := ann.Clone()
	c.Tiles = make(map[string]ir.Range, len(ann.Tiles))
	for i, axis := range axes {
		if r, ok := ann.Tiles[axes[rank-1-i]]; ok {
			c.Tiles[axis] = r
		}
	}
	return c
}

// Inverse inverts a square matrix by Gauss-Jordan elimination with partial pivoting
func Inverse(a *ir.NodeData) *ir.NodeData {
	if a.Rank() != 2 || a.Dim(0) != a.Dim(1) {
		fail(tree.ShapeMismatch, "inverse needs a square matrix, found shape %v", a.Shape())
	}
	n := a.Dim(0)
	m := a.AsType(ir.Float64)
	inv := Identity(n)
	at := func(x *ir.NodeData, i, j int) float64 { return x.Float(i*n + j) }
	set := func(x *ir.NodeData, i, j int, v float64) { x.SetFloat(i*n+j, v) }
	swap := func(x *ir.NodeData, i, j int) {
		for c := 0; c < n; c++ {
			vi, vj := at(x, i, c), at(x, j, c)
			set(x, i, c, vj)
			set(x, j, c, vi)
		}
	}
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(at(m, row, col)) > math.Abs(at(m, pivot, col)) {
				pivot = row
			}
		}
		if math.Abs(at(m, pivot, col)) < singularEpsilon {
			fail(tree.DomainError, "matrix is singular")
		}
		if pivot != col {
			swap(m, pivot, col)
			swap(inv, pivot, col)
		}
		p := at(m, col, col)
		for c := 0; c < n; c++ {
			set(m, col, c, at(m, col, c)/p)
			set(inv, col, c, at(inv, col, c)/p)
		}
		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			f := at(m, row, col)
			if f == 0 {
				continue
			}
			for c := 0; c < n; c++ {
				set(m, row, c, at(m, row, c)-f*at(m, col, c))
				set(inv, row, c, at(inv, row, c)-f*at(inv, col, c))
			}
		}
	}
	return inv
}

func Identity(n int) *ir.NodeData {
	r := ir.Zeros(ir.Float64, []int{n, n})
	for i := 0; i < n; i++ {
		r.SetFloat(i*n+i, 1)
	}
	return r
}

func initLinalg() {
	tree.DeclareTitle("Linear algebra")
	tree.Declare(&tree.Declaration{
		Name: "dot", Desc: "inner product of two vectors, matrix-vector or matrix-matrix product",
		MinParameter: 2, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "left operand"},
			{Name: "b", Type: "array", Desc: "right operand"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			return unpack(Dot(tree.ToArray(a[0]), tree.ToArray(a[1])))
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "transpose", Desc: "reverses the order of the axes; tile ranges follow their axes",
		MinParameter: 1, MaxParameter: 1,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "input"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			x := tree.ToArray(a[0])
			return tree.NewArray(Transpose(x)).WithAnnotation(transposeAnnotation(a[0].Annotation(), x.Rank()))
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "inverse", Desc: "inverse of a square matrix; fails for singular matrices",
		MinParameter: 1, MaxParameter: 1,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "square matrix"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			return tree.NewArray(Inverse(tree.ToArray(a[0])))
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "identity", Desc: "n x n identity matrix",
		MinParameter: 1, MaxParameter: 1,
		Params: []tree.DeclarationParameter{
			{Name: "n", Type: "int", Desc: "extent"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			return tree.NewArray(Identity(dim(tree.ToInt(a[0]))))
		},
	})
}
