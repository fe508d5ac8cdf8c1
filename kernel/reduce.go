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
	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/tree"
)

// Sum adds up all elements, or the elements along axis (negative counts from the end)
func Sum(a *ir.NodeData, axis tree.Value, keepdims bool) *ir.NodeData {
	dtype := ir.Promote(a.DType(), ir.Int64)
	rank := a.Rank()
	if axis.IsNil() {
		r := ir.Zeros(dtype, nil)
		size := a.Size()
		for k := 0; k < size; k++ {
			if dtype == ir.Float64 {
				r.SetFloat(0, r.Float(0)+a.Float(k))
			} else {
				r.SetInt(0, r.Int(0)+a.Int(k))
			}
		}
		if keepdims && rank > 0 {
			ones := make([]int, rank)
			for i := range ones {
				ones[i] = 1
			}
			r, _ = r.Reshape(ones)
		}
		return r
	}
	if rank == 0 {
		fail(tree.ShapeMismatch, "cannot reduce a scalar along an axis")
	}
	ax := Index(tree.ToInt(axis), rank)
	shape := a.Shape()
	shape = append(shape[:ax], shape[ax+1:]...)
	r := ir.Zeros(dtype, shape)
	size := r.Size()
	for i := 0; i < a.Dim(ax); i++ {
		part, err := a.Index(ax, i)
		check(err)
		for k := 0; k < size; k++ {
			if dtype == ir.Float64 {
				r.SetFloat(k, r.Float(k)+part.Float(k))
			} else {
				r.SetInt(k, r.Int(k)+part.Int(k))
			}
		}
	}
	if keepdims {
		kept := a.Shape()
		kept[ax] = 1
		r, _ = r.Reshape(kept)
	}
	return r
}

func initReduce() {
	tree.DeclareTitle("Reductions")
	axisParams := []tree.DeclarationParameter{
		{Name: "a", Type: "array", Desc: "input"},
		{Name: "axis", Type: "int", Desc: "axis to reduce; all axes if nil", Default: func() tree.Value { return tree.NewNil() }},
		{Name: "keepdims", Type: "bool", Desc: "keep the reduced axes with extent 1", Default: func() tree.Value { return tree.NewBool(false) }},
	}
	tree.Declare(&tree.Declaration{
		Name: "sum", Desc: "sum of the elements; sum(v) is sum(v, nil, false)",
		MinParameter: 1, MaxParameter: 3,
		Params:   axisParams,
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			return unpack(Sum(tree.ToArray(a[0]), a[1], tree.ToBool(a[2])))
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "mean", Desc: "arithmetic mean of the elements",
		MinParameter: 1, MaxParameter: 3,
		Params:   axisParams,
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			x := tree.ToArray(a[0])
			n := x.Size()
			if !a[1].IsNil() {
				n = x.Dim(Index(tree.ToInt(a[1]), x.Rank()))
			}
			if n == 0 {
				fail(tree.DomainError, "mean of an empty array")
			}
			s := Sum(x, a[1], tree.ToBool(a[2])).AsType(ir.Float64)
			for k := 0; k < s.Size(); k++ {
				s.SetFloat(k, s.Float(k)/float64(n))
			}
			return unpack(s)
		},
	})
}
