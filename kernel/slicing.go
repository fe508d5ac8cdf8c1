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

/*
View applies slice arguments to data, one per leading axis:

	nil              the whole axis
	i                a single index (the axis disappears)
	list(start, stop) a half open range; negative bounds count from the end

The result shares the buffer of data.
*/
func View(data *ir.NodeData, specs []tree.Value) *ir.NodeData {
	if len(specs) > data.Rank() {
		fail(tree.ShapeMismatch, "%d slice arguments for an array of rank %d", len(specs), data.Rank())
	}
	v := data
	axis := 0
	for _, spec := range specs {
		n := v.Dim(axis)
		var err error
		switch spec.Kind() {
		case tree.KindNil:
			axis++
			continue
		case tree.KindList:
			l := spec.List()
			if len(l) != 2 {
				fail(tree.TypeMismatch, "a slice range is list(start, stop)")
			}
			start, stop := bound(l[0], 0, n), bound(l[1], n, n)
			if stop < start {
				stop = start
			}
			v, err = v.Slice(axis, start, stop)
			axis++
		default:
			v, err = v.Index(axis, Index(tree.ToInt(spec), n))
		}
		check(err)
	}
	return v
}

// bound normalizes a range bound and clamps it to [0, n]
func bound(v tree.Value, dflt, n int) int {
	if v.IsNil() {
		return dflt
	}
	i := tree.ToInt(v)
	if i < 0 {
		i += int64(n)
	}
	if i < 0 {
		return 0
	}
	if i > int64(n) {
		return n
	}
	return int(i)
}

func assignView(data *ir.NodeData, specs []tree.Value, v tree.Value) error {
	target := View(data, specs)
	return target.Assign(tree.ToArray(v))
}

func initSlicing() {
	tree.DeclareTitle("Slicing")
	tree.Declare(&tree.Declaration{
		Name: "slice", Desc: "selects rows (and columns) of an array; store(slice(v, ...), x) writes into v",
		MinParameter: 2, MaxParameter: 1 + ir.MaxRank,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "input"},
			{Name: "rows", Type: "any", Desc: "index, list(start, stop) or nil for the first axis"},
			{Name: "columns", Type: "any", Desc: "index, list(start, stop) or nil for the second axis"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			return unpack(View(tree.ToArray(a[0]), a[1:]).Copy())
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "slice_row", Desc: "row i of a matrix (element i of a vector)",
		MinParameter: 2, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "input"},
			{Name: "i", Type: "int", Desc: "row index; negative counts from the end"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			return unpack(View(tree.ToArray(a[0]), a[1:2]).Copy())
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "slice_column", Desc: "column j of a matrix",
		MinParameter: 2, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "matrix"},
			{Name: "j", Type: "int", Desc: "column index; negative counts from the end"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			x := tree.ToArray(a[0])
			if x.Rank() < 2 {
				fail(tree.ShapeMismatch, "slice_column needs a matrix, found rank %d", x.Rank())
			}
			return unpack(View(x, []tree.Value{tree.NewNil(), a[1]}).Copy())
		},
	})

	tree.DeclareStoreTarget("slice", tree.StoreTarget{
		Apply: func(data *ir.NodeData, ann *ir.Annotation, index []tree.Value, v tree.Value) error {
			return assignView(data, index, v)
		},
	})
	tree.DeclareStoreTarget("slice_row", tree.StoreTarget{
		Apply: func(data *ir.NodeData, ann *ir.Annotation, index []tree.Value, v tree.Value) error {
			return assignView(data, index[:1], v)
		},
	})
	tree.DeclareStoreTarget("slice_column", tree.StoreTarget{
		Apply: func(data *ir.NodeData, ann *ir.Annotation, index []tree.Value, v tree.Value) error {
			if data.Rank() < 2 {
				return tree.Errorf(tree.ShapeMismatch, "slice_column needs a matrix, found rank %d", data.Rank())
			}
			return assignView(data, []tree.Value{tree.NewNil(), index[0]}, v)
		},
	})
}
