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
package dist

import (
	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/kernel"
	"github.com/launix-de/arraytree/tree"
)

// globalIndex resolves k against the tile range r; negative k needs the whole axis locally
func globalIndex(k int64, r ir.Range, ann *ir.Annotation) int64 {
	if k >= 0 {
		return k
	}
	if ann.Locality != nil && ann.Locality.Count > 1 {
		fail(tree.DomainError, "negative index %d needs the global extent of %s; use shape_d", k, ann.Name)
	}
	return k + r.Stop
}

// other returns the matrix axis that is not axis
func other(axis string) string {
	if axis == "rows" {
		return "columns"
	}
	return "rows"
}

/*
SliceD returns the part of row (axis "rows") or column (axis "columns") k
of a distributed matrix that lives on this locality. The result is a vector
named <name>_sliced whose "columns" range is the tile range of the remaining
axis. Localities that do not own k get an empty vector with an empty range.
*/
func SliceD(v tree.Value, k int64, axis string) tree.Value {
	data := tree.ToArray(v)
	if data.Rank() != 2 {
		fail(tree.ShapeMismatch, "distributed slicing needs a matrix, found rank %d", data.Rank())
	}
	d := ir.AxisIndex(2, axis)
	ann := v.Annotation()
	if ann == nil {
		part, err := data.Index(d, kernel.Index(k, data.Dim(d)))
		if err != nil {
			panic(err)
		}
		return tree.NewArray(part.Copy())
	}
	norm, err := ann.Normalize(data.Shape())
	if err != nil {
		panic(err)
	}
	r := norm.Tiles[axis]
	k = globalIndex(k, r, norm)
	var loc *ir.Locality
	if norm.Locality != nil {
		l := *norm.Locality
		loc = &l
	}
	name := norm.Name + "_sliced"
	if !r.Contains(k) {
		empty := ir.Zeros(data.DType(), []int{0})
		return tree.NewArray(empty).WithAnnotation(ir.NewAnnotation(name, loc, map[string]ir.Range{"columns": {}}))
	}
	part, err := data.Index(d, int(k-r.Start))
	if err != nil {
		panic(err)
	}
	return tree.NewArray(part.Copy()).WithAnnotation(ir.NewAnnotation(name, loc, map[string]ir.Range{"columns": norm.Tiles[other(axis)]}))
}

/*
storeSliceD writes v into row or column k of the local tile. v is either a
scalar or the whole (global) row; only the part inside this tile is
written. Localities that do not own k leave their tile alone.
*/
func storeSliceD(data *ir.NodeData, ann *ir.Annotation, k int64, axis string, v tree.Value) error {
	if data.Rank() != 2 {
		return tree.Errorf(tree.ShapeMismatch, "distributed slicing needs a matrix, found rank %d", data.Rank())
	}
	d := ir.AxisIndex(2, axis)
	src := tree.ToArray(v)
	if ann == nil {
		target, err := data.Index(d, kernel.Index(k, data.Dim(d)))
		if err != nil {
			return err
		}
		return target.Assign(src)
	}
	norm, err := ann.Normalize(data.Shape())
	if err != nil {
		return err
	}
	r := norm.Tiles[axis]
	k = globalIndex(k, r, norm)
	if !r.Contains(k) {
		return nil
	}
	target, err := data.Index(d, int(k-r.Start))
	if err != nil {
		return err
	}
	if src.Rank() == 0 {
		return target.Assign(src)
	}
	if src.Rank() != 1 {
		return tree.Errorf(tree.ShapeMismatch, "cannot store an array of rank %d into a row", src.Rank())
	}
	mine := norm.Tiles[other(axis)]
	overlap := mine.Intersect(ir.Range{Start: 0, Stop: int64(src.Dim(0))})
	if overlap.Empty() {
		return nil
	}
	dst, err := target.Slice(0, int(overlap.Start-mine.Start), int(overlap.Stop-mine.Start))
	if err != nil {
		return err
	}
	part, err := src.Slice(0, int(overlap.Start), int(overlap.Stop))
	if err != nil {
		return err
	}
	return dst.Assign(part)
}

// gatherForStore makes an annotated value global before it is written
func gatherForStore(ctx tree.EvalContext, v tree.Value) (tree.Value, error) {
	if v.Annotation() == nil {
		return v, nil
	}
	return Gather(ctx.Context(), FromContext(ctx.Context()), v)
}

func initSlicing() {
	for _, s := range []struct{ name, axis, desc string }{
		{"slice_row_d", "rows", "the local part of row k of a distributed matrix; store(slice_row_d(a, k), v) writes it"},
		{"slice_column_d", "columns", "the local part of column k of a distributed matrix; store(slice_column_d(a, k), v) writes it"},
	} {
		axis := s.axis
		tree.Declare(&tree.Declaration{
			Name: s.name, Desc: s.desc,
			MinParameter: 2, MaxParameter: 2,
			Params: []tree.DeclarationParameter{
				{Name: "a", Type: "array", Desc: "local tile of a matrix"},
				{Name: "k", Type: "int", Desc: "global index"},
			},
			Returns:  "array",
			Foldable: true,
			Fn: func(a ...tree.Value) tree.Value {
				return SliceD(a[0], tree.ToInt(a[1]), axis)
			},
		})
		tree.DeclareStoreTarget(s.name, tree.StoreTarget{
			Prepare: gatherForStore,
			Apply: func(data *ir.NodeData, ann *ir.Annotation, index []tree.Value, v tree.Value) error {
				if len(index) != 1 {
					return tree.Errorf(tree.ArityMismatch, "store into a distributed slice takes one index")
				}
				return storeSliceD(data, ann, tree.ToInt(index[0]), axis, v)
			},
		})
	}
}
