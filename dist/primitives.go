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
	"context"
	"strings"
	"sync"

	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/kernel"
	"github.com/launix-de/arraytree/tree"
)

var initOnce sync.Once

// Init registers the distributed primitives (and everything they build on)
func Init() {
	kernel.Init()
	initOnce.Do(func() {
		initLocalities()
		initTiling()
		initSlicing()
	})
}

func fail(kind tree.ErrorKind, format string, args ...any) {
	panic(tree.Errorf(kind, format, args...))
}

// OnLocality evaluates all operands, then calls fn with the locality of the running program
func OnLocality(fn func(ctx context.Context, l *Locality, a []tree.Value) (tree.Value, error)) func(*tree.Node, tree.EvalContext) *tree.Future {
	return func(n *tree.Node, ctx tree.EvalContext) *tree.Future {
		return tree.Dataflow(n.EvalOperands(ctx), func(args []tree.Value) (tree.Value, error) {
			args = n.Declaration().Bind(args)
			return n.Guard(func() (tree.Value, error) {
				return fn(ctx.Context(), FromContext(ctx.Context()), args)
			})
		})
	}
}

func nilDefault() tree.Value { return tree.NewNil() }

func initLocalities() {
	tree.DeclareTitle("Localities")
	tree.Declare(&tree.Declaration{
		Name: "find_all_localities", Desc: "ids of all localities, ascending",
		MinParameter: 0, MaxParameter: 0,
		Returns: "list",
		Eval: OnLocality(func(ctx context.Context, l *Locality, a []tree.Value) (tree.Value, error) {
			ids := l.Localities()
			result := make([]int64, len(ids))
			for i, id := range ids {
				result[i] = int64(id)
			}
			return tree.NewIntList(result...), nil
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "find_here", Desc: "id of the locality running the program",
		MinParameter: 0, MaxParameter: 0,
		Returns: "int",
		Eval: OnLocality(func(ctx context.Context, l *Locality, a []tree.Value) (tree.Value, error) {
			return tree.NewInt(int64(l.ID())), nil
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "num_localities", Desc: "number of localities",
		MinParameter: 0, MaxParameter: 0,
		Returns: "int",
		Eval: OnLocality(func(ctx context.Context, l *Locality, a []tree.Value) (tree.Value, error) {
			return tree.NewInt(int64(l.Count())), nil
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "locality", Desc: "list(id, count) of the running locality",
		MinParameter: 0, MaxParameter: 0,
		Returns: "list",
		Eval: OnLocality(func(ctx context.Context, l *Locality, a []tree.Value) (tree.Value, error) {
			return tree.NewIntList(int64(l.ID()), int64(l.Count())), nil
		}),
	})
}

// tileAxis picks the axis to split: the requested one, else the largest (ties go to the outermost)
func tileAxis(shape []int, tiling tree.Value) string {
	rank := len(shape)
	if !tiling.IsNil() {
		axis := strings.TrimSuffix(tree.ToString(tiling), "s") + "s"
		if ir.AxisIndex(rank, axis) < 0 {
			fail(tree.InvalidAnnotation, "tiling %s is not valid for an array of rank %d", tiling, rank)
		}
		return axis
	}
	best := 0
	for d := 1; d < rank; d++ {
		if shape[d] > shape[best] {
			best = d
		}
	}
	return ir.Axes(rank)[best]
}

// participant resolves the optional this_id and count arguments
func participant(l *Locality, id, count tree.Value) (uint32, uint32) {
	i, n := int64(l.ID()), int64(l.Count())
	if !id.IsNil() {
		i = tree.ToInt(id)
	}
	if !count.IsNil() {
		n = tree.ToInt(count)
	}
	if n <= 0 || i < 0 || i >= n {
		fail(tree.InvalidAnnotation, "locality %d out of range for %d localities", i, n)
	}
	return uint32(i), uint32(n)
}

/*
tiled creates this locality's tile of a new distributed array

	shape, this_id, count, name, tiling, dtype

and lets fill initialize the local data.
*/
func tiled(l *Locality, a []tree.Value, prefix string, dtype ir.DType, fill func(*ir.NodeData)) tree.Value {
	shape := kernel.Shape(a[0])
	id, count := participant(l, a[1], a[2])
	if len(shape) == 0 {
		data := ir.Zeros(dtype, nil)
		fill(data)
		return tree.NewArray(data)
	}
	var name string
	if a[3].IsNil() {
		name = l.NextName(prefix)
	} else {
		name = tree.ToString(a[3])
	}
	axis := tileAxis(shape, a[4])
	d := ir.AxisIndex(len(shape), axis)
	r := ir.TileRange(int64(shape[d]), id, count)
	local := append([]int(nil), shape...)
	local[d] = int(r.Len())
	data := ir.Zeros(dtype, local)
	fill(data)
	v, err := Annotate(tree.NewArray(data), ir.NewAnnotation(name, &ir.Locality{ID: id, Count: count}, map[string]ir.Range{axis: r}))
	if err != nil {
		panic(err)
	}
	return v
}

// Gather assembles the global array from the tiles of all participating localities
func Gather(ctx context.Context, l *Locality, v tree.Value) (tree.Value, error) {
	ann := v.Annotation()
	if ann == nil {
		return v, nil
	}
	if _, err := v.AsArray(); err != nil {
		return tree.NewNil(), err
	}
	tiles, err := l.exchange(ctx, "all_gather_d:"+ann.Name, l.participants(ann), v)
	if err != nil {
		return tree.NewNil(), err
	}
	parts := make([]ir.Tile, 0, len(tiles))
	for p, t := range tiles {
		a := t.Annotation()
		if a == nil || a.Name != ann.Name {
			return tree.NewNil(), tree.Errorf(tree.InvalidAnnotation, "locality %d contributed %v instead of a tile of %s", p, a, ann.Name)
		}
		data, err := t.AsArray()
		if err != nil {
			return tree.NewNil(), err
		}
		norm, err := a.Normalize(data.Shape())
		if err != nil {
			return tree.NewNil(), err
		}
		parts = append(parts, ir.Tile{Box: norm.Box(data.Rank()), Data: data})
	}
	global, err := ir.Assemble(parts)
	if err != nil {
		return tree.NewNil(), err
	}
	return tree.NewArray(global), nil
}

// Retile gathers v and keeps the tile this locality owns under tiling
func Retile(ctx context.Context, l *Locality, v tree.Value, tiling tree.Value) (tree.Value, error) {
	if same, ok := unchangedTiling(v, tiling); ok {
		return same, nil
	}
	global, err := Gather(ctx, l, v)
	if err != nil {
		return tree.NewNil(), err
	}
	data, err := global.AsArray()
	if err != nil {
		return tree.NewNil(), err
	}
	if data.Rank() == 0 {
		return tree.NewNil(), tree.Errorf(tree.InvalidAnnotation, "scalars cannot be tiled")
	}
	name := "retiled"
	loc := &ir.Locality{ID: l.ID(), Count: l.Count()}
	if ann := v.Annotation(); ann != nil {
		name = ann.Name
		if ann.Locality != nil {
			loc = &ir.Locality{ID: ann.Locality.ID, Count: ann.Locality.Count}
		}
	}
	var tiles map[string]ir.Range
	if tiling.Kind() == tree.KindList {
		override, parsed, t, err := ParseAnnotation(tiling)
		if err != nil {
			return tree.NewNil(), err
		}
		if override != "" {
			name = override
		}
		if parsed != nil {
			loc = parsed
		}
		tiles = t
	} else {
		shape := data.Shape()
		axis := tileAxis(shape, tiling)
		d := ir.AxisIndex(len(shape), axis)
		tiles = map[string]ir.Range{axis: ir.TileRange(int64(shape[d]), loc.ID, loc.Count)}
	}
	rank := data.Rank()
	for axis := range tiles {
		if ir.AxisIndex(rank, axis) < 0 {
			return tree.NewNil(), tree.Errorf(tree.InvalidAnnotation, "axis %q is not valid for an array of rank %d", axis, rank)
		}
	}
	box := make([]ir.Range, rank)
	for d, axis := range ir.Axes(rank) {
		r, ok := tiles[axis]
		if !ok {
			r = ir.Range{Start: 0, Stop: int64(data.Dim(d))}
		}
		if r.Start < 0 || r.Stop < r.Start || r.Stop > int64(data.Dim(d)) {
			return tree.NewNil(), tree.Errorf(tree.InvalidAnnotation, "tile %v on axis %q exceeds extent %d", r, axis, data.Dim(d))
		}
		box[d] = r
	}
	part, err := ir.Extract(data, box)
	if err != nil {
		return tree.NewNil(), err
	}
	return Annotate(tree.NewArray(part.Copy()), ir.NewAnnotation(name, loc, tiles))
}

/*
unchangedTiling relabels v in place when an explicit tile descriptor names
every axis with the ranges v already covers on the same locality. Axes left
out of a descriptor span the global extent, which is only known after an
exchange, so such descriptors always take the gathering path.
*/
func unchangedTiling(v tree.Value, tiling tree.Value) (tree.Value, bool) {
	ann := v.Annotation()
	if ann == nil || tiling.Kind() != tree.KindList {
		return v, false
	}
	data, err := v.AsArray()
	if err != nil {
		return v, false
	}
	override, loc, tiles, err := ParseAnnotation(tiling)
	if err != nil || len(tiles) != data.Rank() {
		return v, false
	}
	current, err := ann.Normalize(data.Shape())
	if err != nil {
		return v, false
	}
	if loc != nil && (current.Locality == nil || *loc != *current.Locality) {
		return v, false
	}
	for axis, r := range tiles {
		if c, ok := current.Tiles[axis]; !ok || c != r {
			return v, false
		}
	}
	if override == "" || override == current.Name {
		return v, true
	}
	return tree.NewArray(data).WithAnnotation(current.WithName(override)), true
}

// GlobalShape exchanges the tile boxes of v and returns the extents of the whole array
func GlobalShape(ctx context.Context, l *Locality, v tree.Value) ([]int, error) {
	data, err := v.AsArray()
	if err != nil {
		return nil, err
	}
	ann := v.Annotation()
	if ann == nil {
		return data.Shape(), nil
	}
	norm, err := ann.Normalize(data.Shape())
	if err != nil {
		return nil, err
	}
	rank := data.Rank()
	box := norm.Box(rank)
	mine := make([]int64, 0, 2*rank)
	for _, r := range box {
		mine = append(mine, r.Start, r.Stop)
	}
	boxes, err := l.exchange(ctx, "shape_d:"+ann.Name, l.participants(ann), tree.NewIntList(mine...))
	if err != nil {
		return nil, err
	}
	shape := make([]int, rank)
	for d, axis := range ir.Axes(rank) {
		ranges := make([]ir.Range, 0, len(boxes))
		for p, b := range boxes {
			bounds, err := b.AsList()
			if err != nil || len(bounds) != 2*rank {
				return nil, tree.Errorf(tree.InvalidAnnotation, "locality %d sent a tile of a different rank", p)
			}
			ranges = append(ranges, ir.Range{Start: bounds[2*d].Int(), Stop: bounds[2*d+1].Int()})
		}
		extent, err := ir.MergeRanges(axis, ranges)
		if err != nil {
			return nil, err
		}
		shape[d] = int(extent)
	}
	return shape, nil
}

func initTiling() {
	tree.DeclareTitle("Distributed arrays")
	tree.Declare(&tree.Declaration{
		Name: "tile_range", Desc: "the part list(start, stop) of an extent that locality id owns when split over count localities",
		MinParameter: 1, MaxParameter: 3,
		Params: []tree.DeclarationParameter{
			{Name: "dim", Type: "int", Desc: "extent"},
			{Name: "id", Type: "int", Desc: "locality; the running one if nil", Default: nilDefault},
			{Name: "count", Type: "int", Desc: "number of localities; all if nil", Default: nilDefault},
		},
		Returns: "list",
		Eval: OnLocality(func(ctx context.Context, l *Locality, a []tree.Value) (tree.Value, error) {
			dim := tree.ToInt(a[0])
			if dim < 0 {
				return tree.NewNil(), tree.Errorf(tree.DomainError, "negative extent %d", dim)
			}
			id, count := participant(l, a[1], a[2])
			r := ir.TileRange(dim, id, count)
			return tree.NewIntList(r.Start, r.Stop), nil
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "annotate_d", Desc: "attaches a tile descriptor to the local part of a distributed array",
		MinParameter: 2, MaxParameter: 3,
		Params: []tree.DeclarationParameter{
			{Name: "value", Type: "array", Desc: "local tile"},
			{Name: "name", Type: "string", Desc: "name of the distributed array; equal on every locality"},
			{Name: "annotation", Type: "list", Desc: "list(\"tile\", list(axis, start, stop)...) optionally inside list(\"args\", list(\"locality\", id, count), ...)", Default: nilDefault},
		},
		Returns: "array",
		Eval: OnLocality(func(ctx context.Context, l *Locality, a []tree.Value) (tree.Value, error) {
			return annotateD(l, a[0], a[1], a[2])
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "annotation", Desc: "the tile descriptor of a value in the form annotate_d accepts, or nil",
		MinParameter: 1, MaxParameter: 1,
		Params: []tree.DeclarationParameter{
			{Name: "value", Type: "any", Desc: "value"},
		},
		Returns:  "list",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			return FormatAnnotation(a[0].Annotation())
		},
	})

	tiledParams := []tree.DeclarationParameter{
		{Name: "shape", Type: "list", Desc: "global extents"},
		{Name: "this_id", Type: "int", Desc: "locality of the tile; the running one if nil", Default: nilDefault},
		{Name: "count", Type: "int", Desc: "number of localities; all if nil", Default: nilDefault},
		{Name: "name", Type: "string", Desc: "name of the distributed array; generated if nil", Default: nilDefault},
		{Name: "tiling", Type: "string", Desc: "\"row\", \"column\", \"page\" or \"quat\"; the largest axis if nil", Default: nilDefault},
		{Name: "dtype", Type: "string", Desc: "element type", Default: nilDefault},
	}
	tree.Declare(&tree.Declaration{
		Name: "random_d", Desc: "the local tile of a distributed array of uniform samples in [0, 1)",
		MinParameter: 1, MaxParameter: 6,
		Params:  tiledParams,
		Returns: "array",
		Eval: OnLocality(func(ctx context.Context, l *Locality, a []tree.Value) (tree.Value, error) {
			return tiled(l, a, "random_array", kernel.DTypeOf(a[5], ir.Float64), func(data *ir.NodeData) {
				l.mu.Lock()
				kernel.Fill(data, l.rng)
				l.mu.Unlock()
			}), nil
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "constant_d", Desc: "the local tile of a distributed array filled with value",
		MinParameter: 2, MaxParameter: 7,
		Params:  append([]tree.DeclarationParameter{{Name: "value", Type: "number", Desc: "fill value"}}, tiledParams...),
		Returns: "array",
		Eval: OnLocality(func(ctx context.Context, l *Locality, a []tree.Value) (tree.Value, error) {
			fillValue := tree.ToArray(a[0])
			if fillValue.Rank() != 0 {
				return tree.NewNil(), tree.Errorf(tree.TypeMismatch, "constant_d needs a scalar fill value")
			}
			return tiled(l, a[1:], "constant_array", kernel.DTypeOf(a[6], fillValue.DType()), func(data *ir.NodeData) {
				data.Assign(fillValue)
			}), nil
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "all_gather_d", Desc: "the global array assembled from the tiles of all localities; other values are returned as they are",
		MinParameter: 1, MaxParameter: 1,
		Params: []tree.DeclarationParameter{
			{Name: "value", Type: "array", Desc: "local tile"},
		},
		Returns: "array",
		Eval: OnLocality(func(ctx context.Context, l *Locality, a []tree.Value) (tree.Value, error) {
			return Gather(ctx, l, a[0])
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "retile_d", Desc: "redistributes an array: by axis name with equal division or by an explicit tile descriptor",
		MinParameter: 2, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "value", Type: "array", Desc: "local tile or local array"},
			{Name: "tiling", Type: "any", Desc: "\"row\", \"column\", ... or a tile descriptor as in annotate_d"},
		},
		Returns: "array",
		Eval: OnLocality(func(ctx context.Context, l *Locality, a []tree.Value) (tree.Value, error) {
			return Retile(ctx, l, a[0], a[1])
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "shape_d", Desc: "extents of the whole distributed array",
		MinParameter: 1, MaxParameter: 1,
		Params: []tree.DeclarationParameter{
			{Name: "value", Type: "array", Desc: "local tile"},
		},
		Returns: "list",
		Eval: OnLocality(func(ctx context.Context, l *Locality, a []tree.Value) (tree.Value, error) {
			shape, err := GlobalShape(ctx, l, a[0])
			if err != nil {
				return tree.NewNil(), err
			}
			return kernel.ShapeValue(shape), nil
		}),
	})
}
