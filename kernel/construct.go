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
	"math/rand/v2"
	"sync"

	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/tree"
)

// Constant creates an array of shape filled with value
func Constant(value tree.Value, shape []int, dtype ir.DType) *ir.NodeData {
	r := ir.Zeros(dtype, shape)
	v := tree.ToArray(value)
	if v.Rank() != 0 {
		fail(tree.TypeMismatch, "constant needs a scalar fill value")
	}
	check(r.Assign(v))
	return r
}

var random = rand.New(rand.NewPCG(42, 1))
var randomMutex sync.Mutex

// Fill writes uniform [0, 1) samples of rng into every element of data
func Fill(data *ir.NodeData, rng *rand.Rand) {
	size := data.Size()
	for k := 0; k < size; k++ {
		switch data.DType() {
		case ir.Bool:
			data.SetBool(k, rng.IntN(2) == 1)
		case ir.Int64:
			data.SetInt(k, rng.Int64N(1<<31))
		default:
			data.SetFloat(k, rng.Float64())
		}
	}
}

// Seed resets the generator behind random()
func Seed(seed uint64) {
	randomMutex.Lock()
	random = rand.New(rand.NewPCG(seed, 1))
	randomMutex.Unlock()
}

func initConstruct() {
	tree.DeclareTitle("Array construction")
	tree.Declare(&tree.Declaration{
		Name: "constant", Desc: "array of the given shape with every element set to value",
		MinParameter: 2, MaxParameter: 3,
		Params: []tree.DeclarationParameter{
			{Name: "value", Type: "number", Desc: "fill value"},
			{Name: "shape", Type: "list", Desc: "extents, e.g. list(2, 3); an int creates a vector"},
			{Name: "dtype", Type: "string", Desc: "\"bool\", \"int\" or \"float\"; defaults to the type of value", Default: func() tree.Value { return tree.NewNil() }},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			return tree.NewArray(Constant(a[0], Shape(a[1]), DTypeOf(a[2], scalarDType(a[0]))))
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "arange", Desc: "vector 0, 1, ..., n-1",
		MinParameter: 1, MaxParameter: 1,
		Params: []tree.DeclarationParameter{
			{Name: "n", Type: "int", Desc: "length"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			n := dim(tree.ToInt(a[0]))
			r := ir.Zeros(ir.Int64, []int{n})
			for i := 0; i < n; i++ {
				r.SetInt(i, int64(i))
			}
			return tree.NewArray(r)
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "random", Desc: "array of uniformly distributed samples in [0, 1)",
		MinParameter: 1, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "shape", Type: "list", Desc: "extents"},
			{Name: "dtype", Type: "string", Desc: "element type", Default: func() tree.Value { return tree.NewString("float") }},
		},
		Returns: "array",
		Fn: func(a ...tree.Value) tree.Value {
			r := ir.Zeros(DTypeOf(a[1], ir.Float64), Shape(a[0]))
			randomMutex.Lock()
			Fill(r, random)
			randomMutex.Unlock()
			return unpack(r)
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "shape", Desc: "extents of an array as list, or the extent of one axis",
		MinParameter: 1, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "input"},
			{Name: "axis", Type: "int", Desc: "axis; all axes if nil", Default: func() tree.Value { return tree.NewNil() }},
		},
		Returns:  "list",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			x := tree.ToArray(a[0])
			if a[1].IsNil() {
				return ShapeValue(x.Shape())
			}
			return tree.NewInt(int64(x.Dim(Index(tree.ToInt(a[1]), x.Rank()))))
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "size", Desc: "number of elements of an array",
		MinParameter: 1, MaxParameter: 1,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "input"},
		},
		Returns:  "int",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			return tree.NewInt(int64(tree.ToArray(a[0]).Size()))
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "len", Desc: "length of a list or string, or the extent of the first axis of an array",
		MinParameter: 1, MaxParameter: 1,
		Params: []tree.DeclarationParameter{
			{Name: "value", Type: "any", Desc: "list, string or array"},
		},
		Returns:  "int",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			switch a[0].Kind() {
			case tree.KindList:
				return tree.NewInt(int64(len(a[0].List())))
			case tree.KindString:
				return tree.NewInt(int64(len(a[0].Str())))
			case tree.KindArray:
				if x := a[0].Array(); x.Rank() > 0 {
					return tree.NewInt(int64(x.Dim(0)))
				}
			}
			fail(tree.TypeMismatch, "len needs a list, string or array of rank >= 1, found %s", a[0].Kind())
			return tree.NewNil()
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "astype", Desc: "converts the element type",
		MinParameter: 2, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "input"},
			{Name: "dtype", Type: "string", Desc: "\"bool\", \"int\" or \"float\""},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			x := tree.ToArray(a[0])
			return unpack(x.AsType(DTypeOf(a[1], x.DType()))).WithAnnotation(a[0].Annotation())
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "reshape", Desc: "same elements in row-major order with a new shape",
		MinParameter: 2, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "input"},
			{Name: "shape", Type: "list", Desc: "new extents"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			r, err := tree.ToArray(a[0]).Reshape(Shape(a[1]))
			check(err)
			return tree.NewArray(r)
		},
	})
}
