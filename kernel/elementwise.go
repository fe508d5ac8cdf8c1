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
	"slices"
	"strconv"
	"strings"

	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/tree"
)

// binaryOp is one elementwise operator; exactly one family of funcs is set
type binaryOp struct {
	name, desc string

	ints   func(x, y int64) int64 // nil: ints are computed as floats
	floats func(x, y float64) float64

	icmp func(x, y int64) bool
	fcmp func(x, y float64) bool

	logic func(x, y bool) bool
}

func (op *binaryOp) resultType(x, y ir.DType) ir.DType {
	switch {
	case op.logic != nil, op.fcmp != nil:
		return ir.Bool
	case op.ints == nil:
		return ir.Float64
	}
	return ir.Promote(ir.Promote(x, y), ir.Int64)
}

func (op *binaryOp) scalar(a, b tree.Value) tree.Value {
	switch {
	case op.logic != nil:
		return tree.NewBool(op.logic(tree.ToBool(a), tree.ToBool(b)))
	case op.fcmp != nil:
		if a.Kind() == tree.KindFloat || b.Kind() == tree.KindFloat {
			return tree.NewBool(op.fcmp(tree.ToFloat(a), tree.ToFloat(b)))
		}
		return tree.NewBool(op.icmp(tree.ToInt(a), tree.ToInt(b)))
	case op.ints != nil && a.Kind() != tree.KindFloat && b.Kind() != tree.KindFloat:
		return tree.NewInt(op.ints(tree.ToInt(a), tree.ToInt(b)))
	}
	return tree.NewFloat(op.floats(tree.ToFloat(a), tree.ToFloat(b)))
}

// apply broadcasts rank 0 operands; other shapes must match exactly
func (op *binaryOp) apply(a, b tree.Value) tree.Value {
	if a.IsNumber() && b.IsNumber() {
		return op.scalar(a, b)
	}
	x, y := tree.ToArray(a), tree.ToArray(b)
	shape := x.Shape()
	switch {
	case x.Rank() == 0:
		shape = y.Shape()
	case y.Rank() == 0:
	case !ir.SameShape(x, y):
		fail(tree.ShapeMismatch, "%s: operand shapes %v and %v differ", op.name, x.Shape(), y.Shape())
	}
	dtype := op.resultType(x.DType(), y.DType())
	r := ir.Zeros(dtype, shape)
	size := r.Size()
	floats := x.DType() == ir.Float64 || y.DType() == ir.Float64
	for k := 0; k < size; k++ {
		xk, yk := k, k
		if x.Rank() == 0 {
			xk = 0
		}
		if y.Rank() == 0 {
			yk = 0
		}
		switch {
		case op.logic != nil:
			r.SetBool(k, op.logic(x.Bool(xk), y.Bool(yk)))
		case op.fcmp != nil && floats:
			r.SetBool(k, op.fcmp(x.Float(xk), y.Float(yk)))
		case op.fcmp != nil:
			r.SetBool(k, op.icmp(x.Int(xk), y.Int(yk)))
		case dtype == ir.Float64:
			r.SetFloat(k, op.floats(x.Float(xk), y.Float(yk)))
		default:
			r.SetInt(k, op.ints(x.Int(xk), y.Int(yk)))
		}
	}
	return tree.NewArray(r).WithAnnotation(combinedTile(op.name, a, b))
}

/*
combinedTile checks that all annotated operands describe the same tile of
their arrays and returns that tile under a name derived from the first one.
*/
func combinedTile(opname string, values ...tree.Value) *ir.Annotation {
	var first *ir.Annotation
	var box []ir.Range
	for _, v := range values {
		ann := v.Annotation()
		if ann == nil {
			continue
		}
		x := tree.ToArray(v)
		norm, err := ann.Normalize(x.Shape())
		if err != nil {
			fail(tree.InvalidAnnotation, "%s: %v", opname, err)
		}
		if first == nil {
			first, box = norm, norm.Box(x.Rank())
			continue
		}
		if !slices.Equal(box, norm.Box(x.Rank())) {
			fail(tree.TileCoverageError, "%s: operand tiles %v and %v cover different parts of the array", opname, first, norm)
		}
	}
	if first == nil {
		return nil
	}
	return first.WithName(derivedName(first.Name))
}

// derivedName counts generations: a becomes a/1, a/1 becomes a/2
func derivedName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		if n, err := strconv.Atoi(name[i+1:]); err == nil && n >= 0 {
			return name[:i+1] + strconv.Itoa(n+1)
		}
	}
	return name + "/1"
}

func isArrayLike(v tree.Value) bool {
	return v.IsNumber() || v.Kind() == tree.KindArray
}

func (op *binaryOp) declare() {
	tree.Declare(&tree.Declaration{
		Name: op.name, Desc: op.desc,
		MinParameter: 2, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "left operand"},
			{Name: "b", Type: "array", Desc: "right operand"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			return op.apply(a[0], a[1])
		},
	})
}

func intDiv(x, y int64) int64 {
	if y == 0 {
		fail(tree.DomainError, "integer division by zero")
	}
	return x / y
}

func intMod(x, y int64) int64 {
	if y == 0 {
		fail(tree.DomainError, "integer modulo by zero")
	}
	return x % y
}

// unaryOp maps every element; ints == nil means the result is always float
type unaryOp struct {
	name, desc string
	ints       func(x int64) int64
	floats     func(x float64) float64
	logic      func(x bool) bool
}

func (op *unaryOp) apply(a tree.Value) tree.Value {
	if a.IsNumber() {
		switch {
		case op.logic != nil:
			return tree.NewBool(op.logic(tree.ToBool(a)))
		case op.ints != nil && a.Kind() != tree.KindFloat:
			return tree.NewInt(op.ints(tree.ToInt(a)))
		}
		return tree.NewFloat(op.floats(tree.ToFloat(a)))
	}
	x := tree.ToArray(a)
	dtype := ir.Float64
	switch {
	case op.logic != nil:
		dtype = ir.Bool
	case op.ints != nil && x.DType() != ir.Float64:
		dtype = ir.Int64
	}
	r := ir.Zeros(dtype, x.Shape())
	size := r.Size()
	for k := 0; k < size; k++ {
		switch dtype {
		case ir.Bool:
			r.SetBool(k, op.logic(x.Bool(k)))
		case ir.Int64:
			r.SetInt(k, op.ints(x.Int(k)))
		default:
			r.SetFloat(k, op.floats(x.Float(k)))
		}
	}
	return tree.NewArray(r).WithAnnotation(a.Annotation())
}

func (op *unaryOp) declare() {
	tree.Declare(&tree.Declaration{
		Name: op.name, Desc: op.desc,
		MinParameter: 1, MaxParameter: 1,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "operand"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			return op.apply(a[0])
		},
	})
}

func initElementwise() {
	tree.DeclareTitle("Arithmetic / Logic")

	add := &binaryOp{name: "__add", desc: "elementwise sum (+); concatenates strings",
		ints:   func(x, y int64) int64 { return x + y },
		floats: func(x, y float64) float64 { return x + y }}
	tree.Declare(&tree.Declaration{
		Name: add.name, Desc: add.desc,
		MinParameter: 2, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "a", Type: "array", Desc: "left operand"},
			{Name: "b", Type: "array", Desc: "right operand"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...tree.Value) tree.Value {
			if a[0].Kind() == tree.KindString || a[1].Kind() == tree.KindString {
				return tree.NewString(stringOf(a[0]) + stringOf(a[1]))
			}
			return add.apply(a[0], a[1])
		},
	})
	(&binaryOp{name: "__sub", desc: "elementwise difference (-)",
		ints:   func(x, y int64) int64 { return x - y },
		floats: func(x, y float64) float64 { return x - y }}).declare()
	(&binaryOp{name: "__mul", desc: "elementwise product (*); see dot for the matrix product",
		ints:   func(x, y int64) int64 { return x * y },
		floats: func(x, y float64) float64 { return x * y }}).declare()
	(&binaryOp{name: "__div", desc: "elementwise quotient (/); integer division when both operands are integers",
		ints:   intDiv,
		floats: func(x, y float64) float64 { return x / y }}).declare()
	(&binaryOp{name: "__mod", desc: "elementwise remainder (%)",
		ints:   intMod,
		floats: math.Mod}).declare()

	(&binaryOp{name: "__lt", desc: "elementwise a < b",
		icmp: func(x, y int64) bool { return x < y },
		fcmp: func(x, y float64) bool { return x < y }}).declare()
	(&binaryOp{name: "__le", desc: "elementwise a <= b",
		icmp: func(x, y int64) bool { return x <= y },
		fcmp: func(x, y float64) bool { return x <= y }}).declare()
	(&binaryOp{name: "__gt", desc: "elementwise a > b",
		icmp: func(x, y int64) bool { return x > y },
		fcmp: func(x, y float64) bool { return x > y }}).declare()
	(&binaryOp{name: "__ge", desc: "elementwise a >= b",
		icmp: func(x, y int64) bool { return x >= y },
		fcmp: func(x, y float64) bool { return x >= y }}).declare()

	// == and != compare arrays elementwise and everything else structurally
	for _, op := range []*binaryOp{
		{name: "__eq", desc: "elementwise a == b; strings, lists and nil compare structurally",
			icmp: func(x, y int64) bool { return x == y },
			fcmp: func(x, y float64) bool { return x == y }},
		{name: "__ne", desc: "elementwise a != b; strings, lists and nil compare structurally",
			icmp: func(x, y int64) bool { return x != y },
			fcmp: func(x, y float64) bool { return x != y }},
	} {
		op := op
		negate := op.name == "__ne"
		tree.Declare(&tree.Declaration{
			Name: op.name, Desc: op.desc,
			MinParameter: 2, MaxParameter: 2,
			Params: []tree.DeclarationParameter{
				{Name: "a", Type: "any", Desc: "left operand"},
				{Name: "b", Type: "any", Desc: "right operand"},
			},
			Returns:  "bool",
			Foldable: true,
			Fn: func(a ...tree.Value) tree.Value {
				if isArrayLike(a[0]) && isArrayLike(a[1]) {
					return op.apply(a[0], a[1])
				}
				return tree.NewBool(tree.Equal(a[0], a[1]) != negate)
			},
		})
	}

	(&binaryOp{name: "__and", desc: "elementwise logical and (&&); both operands are evaluated",
		logic: func(x, y bool) bool { return x && y }}).declare()
	(&binaryOp{name: "__or", desc: "elementwise logical or (||); both operands are evaluated",
		logic: func(x, y bool) bool { return x || y }}).declare()
	(&binaryOp{name: "max", desc: "elementwise maximum",
		ints: func(x, y int64) int64 {
			if x > y {
				return x
			}
			return y
		},
		floats: math.Max}).declare()
	(&binaryOp{name: "min", desc: "elementwise minimum",
		ints: func(x, y int64) int64 {
			if x < y {
				return x
			}
			return y
		},
		floats: math.Min}).declare()
	(&binaryOp{name: "power", desc: "elementwise a to the power of b",
		floats: math.Pow}).declare()

	(&unaryOp{name: "__minus", desc: "elementwise negation (unary -)",
		ints:   func(x int64) int64 { return -x },
		floats: func(x float64) float64 { return -x }}).declare()
	(&unaryOp{name: "__not", desc: "elementwise logical not (!)",
		logic: func(x bool) bool { return !x }}).declare()
	(&unaryOp{name: "abs", desc: "elementwise absolute value",
		ints: func(x int64) int64 {
			if x < 0 {
				return -x
			}
			return x
		},
		floats: math.Abs}).declare()
	(&unaryOp{name: "sqrt", desc: "elementwise square root", floats: math.Sqrt}).declare()
	(&unaryOp{name: "exp", desc: "elementwise e^x", floats: math.Exp}).declare()
	(&unaryOp{name: "log", desc: "elementwise natural logarithm", floats: math.Log}).declare()
	(&unaryOp{name: "sigmoid", desc: "elementwise logistic function 1/(1+e^-x)",
		floats: func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }}).declare()
	(&unaryOp{name: "tanh", desc: "elementwise hyperbolic tangent", floats: math.Tanh}).declare()
}

func stringOf(v tree.Value) string {
	if v.Kind() == tree.KindString {
		return v.Str()
	}
	return v.String()
}
