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
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/tree"
)

func eval(t *testing.T, env *tree.Environment, source string) tree.Value {
	t.Helper()
	Init()
	if env == nil {
		env = tree.NewEnvironment(nil)
	}
	v, err := tree.Eval(context.Background(), "kernel test", source, env)
	if err != nil {
		t.Fatalf("%s: %v", source, err)
	}
	return v
}

func evalError(t *testing.T, source string, kind tree.ErrorKind) {
	t.Helper()
	Init()
	_, err := tree.Eval(context.Background(), "kernel test", source, tree.NewEnvironment(nil))
	if !tree.IsKind(err, kind) {
		t.Fatalf("%s: expected %s, got %v", source, kind, err)
	}
}

// same compares the printed form, which also distinguishes int from float
func same(t *testing.T, source, want string) {
	t.Helper()
	if got := eval(t, nil, source).String(); got != want {
		t.Errorf("%s: expected %s, got %s", source, want, got)
	}
}

func TestElementwise(t *testing.T) {
	same(t, "[1, 2, 3] + 1", "[2, 3, 4]")
	same(t, "2 * [[1, 2], [3, 4]]", "[[2, 4], [6, 8]]")
	same(t, "[[1, 2], [3, 4]] * 0.5", "[[0.5, 1.0], [1.5, 2.0]]")
	same(t, "7 / 2", "3")
	same(t, "7.0 / 2", "3.5")
	same(t, "7 % 3", "1")
	same(t, "-[1, -2]", "[-1, 2]")
	same(t, "[1, 2] < [2, 2]", "[true, false]")
	same(t, "[1, 2] == [1.0, 3]", "[true, false]")
	same(t, "list(1, \"a\") == list(1, \"a\")", "true")
	same(t, "nil != 1", "true")
	same(t, "\"n=\" + 4", "\"n=4\"")
	same(t, "!(1 < 2) || true && true", "true")
	same(t, "abs([-1.5, 2])", "[1.5, 2.0]")
	same(t, "sqrt(16)", "4.0")
	same(t, "max([1, 5], 3)", "[3, 5]")
	evalError(t, "[1, 2] + [1, 2, 3]", tree.ShapeMismatch)
	evalError(t, "1 / 0", tree.DomainError)
	evalError(t, "[1, 2] - \"x\"", tree.TypeMismatch)
}

func TestSumDefaults(t *testing.T) {
	v := eval(t, nil, `
		define(v, [[1, 2, 3], [4, 5, 6]])
		list(sum(v), sum(v, nil, false), sum(v, 0), sum(v, axis=-1), sum(v, 1, true), sum(v, keepdims=true))`)
	l := v.List()
	if !tree.Equal(l[0], l[1]) || l[0].String() != "21" {
		t.Errorf("sum(v) must equal sum(v, nil, false): %v %v", l[0], l[1])
	}
	want := []string{"21", "21", "[5, 7, 9]", "[6, 15]", "[[6], [15]]", "[[21]]"}
	var got []string
	for _, e := range l {
		got = append(got, e.String())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sum (-want +got):\n%s", diff)
	}
	same(t, "mean([1, 2, 3, 4])", "2.5")
	same(t, "sum(5)", "5")
}

func TestLinearAlgebra(t *testing.T) {
	same(t, "dot([1, 2, 3], [4, 5, 6])", "32")
	same(t, "dot([[1, 2], [3, 4]], [1, 1])", "[3, 7]")
	same(t, "dot([1, 1], [[1, 2], [3, 4]])", "[4, 6]")
	same(t, "dot([[1, 2], [3, 4]], [[0, 1], [1, 0]])", "[[2, 1], [4, 3]]")
	same(t, "transpose([[1, 2, 3], [4, 5, 6]])", "[[1, 4], [2, 5], [3, 6]]")
	same(t, "identity(2)", "[[1.0, 0.0], [0.0, 1.0]]")
	evalError(t, "dot([1, 2], [1, 2, 3])", tree.ShapeMismatch)
	evalError(t, "inverse([[1, 2], [2, 4]])", tree.DomainError)
	evalError(t, "inverse([1, 2])", tree.ShapeMismatch)

	p := eval(t, nil, "define(a, [[4, 7], [2, 6]]) dot(a, inverse(a))").Array()
	id := Identity(2)
	for k := 0; k < 4; k++ {
		if math.Abs(p.Float(k)-id.Float(k)) > 1e-9 {
			t.Fatalf("a * inverse(a) is not the identity: %v", p)
		}
	}
}

func TestConstruction(t *testing.T) {
	same(t, "constant(1, list(2, 2))", "[[1, 1], [1, 1]]")
	same(t, "constant(0, 3, \"float\")", "[0.0, 0.0, 0.0]")
	same(t, "shape(constant(true, list(2, 3, 4)))", "list(2, 3, 4)")
	same(t, "shape([[1, 2, 3]], 1)", "3")
	same(t, "size(constant(1, list(2, 5)))", "10")
	same(t, "len(list(1, 2))", "2")
	same(t, "len([[1, 2], [3, 4], [5, 6]])", "3")
	same(t, "astype([1.7, 0], \"int\")", "[1, 0]")
	same(t, "reshape(arange(6), list(2, 3))", "[[0, 1, 2], [3, 4, 5]]")
	evalError(t, "constant(1, list(-1))", tree.DomainError)
	evalError(t, "constant(1, 2, \"complex\")", tree.UnsupportedDType)
	evalError(t, "reshape(arange(6), list(4))", tree.ShapeMismatch)

	r := eval(t, nil, "random(list(3, 4))").Array()
	if diff := cmp.Diff([]int{3, 4}, r.Shape()); diff != "" {
		t.Errorf("random shape (-want +got):\n%s", diff)
	}
	for k := 0; k < r.Size(); k++ {
		if f := r.Float(k); f < 0 || f >= 1 {
			t.Errorf("random sample out of [0, 1): %v", f)
		}
	}
}

func TestSlicing(t *testing.T) {
	m := "[[1, 2, 3], [4, 5, 6], [7, 8, 9]]"
	same(t, "slice_row("+m+", 1)", "[4, 5, 6]")
	same(t, "slice_row("+m+", -1)", "[7, 8, 9]")
	same(t, "slice_column("+m+", 0)", "[1, 4, 7]")
	same(t, "slice("+m+", list(0, 2), list(1, nil))", "[[2, 3], [5, 6]]")
	same(t, "slice("+m+", nil, 2)", "[3, 6, 9]")
	same(t, "slice("+m+", 1, 1)", "5")
	same(t, "slice_row([1, 2, 3], 2)", "3")
	evalError(t, "slice_row("+m+", 3)", tree.DomainError)
	evalError(t, "slice_column([1, 2], 0)", tree.ShapeMismatch)

	v := eval(t, nil, `
		define(m, `+m+`)
		define(keep, m)
		store(slice_row(m, 0), [0, 0, 0])
		store(slice_column(m, 2), -1)
		store(slice(m, list(1, 3), 0), [10, 20])
		list(m, keep)`)
	got := []string{v.List()[0].String(), v.List()[1].String()}
	want := []string{"[[0, 0, -1], [10, 5, -1], [20, 8, -1]]", "[[1, 2, 3], [4, 5, 6], [7, 8, 9]]"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("store into slices (-want +got):\n%s", diff)
	}
	evalError(t, "define(m, [1, 2]) store(slice_row(m, 0), [1, 2])", tree.ShapeMismatch)
}

func TestAnnotationsPassThrough(t *testing.T) {
	env := tree.NewEnvironment(nil)
	ann := ir.NewAnnotation("a", &ir.Locality{ID: 1, Count: 2}, map[string]ir.Range{"columns": {Start: 3, Stop: 6}})
	env.Set("a", tree.NewArray(ir.NewFloat64([]int{3}, []float64{1, 2, 3})).WithAnnotation(ann))

	for _, source := range []string{"-a", "sqrt(a)", "astype(a, \"int\")"} {
		v := eval(t, env, source)
		if !v.Annotation().Equal(ann) {
			t.Errorf("%s: annotation lost: %v", source, v.Annotation())
		}
	}
	for _, source := range []string{"a + 1", "2 * a", "a < 2", "a + a"} {
		v := eval(t, env, source)
		if !v.Annotation().Equal(ann.WithName("a/1")) {
			t.Errorf("%s: expected the tile under a/1, got %v", source, v.Annotation())
		}
	}
	if v := eval(t, env, "(a + 1) * a"); v.Annotation() == nil || v.Annotation().Name != "a/2" {
		t.Errorf("expected a/2, got %v", v.Annotation())
	}
	if v := eval(t, env, "sum(a)"); v.Annotation() != nil {
		t.Errorf("reductions drop the tile descriptor, got %v", v.Annotation())
	}
}

// operands of one elementwise operation must be the same tile of their arrays
func TestCombinedTiles(t *testing.T) {
	env := tree.NewEnvironment(nil)
	columns := func(name string, start, stop int64) *ir.Annotation {
		return ir.NewAnnotation(name, &ir.Locality{ID: 0, Count: 2}, map[string]ir.Range{"columns": {Start: start, Stop: stop}})
	}
	env.Set("lhs", tree.NewArray(ir.NewFloat64([]int{2}, []float64{13, 42})).WithAnnotation(columns("lhs", 0, 2)))
	env.Set("rhs", tree.NewArray(ir.NewFloat64([]int{2}, []float64{101, 12})).WithAnnotation(columns("rhs", 0, 2)))
	env.Set("shifted", tree.NewArray(ir.NewFloat64([]int{2}, []float64{3, 4})).WithAnnotation(columns("shifted", 2, 4)))

	v := eval(t, env, "max(lhs, rhs)")
	if v.String() != "[101.0, 42.0]" {
		t.Errorf("max: got %s", v)
	}
	if diff := cmp.Diff(columns("lhs/1", 0, 2).String(), v.Annotation().String()); diff != "" {
		t.Errorf("result tile (-want +got):\n%s", diff)
	}

	for _, source := range []string{"lhs + shifted", "shifted * rhs", "lhs == shifted"} {
		_, err := tree.Eval(context.Background(), "kernel test", source, env)
		if !tree.IsKind(err, tree.TileCoverageError) {
			t.Errorf("%s: expected TileCoverageError, got %v", source, err)
		}
	}
}

func TestDerivedName(t *testing.T) {
	for name, want := range map[string]string{"a": "a/1", "a/1": "a/2", "x/y": "x/y/1", "a/9": "a/10", "a/-1": "a/-1/1"} {
		if got := derivedName(name); got != want {
			t.Errorf("derivedName(%q) = %q, expected %q", name, got, want)
		}
	}
}
