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
package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/launix-de/arraytree/ir"
)

// a tiny scalar arithmetic so the engine can be tested without the kernel package
var testOnce sync.Once
var testLog []string
var testLogMutex sync.Mutex

func arith(name string, i func(a, b int64) Value, f func(a, b float64) Value) {
	Declare(&Declaration{
		Name: name, MinParameter: 2, MaxParameter: 2, Foldable: true,
		Params: []DeclarationParameter{{Name: "a"}, {Name: "b"}},
		Fn: func(a ...Value) Value {
			if a[0].Kind() == KindInt && a[1].Kind() == KindInt {
				return i(a[0].Int(), a[1].Int())
			}
			return f(ToFloat(a[0]), ToFloat(a[1]))
		},
	})
}

func setup(t *testing.T) {
	t.Helper()
	Init()
	SetWorkers(8)
	testOnce.Do(func() {
		arith("__add", func(a, b int64) Value { return NewInt(a + b) }, func(a, b float64) Value { return NewFloat(a + b) })
		arith("__sub", func(a, b int64) Value { return NewInt(a - b) }, func(a, b float64) Value { return NewFloat(a - b) })
		arith("__mul", func(a, b int64) Value { return NewInt(a * b) }, func(a, b float64) Value { return NewFloat(a * b) })
		arith("__lt", func(a, b int64) Value { return NewBool(a < b) }, func(a, b float64) Value { return NewBool(a < b) })
		arith("__le", func(a, b int64) Value { return NewBool(a <= b) }, func(a, b float64) Value { return NewBool(a <= b) })
		arith("__eq", func(a, b int64) Value { return NewBool(a == b) }, func(a, b float64) Value { return NewBool(a == b) })
		Declare(&Declaration{
			Name: "log", MinParameter: 1, MaxParameter: 1,
			Params: []DeclarationParameter{{Name: "value"}},
			Fn: func(a ...Value) Value {
				testLogMutex.Lock()
				testLog = append(testLog, a[0].String())
				testLogMutex.Unlock()
				return a[0]
			},
		})
		Declare(&Declaration{
			Name: "slow", MinParameter: 2, MaxParameter: 2,
			Params: []DeclarationParameter{{Name: "ms"}, {Name: "value"}},
			Fn: func(a ...Value) Value {
				time.Sleep(time.Duration(ToInt(a[0])) * time.Millisecond)
				return a[1]
			},
		})
		Declare(&Declaration{
			Name: "fail", MinParameter: 0, MaxParameter: 0,
			Fn: func(a ...Value) Value {
				panic(Errorf(DomainError, "failed on purpose"))
			},
		})
		Declare(&Declaration{
			Name: "scale", MinParameter: 1, MaxParameter: 2, Foldable: true,
			Params: []DeclarationParameter{
				{Name: "x"},
				{Name: "factor", Default: func() Value { return NewInt(2) }},
			},
			Fn: func(a ...Value) Value {
				return NewInt(ToInt(a[0]) * ToInt(a[1]))
			},
		})
		Declare(&Declaration{
			Name: "at", MinParameter: 2, MaxParameter: 2, Foldable: true,
			Params: []DeclarationParameter{{Name: "v"}, {Name: "i"}},
			Fn: func(a ...Value) Value {
				return NewFloat(ToArray(a[0]).Float(int(ToInt(a[1]))))
			},
		})
		DeclareStoreTarget("at", StoreTarget{
			Apply: func(data *ir.NodeData, ann *ir.Annotation, index []Value, v Value) error {
				data.SetFloat(int(ToInt(index[0])), ToFloat(v))
				return nil
			},
		})
	})
	testLogMutex.Lock()
	testLog = nil
	testLogMutex.Unlock()
}

func run(t *testing.T, source string) Value {
	t.Helper()
	v, err := Eval(context.Background(), "test", source, NewEnvironment(nil))
	if err != nil {
		t.Fatalf("%s: %v", source, err)
	}
	return v
}

func runError(t *testing.T, source string, kind ErrorKind) *Error {
	t.Helper()
	_, err := Eval(context.Background(), "test", source, NewEnvironment(nil))
	if err == nil {
		t.Fatalf("%s: expected %s, got no error", source, kind)
	}
	e, ok := err.(*Error)
	if !ok || e.Kind != kind {
		t.Fatalf("%s: expected %s, got %v", source, kind, err)
	}
	return e
}

func expect(t *testing.T, source string, want Value) {
	t.Helper()
	if got := run(t, source); !Equal(got, want) {
		t.Errorf("%s: expected %v, got %v", source, want, got)
	}
}

func TestArithmeticAndDefine(t *testing.T) {
	setup(t)
	expect(t, "1 + 2 * 3", NewInt(7))
	expect(t, "(1 + 2) * 3", NewInt(9))
	expect(t, "define(x, 3) x * 2", NewInt(6))
	expect(t, "define(x, 1.5) x + 1", NewFloat(2.5))
	expect(t, "list(1, list(2, 3))", NewList([]Value{NewInt(1), NewIntList(2, 3)}))
}

func TestRecursion(t *testing.T) {
	setup(t)
	expect(t, `
		define(fib, n, if(n < 2, n, fib(n - 1) + fib(n - 2)))
		fib(12)`, NewInt(144))
}

func TestStackLimit(t *testing.T) {
	setup(t)
	old := MaxDepth.Load()
	MaxDepth.Store(50)
	defer MaxDepth.Store(old)
	runError(t, "define(down, n, down(n + 1)) down(0)", StackLimitExceeded)
	expect(t, "define(down, n, if(n < 40, down(n + 1), n)) down(0)", NewInt(40))
}

func TestBlockSequencing(t *testing.T) {
	setup(t)
	// the first statement is slow; a scheduler that does not sequence would log 2 first
	run(t, "block(log(slow(30, 1)), log(2), log(3))")
	if diff := cmp.Diff([]string{"1", "2", "3"}, testLog); diff != "" {
		t.Errorf("log order (-want +got):\n%s", diff)
	}
}

func TestIfIsLazy(t *testing.T) {
	setup(t)
	expect(t, "if(true, 1, fail())", NewInt(1))
	expect(t, "if(false, fail(), 2)", NewInt(2))
	expect(t, "if(false, 1)", NewNil())
	run(t, "if(1 < 2, log(1), log(2))")
	if diff := cmp.Diff([]string{"1"}, testLog); diff != "" {
		t.Errorf("only one branch may run (-want +got):\n%s", diff)
	}
	runError(t, "if(list(1), 1, 2)", TypeMismatch)
}

func TestWhileAndStore(t *testing.T) {
	setup(t)
	expect(t, `
		define(i, 0)
		define(s, 0)
		while(i < 5, block(store(s, s + i), store(i, i + 1)))
		s`, NewInt(10))
	expect(t, "while(false, 1)", NewNil())
	expect(t, `
		define(i, 0)
		while(i < 3, block(store(i, i + 1), i * 10))`, NewInt(30))
}

func TestClosures(t *testing.T) {
	setup(t)
	expect(t, `
		define(make_adder, n, lambda(x, x + n))
		define(add3, make_adder(3))
		add3(4)`, NewInt(7))
	expect(t, "lambda(x, x * x)(5)", NewInt(25))
	expect(t, "map(list(1, 2, 3), lambda(x, x * 2))", NewIntList(2, 4, 6))
	expect(t, "define(twice, f, x, f(f(x))) twice(lambda(y, y + 1), 0)", NewInt(2))
}

func TestApply(t *testing.T) {
	setup(t)
	expect(t, "apply(lambda(x, y, x * y), list(6, 7))", NewInt(42))
	expect(t, "define(add, a, b, a + b) apply(add, list(1, 2))", NewInt(3))
	expect(t, "apply(list, list(1, 2, 3))", NewIntList(1, 2, 3))
	expect(t, "apply(nth, list(list(4, 5), 1))", NewInt(5))
	expect(t, "apply(lambda(42), list())", NewInt(42))
	runError(t, "apply(lambda(x, x), 5)", TypeMismatch)
	runError(t, "apply(5, list(1))", TypeMismatch)
}

func TestLocalDefinitions(t *testing.T) {
	setup(t)
	expect(t, "define(f, x, block(define(y, x * 2), y + 1)) f(5)", NewInt(11))
	// every call gets fresh locals, also when calls run concurrently
	expect(t, "define(f, x, block(define(y, x), slow(10, y))) list(f(1), f(2))", NewIntList(1, 2))
	expect(t, `
		define(count, n, block(
			define(i, 0),
			define(step, lambda(store(i, i + 1))),
			while(i < n, step()),
			i))
		count(4)`, NewInt(4))
	runError(t, "define(f, x, define(x, 1)) f(1)", SyntaxError)
}

func TestReturn(t *testing.T) {
	setup(t)
	expect(t, `
		define(sign, x, block(if(x < 0, return(-1)), if(x == 0, return(0)), 1))
		list(sign(-5), sign(7))`, NewIntList(-1, 1))
	expect(t, "return(5)", NewInt(5))
}

func TestNamedArgumentsAndDefaults(t *testing.T) {
	setup(t)
	expect(t, "scale(3)", NewInt(6))
	expect(t, "scale(3, nil)", NewInt(6))
	expect(t, "scale(factor=3, x=2)", NewInt(6))
	expect(t, "define(f, a, b, a - b) f(b=1, a=10)", NewInt(9))
	runError(t, "scale(y=1)", ArityMismatch)
}

func TestParallelBlock(t *testing.T) {
	setup(t)
	expect(t, "parallel_block(log(slow(20, 1)), log(2))", NewNil())
	if diff := cmp.Diff([]string{"2", "1"}, testLog); diff != "" {
		t.Errorf("parallel statements (-want +got):\n%s", diff)
	}
}

func TestAsync(t *testing.T) {
	setup(t)
	expect(t, "define(f, async(slow(10, 4))) f + 1", NewInt(5))
}

func TestStoreIntoSlice(t *testing.T) {
	setup(t)
	got := run(t, `
		define(v, [1.0, 2.0, 3.0])
		define(w, v)
		store(at(v, 1), 9)
		list(v, w)`)
	want := NewList([]Value{
		NewArray(ir.NewFloat64([]int{3}, []float64{1, 9, 3})),
		NewArray(ir.NewFloat64([]int{3}, []float64{1, 2, 3})),
	})
	if !Equal(got, want) {
		t.Errorf("store through slice: expected %v, got %v", want, got)
	}
	runError(t, "store(nothing, 1)", UnboundName)
	runError(t, "store(scale(1), 1)", SyntaxError)
	runError(t, "define(f, x, store(x, 1)) f(1)", SyntaxError)
}

func TestErrors(t *testing.T) {
	setup(t)
	e := runError(t, "1 +\n  missing", UnboundName)
	if e.Span == nil || e.Span.Line != 2 || e.Span.Col != 3 {
		t.Errorf("unbound name span: %v", e.Span)
	}
	runError(t, "define(1, 2)", SyntaxError)
	runError(t, "define(f)", SyntaxError)
	runError(t, "foo(1)", UnknownPrimitive)
	runError(t, "define(f, a, a) f(1, 2)", ArityMismatch)
	runError(t, "define(g, lambda(a, a)) g(1, 2)", ArityMismatch)
	runError(t, "list(1, 2", SyntaxError)
	runError(t, `"open`, SyntaxError)
	e = runError(t, "block(1, fail())", DomainError)
	if e.Primitive != "fail" || e.Span == nil || e.Span.Col != 10 {
		t.Errorf("error should name primitive and position: %v", e)
	}
}

func TestFolding(t *testing.T) {
	setup(t)
	u, err := Compile("fold", "1 + 2 * 3", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !u.Root().IsLiteral() || !Equal(u.Root().Literal(), NewInt(7)) {
		t.Errorf("expected folded literal, got %v", u.Root())
	}
	u, err = Compile("nofold", "log(1)", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if u.Root().IsLiteral() {
		t.Errorf("side effects must not be folded")
	}
	// failing folds are reported at run time, not at compile time
	if _, err := Compile("failfold", "at([1.0], 7)", nil, nil); err != nil {
		t.Errorf("compile should succeed: %v", err)
	}
}

func TestCompileCache(t *testing.T) {
	setup(t)
	cache := NewFunctionCache()
	env := NewEnvironment(nil)
	a, err := Compile("f", "lambda(a, b, a + b)", cache, env)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Compile("f", "lambda(a, b, a + b)", cache, env)
	if a != b || cache.Hits() != 1 {
		t.Errorf("expected cache hit, got %p %p hits=%d", a, b, cache.Hits())
	}
	c, _ := Compile("f", "lambda(a, b, a - b)", cache, env)
	if c == a || cache.Len() != 2 {
		t.Errorf("different source must recompile")
	}
	v, err := a.Run(context.Background(), NewInt(2), NewInt(3))
	if err != nil || !Equal(v, NewInt(5)) {
		t.Errorf("run with arguments: %v %v", v, err)
	}
	v, _ = c.Run(context.Background(), NewInt(2), NewInt(3))
	if !Equal(v, NewInt(-1)) {
		t.Errorf("run with arguments: %v", v)
	}
}

func TestEnvironmentPersistsDefines(t *testing.T) {
	setup(t)
	env := NewEnvironment(nil)
	ctx := context.Background()
	if _, err := Eval(ctx, "a", "define(sq, x, x * x)", env); err != nil {
		t.Fatal(err)
	}
	v, err := Eval(ctx, "b", "sq(7)", env)
	if err != nil || !Equal(v, NewInt(49)) {
		t.Errorf("define across compile units: %v %v", v, err)
	}
	child := NewEnvironment(env)
	child.Set("k", NewInt(2))
	v, err = Eval(ctx, "c", "sq(k)", child)
	if err != nil || !Equal(v, NewInt(4)) {
		t.Errorf("child environment: %v %v", v, err)
	}
	if _, ok := env.Get("k"); ok {
		t.Errorf("child definitions must not leak into the parent")
	}
	// a failing define leaves no half compiled function behind
	if _, err := Eval(ctx, "d", "define(broken, x, x + undefined_name)", env); !IsKind(err, UnboundName) {
		t.Fatalf("expected UnboundName, got %v", err)
	}
	if _, ok := env.Get("broken"); ok {
		t.Errorf("broken function should not be defined")
	}
}

func TestParser(t *testing.T) {
	asts, err := Parse("p", `f(a, b = -2) + [1, 2] * !x // comment
	/* block */ "s\n"`)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, a := range asts {
		got = append(got, a.String())
	}
	want := []string{`__add(f(a, b=-2), __mul([1, 2], __not(x)))`, `"s\n"`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parse (-want +got):\n%s", diff)
	}
}

func TestParserPrecedence(t *testing.T) {
	for source, want := range map[string]string{
		"a || b && c == d < e + f * g": "__or(a, __and(b, __eq(c, __lt(d, __add(e, __mul(f, g))))))",
		"a - b - c":                    "__sub(__sub(a, b), c)",
		"a <= b != c >= d":             "__ne(__le(a, b), __ge(c, d))",
		"f(x == y, n = 1,)":            "f(__eq(x, y), n=1)",
		"-x * -2.5":                    "__mul(__minus(x), -2.5)",
		"(a + b)(1)(2)":                "__add(a, b)(1)(2)",
		"[x, 1,]":                      "__array(x, 1)",
		"[[1, 2], [3, 4]] % 3":         "__mod([[1, 2], [3, 4]], 3)",
		"true && !nil":                 "__and(true, __not(nil))",
		"a/b/*comment*/ / c":           "__div(__div(a, b), c)",
	} {
		asts, err := Parse("p", source)
		if err != nil {
			t.Errorf("%s: %v", source, err)
			continue
		}
		if len(asts) != 1 || asts[0].String() != want {
			t.Errorf("%s: expected %s, got %v", source, want, asts)
		}
	}

	asts, err := Parse("p", "define(x, 1)\n  x, y")
	if err != nil {
		t.Fatal(err)
	}
	if len(asts) != 3 {
		t.Fatalf("expected three expressions, got %v", asts)
	}
	if sp := asts[1].Span; sp.Line != 2 || sp.Col != 3 || sp.Source != "p" {
		t.Errorf("span of x: %v", sp)
	}
	if sp := asts[2].Span; sp.Line != 2 || sp.Col != 6 {
		t.Errorf("span of y: %v", sp)
	}
	if asts, err := Parse("p", "  // nothing\n"); err != nil || len(asts) != 0 {
		t.Errorf("empty program: %v %v", asts, err)
	}
}

func TestParserErrors(t *testing.T) {
	for source, incomplete := range map[string]bool{
		"list(1, 2":      true,
		"1 +":            true,
		"define(f, x,\n": true,
		`"open`:          true,
		"/* open":        true,
		"f(1 2)":         false,
		"1 # 2":          false,
		"x = 1":          false,
		"1e999":          false,
	} {
		_, err := Parse("p", source)
		var e *Error
		if !errors.As(err, &e) || e.Kind != SyntaxError || e.Span == nil {
			t.Errorf("%s: expected a SyntaxError with position, got %v", source, err)
			continue
		}
		if Incomplete(err) != incomplete {
			t.Errorf("%s: incomplete should be %v (%v)", source, incomplete, err)
		}
	}
	_, err := Parse("p", "f(1,\n   #)")
	var e *Error
	if !errors.As(err, &e) || e.Span.Line != 2 || e.Span.Col != 4 || !strings.Contains(e.Message, `"#)"`) {
		t.Errorf("expected the error at 2:4, got %v", err)
	}
}

// grammars are pooled; parses on many goroutines must not share parser state
func TestParserConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				source := fmt.Sprintf("f(%d, [%d, x], g(y = %d))", i, j, i*j)
				want := fmt.Sprintf("f(%d, __array(%d, x), g(y=%d))", i, j, i*j)
				asts, err := Parse("p", source)
				if err != nil || len(asts) != 1 || asts[0].String() != want {
					t.Errorf("%s: %v %v", source, asts, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestSlotCopyOnWrite(t *testing.T) {
	s := new(Slot)
	s.Store(NewArray(ir.NewInt64([]int{3}, []int64{1, 2, 3})))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if s.Load().Array().Size() != 3 {
					t.Error("reader saw a broken array")
				}
			}
		}()
	}
	wg.Wait()

	before := s.Load()
	set := func(k int, v int64) {
		t.Helper()
		if err := s.Update(func(data *ir.NodeData, ann *ir.Annotation) error {
			data.SetInt(k, v)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	set(0, 10)
	first := s.val.Array()
	set(1, 20)
	if s.val.Array() != first {
		t.Errorf("a store without a read in between must not copy again")
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, []int64{before.Array().Int(0), before.Array().Int(1), before.Array().Int(2)}); diff != "" {
		t.Errorf("earlier read changed (-want +got):\n%s", diff)
	}
	after := s.Load().Array()
	if after.Int(0) != 10 || after.Int(1) != 20 {
		t.Errorf("stores lost: %v", s.Load())
	}
	set(2, 30)
	if s.val.Array() == after {
		t.Errorf("a store after a read must copy")
	}
	s.Store(NewInt(1))
	if err := s.Update(func(*ir.NodeData, *ir.Annotation) error { return nil }); !IsKind(err, TypeMismatch) {
		t.Errorf("expected a TypeMismatch for a scalar slot, got %v", err)
	}
}
