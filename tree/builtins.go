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
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Stdout receives the output of print
var Stdout io.Writer = os.Stdout
var stdoutMutex sync.Mutex

var builtinsOnce sync.Once

// Init registers the language core; safe to call more than once
func Init() {
	initControlflow()
	builtinsOnce.Do(initBuiltins)
}

func initBuiltins() {
	DeclareTitle("Lists")
	Declare(&Declaration{
		Name: "list", Desc: "creates a list of its arguments",
		MinParameter: 0, MaxParameter: Variadic,
		Params: []DeclarationParameter{
			{Name: "values...", Type: "any", Desc: "elements"},
		},
		Returns:  "list",
		Foldable: true,
		Fn: func(a ...Value) Value {
			return NewList(append([]Value{}, a...))
		},
	})
	Declare(&Declaration{
		Name: "make_list", Desc: "creates a list of n copies of value",
		MinParameter: 1, MaxParameter: 2,
		Params: []DeclarationParameter{
			{Name: "n", Type: "int", Desc: "length"},
			{Name: "value", Type: "any", Desc: "element", Default: func() Value { return NewNil() }},
		},
		Returns:  "list",
		Foldable: true,
		Fn: func(a ...Value) Value {
			n := ToInt(a[0])
			if n < 0 {
				panic(Errorf(DomainError, "negative list length %d", n))
			}
			l := make([]Value, n)
			for i := range l {
				l[i] = a[1]
			}
			return NewList(l)
		},
	})
	Declare(&Declaration{
		Name: "nth", Desc: "returns element i of a list (0 based)",
		MinParameter: 2, MaxParameter: 2,
		Params: []DeclarationParameter{
			{Name: "list", Type: "list", Desc: "list"},
			{Name: "i", Type: "int", Desc: "index"},
		},
		Returns:  "any",
		Foldable: true,
		Fn: func(a ...Value) Value {
			l := ToList(a[0])
			i := ToInt(a[1])
			if i < 0 || i >= int64(len(l)) {
				panic(Errorf(DomainError, "index %d out of range for list of length %d", i, len(l)))
			}
			return l[i]
		},
	})
	Declare(&Declaration{
		Name: "append", Desc: "returns a new list with values added at the end",
		MinParameter: 1, MaxParameter: Variadic,
		Params: []DeclarationParameter{
			{Name: "list", Type: "list", Desc: "base list"},
			{Name: "values...", Type: "any", Desc: "new elements"},
		},
		Returns:  "list",
		Foldable: true,
		Fn: func(a ...Value) Value {
			l := ToList(a[0])
			r := make([]Value, 0, len(l)+len(a)-1)
			r = append(r, l...)
			return NewList(append(r, a[1:]...))
		},
	})
	Declare(&Declaration{
		Name: "map", Desc: "calls fn on every element of list and returns the results as list",
		MinParameter: 2, MaxParameter: 2,
		Params: []DeclarationParameter{
			{Name: "list", Type: "list", Desc: "input"},
			{Name: "fn", Type: "func", Desc: "function of one argument"},
		},
		Returns: "list",
		Eval: func(n *Node, ctx EvalContext) *Future {
			return Dataflow(n.EvalOperands(ctx), func(args []Value) (Value, error) {
				l, err := args[0].AsList()
				if err != nil {
					return Value{}, n.Wrap(err)
				}
				futures := make([]*Future, len(l))
				for i, e := range l {
					futures[i] = Call(ctx, args[1], e)
				}
				result := make([]Value, len(l))
				for i, f := range futures {
					if result[i], err = f.Get(); err != nil {
						return Value{}, n.Wrap(err)
					}
				}
				return NewList(result), nil
			})
		},
	})

	Declare(&Declaration{
		Name: "apply", Desc: "calls fn with the elements of list as its arguments",
		MinParameter: 2, MaxParameter: 2,
		Params: []DeclarationParameter{
			{Name: "fn", Type: "func", Desc: "function or primitive"},
			{Name: "args", Type: "list", Desc: "arguments"},
		},
		Returns: "any",
		Eval: func(n *Node, ctx EvalContext) *Future {
			return Dataflow(n.EvalOperands(ctx), func(args []Value) (Value, error) {
				l, err := args[1].AsList()
				if err != nil {
					return Value{}, n.Wrap(err)
				}
				v, err := Call(ctx, args[0], l...).Get()
				if err != nil {
					return Value{}, n.Wrap(err)
				}
				return v, nil
			})
		},
	})

	DeclareTitle("Values")
	Declare(&Declaration{
		Name: "is_nil", Desc: "tells whether value is nil",
		MinParameter: 1, MaxParameter: 1,
		Params: []DeclarationParameter{
			{Name: "value", Type: "any", Desc: "value"},
		},
		Returns:  "bool",
		Foldable: true,
		Fn: func(a ...Value) Value {
			return NewBool(a[0].IsNil())
		},
	})
	Declare(&Declaration{
		Name: "equal", Desc: "structural equality of two values; annotations are ignored",
		MinParameter: 2, MaxParameter: 2,
		Params: []DeclarationParameter{
			{Name: "a", Type: "any", Desc: "value"},
			{Name: "b", Type: "any", Desc: "value"},
		},
		Returns:  "bool",
		Foldable: true,
		Fn: func(a ...Value) Value {
			return NewBool(Equal(a[0], a[1]))
		},
	})
	Declare(&Declaration{
		Name: "__array", Desc: "stacks scalars or equally shaped arrays into an array of one more dimension",
		MinParameter: 0, MaxParameter: Variadic,
		Params: []DeclarationParameter{
			{Name: "elements...", Type: "any", Desc: "elements"},
		},
		Returns:  "array",
		Foldable: true,
		Fn: func(a ...Value) Value {
			data, err := Stack(a)
			if err != nil {
				panic(err)
			}
			return NewArray(data)
		},
	})
	Declare(&Declaration{
		Name: "print", Desc: "prints its arguments and returns the last one",
		MinParameter: 0, MaxParameter: Variadic,
		Params: []DeclarationParameter{
			{Name: "values...", Type: "any", Desc: "values to print"},
		},
		Returns: "any",
		Fn: func(a ...Value) Value {
			var b strings.Builder
			for i, v := range a {
				if i > 0 {
					b.WriteByte(' ')
				}
				if v.kind == KindString {
					b.WriteString(v.Str())
				} else {
					b.WriteString(v.String())
				}
			}
			stdoutMutex.Lock()
			fmt.Fprintln(Stdout, b.String())
			stdoutMutex.Unlock()
			if len(a) == 0 {
				return NewNil()
			}
			return a[len(a)-1]
		},
	})
	Declare(&Declaration{
		Name: "help", Desc: "prints the documentation of a primitive",
		MinParameter: 0, MaxParameter: 1,
		Params: []DeclarationParameter{
			{Name: "name", Type: "string", Desc: "primitive name; lists all primitives if missing"},
		},
		Returns: "nil",
		Fn: func(a ...Value) Value {
			name := ""
			if len(a) > 0 && !a[0].IsNil() {
				name = ToString(a[0])
			}
			stdoutMutex.Lock()
			defer stdoutMutex.Unlock()
			if err := Help(Stdout, name); err != nil {
				panic(err)
			}
			return NewNil()
		},
	})
}
