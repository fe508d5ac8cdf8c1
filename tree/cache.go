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
	"sync"
)

type cacheKey struct {
	name   string
	source string
}

// FunctionCache maps (name, source) to a compiled unit
type FunctionCache struct {
	mu      sync.Mutex
	entries map[cacheKey]*CompiledUnit
	hits    int
}

func NewFunctionCache() *FunctionCache {
	return &FunctionCache{entries: make(map[cacheKey]*CompiledUnit)}
}

// Hits counts compile requests answered from the cache
func (fc *FunctionCache) Hits() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.hits
}

func (fc *FunctionCache) Len() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.entries)
}

// CompiledUnit is the root of a compiled source text
type CompiledUnit struct {
	Name   string
	Source string
	env    *Environment
	body   *Node
}

func (u *CompiledUnit) Environment() *Environment { return u.env }
func (u *CompiledUnit) Root() *Node               { return u.body }

/*
Compile parses source and compiles it against env.

The top level expressions are evaluated in order like a block. With a
non nil cache, a second request for the same name and source text in the
same environment returns the unit compiled first.
*/
func Compile(name, source string, cache *FunctionCache, env *Environment) (*CompiledUnit, error) {
	Init()
	if env == nil {
		env = NewEnvironment(nil)
	}
	key := cacheKey{name, source}
	if cache != nil {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		if u, ok := cache.entries[key]; ok && u.env == env {
			cache.hits++
			return u, nil
		}
	}
	asts, err := Parse(name, source)
	if err != nil {
		return nil, err
	}
	c := NewCompiler(name, env)
	var body *Node
	switch len(asts) {
	case 0:
		body = literalNode(NewNil(), SourceInfo{Source: name, Line: 1, Col: 1})
	case 1:
		body, err = c.Compile(asts[0])
	default:
		body, err = c.Compile(&AST{Kind: ASTCall, Head: &AST{Kind: ASTSymbol, Name: "block", Span: asts[0].Span}, Args: asts, Span: asts[0].Span})
	}
	if err != nil {
		return nil, err
	}
	u := &CompiledUnit{Name: name, Source: source, env: env, body: body}
	if cache != nil {
		cache.entries[key] = u
	}
	return u, nil
}

// RunAsync evaluates the unit; if args are given, the result is called with them
func (u *CompiledUnit) RunAsync(ctx context.Context, args ...Value) *Future {
	ectx := NewEvalContext(ctx)
	f := catchReturn(u.body.Eval(ectx))
	if len(args) == 0 {
		return f
	}
	return Then(f, func(v Value) *Future {
		if v.kind != KindNode {
			return Ready(v)
		}
		return v.Callable().Call(ectx, args)
	})
}

func (u *CompiledUnit) Run(ctx context.Context, args ...Value) (Value, error) {
	return u.RunAsync(ctx, args...).Get()
}

// Eval is the shortcut for compile and run without a cache
func Eval(ctx context.Context, name, source string, env *Environment) (Value, error) {
	u, err := Compile(name, source, nil, env)
	if err != nil {
		return Value{}, err
	}
	return u.Run(ctx)
}
