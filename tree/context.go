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
	"sync/atomic"
)

// MaxDepth is the recursion ceiling of user function calls
var MaxDepth atomic.Int64

func init() {
	MaxDepth.Store(2000)
}

// Frame is one activation of a user function
type Frame struct {
	fn     *Function
	args   []Value
	locals []*Slot
	parent *Frame
}

func (f *Frame) up(n int) *Frame {
	for ; n > 0; n-- {
		f = f.parent
	}
	return f
}

func (f *Frame) arg(i int) Value {
	if i < len(f.args) {
		return f.args[i]
	}
	return Value{}
}

/*
EvalContext is passed by value through every Eval.

It carries the recursion depth, the active frame with its argument
bindings and the Go context that holds collaborators such as the locality.
*/
type EvalContext struct {
	ctx   context.Context
	depth int
	frame *Frame
}

func NewEvalContext(ctx context.Context) EvalContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return EvalContext{ctx: ctx}
}

func (c EvalContext) Context() context.Context { return c.ctx }
func (c EvalContext) Depth() int               { return c.depth }

// Args returns the positional arguments of the current call frame
func (c EvalContext) Args() []Value {
	if c.frame == nil {
		return nil
	}
	return c.frame.args
}

// enter opens a new frame for fn below parent
func (c EvalContext) enter(fn *Function, args []Value, parent *Frame) (EvalContext, error) {
	if int64(c.depth) >= MaxDepth.Load() {
		return c, Errorf(StackLimitExceeded, "recursion depth of %d exceeded calling %s", MaxDepth.Load(), fn.name)
	}
	frame := &Frame{fn: fn, args: args, parent: parent}
	if fn.nlocals > 0 {
		frame.locals = make([]*Slot, fn.nlocals)
		for i := range frame.locals {
			frame.locals[i] = new(Slot)
		}
	}
	c.depth++
	c.frame = frame
	return c, nil
}

// Closure is a function value together with the frame it was created in
type Closure struct {
	fn    *Function
	frame *Frame
}

func (c *Closure) Name() string { return c.fn.name }

func (c *Closure) Call(ctx EvalContext, args []Value) *Future {
	if len(args) > len(c.fn.params) {
		return Failed(Errorf(ArityMismatch, "function %s expects at most %d parameters, %d given", c.fn.name, len(c.fn.params), len(args)))
	}
	inner, err := ctx.enter(c.fn, args, c.frame)
	if err != nil {
		return Failed(err)
	}
	return catchReturn(c.fn.body.Eval(inner))
}

// catchReturn turns return(v) into the result of the enclosing call
func catchReturn(f *Future) *Future {
	unwrap := func(v Value, err error) (Value, error) {
		if r, ok := err.(*earlyReturn); ok {
			return r.value, nil
		}
		return v, err
	}
	if f.IsReady() {
		v, err := unwrap(f.Get())
		if err != nil {
			return Failed(err)
		}
		return Ready(v)
	}
	return Async(func() (Value, error) {
		return unwrap(f.Get())
	})
}

// primitiveValue lets a primitive be passed around as a function value
type primitiveValue struct {
	name string
}

func (p primitiveValue) Name() string { return p.name }

func (p primitiveValue) Call(ctx EvalContext, args []Value) *Future {
	def, err := Match(p.name, len(args))
	if err != nil {
		return Failed(err)
	}
	if def.Compile != nil {
		return Failed(Errorf(TypeMismatch, "special form %s cannot be called as a value", p.name))
	}
	operands := make([]*Node, len(args))
	for i, a := range args {
		operands[i] = literalNode(a, SourceInfo{Source: p.name})
	}
	return newCallNode(p.name, SourceInfo{Source: p.name}, def, operands).Eval(ctx)
}

// Call invokes a function value
func Call(ctx EvalContext, fn Value, args ...Value) *Future {
	c, err := fn.AsCallable()
	if err != nil {
		return Failed(err)
	}
	return c.Call(ctx, args)
}
