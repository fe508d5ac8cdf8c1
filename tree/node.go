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
	"strings"
)

/*
Node is a compiled call of the execution tree.

Its operands are fixed after compilation and may be shared by several
parents and evaluated concurrently. Every Eval is a fresh evaluation;
nothing is cached on the node.
*/
type Node struct {
	name     string
	span     SourceInfo
	decl     *Declaration
	operands []*Node
	literal  bool
	value    Value
	heavy    bool // evaluation may take a while, worth its own goroutine
	eval     func(n *Node, ctx EvalContext) *Future

	// addressing for variable, argument and function nodes
	slot  *Slot
	fn    *Function
	up    int
	index int
}

func (n *Node) Name() string           { return n.name }
func (n *Node) Span() SourceInfo       { return n.span }
func (n *Node) Operands() []*Node      { return n.operands }
func (n *Node) Operand(i int) *Node    { return n.operands[i] }
func (n *Node) NumOperands() int       { return len(n.operands) }
func (n *Node) IsLiteral() bool        { return n.literal }
func (n *Node) Literal() Value         { return n.value }
func (n *Node) Declaration() *Declaration { return n.decl }

// primitive returns the bare primitive name without sequence and position
func (n *Node) primitive() string {
	if n.decl != nil {
		return n.decl.Name
	}
	if i := strings.IndexByte(n.name, '$'); i > 0 {
		return n.name[:i]
	}
	return n.name
}

// Fail wraps err with this node's primitive name and source span
func (n *Node) Fail(err error) *Future {
	return Failed(n.Wrap(err))
}

func (n *Node) Wrap(err error) error {
	span := n.span
	return attach(err, n.primitive(), &span)
}

// Guard runs fn and attributes its errors and panics to n
func (n *Node) Guard(fn func() (Value, error)) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = n.Wrap(fromPanic(r))
		}
	}()
	v, err = fn()
	if err != nil {
		err = n.Wrap(err)
	}
	return
}

func (n *Node) Eval(ctx EvalContext) *Future {
	if Trace != nil {
		return n.traced(ctx)
	}
	return n.eval(n, ctx)
}

// EvalOperands starts all operand evaluations; heavy siblings run in parallel
func (n *Node) EvalOperands(ctx EvalContext) []*Future {
	heavy := 0
	for _, op := range n.operands {
		if op.heavy {
			heavy++
		}
	}
	result := make([]*Future, len(n.operands))
	for i, op := range n.operands {
		if heavy > 1 && op.heavy {
			op := op
			result[i] = Async(func() (Value, error) {
				return op.Eval(ctx).Get()
			})
		} else {
			result[i] = op.Eval(ctx)
		}
	}
	return result
}

func literalNode(v Value, span SourceInfo) *Node {
	return &Node{name: "literal", span: span, literal: true, value: v, eval: evalLiteral}
}

func evalLiteral(n *Node, ctx EvalContext) *Future {
	return Ready(n.value)
}

func newCallNode(name string, span SourceInfo, def *Declaration, operands []*Node) *Node {
	n := &Node{name: name, span: span, decl: def, operands: operands, heavy: true}
	if def.Eval != nil {
		n.eval = def.Eval
	} else {
		n.eval = evalKernel
	}
	return n
}

// evalKernel resolves all operands, then runs the kernel on the worker pool
func evalKernel(n *Node, ctx EvalContext) *Future {
	return Dataflow(n.EvalOperands(ctx), func(args []Value) (Value, error) {
		return n.CallKernel(args)
	})
}

func (n *Node) CallKernel(args []Value) (v Value, err error) {
	args = n.decl.Bind(args)
	defer func() {
		if r := recover(); r != nil {
			err = n.Wrap(fromPanic(r))
		}
	}()
	return compute(func() Value { return n.decl.Fn(args...) }), nil
}

func (n *Node) String() string {
	return fmt.Sprintf("%s (%s)", n.name, n.span)
}
