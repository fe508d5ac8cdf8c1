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
)

// scope is the compile time view of one function body
type scope struct {
	parent *scope
	fn     *Function
	locals map[string]int
}

func (s *scope) local(name string) int {
	if i, ok := s.locals[name]; ok {
		return i
	}
	i := s.fn.nlocals
	s.locals[name] = i
	s.fn.nlocals++
	return i
}

// Compiler translates ASTs of one compile unit into nodes
type Compiler struct {
	unit  string
	env   *Environment
	scope *scope
	seq   int
}

func NewCompiler(unit string, env *Environment) *Compiler {
	return &Compiler{unit: unit, env: env}
}

func (c *Compiler) Environment() *Environment { return c.env }

func (c *Compiler) nodeName(head string, span SourceInfo) string {
	c.seq++
	return fmt.Sprintf("%s$%d$%d$%d", head, c.seq, span.Line, span.Col)
}

func errorAt(err error, span SourceInfo, primitive string) error {
	return attach(err, primitive, &span)
}

func (c *Compiler) Compile(a *AST) (*Node, error) {
	switch a.Kind {
	case ASTLiteral:
		return literalNode(a.Value, a.Span), nil
	case ASTSymbol:
		return c.compileSymbol(a)
	}
	return c.compileCall(a)
}

// CompileAll compiles a list of ASTs (operands of a call)
func (c *Compiler) CompileAll(asts []*AST) ([]*Node, error) {
	result := make([]*Node, len(asts))
	for i, a := range asts {
		n, err := c.Compile(a)
		if err != nil {
			return nil, err
		}
		result[i] = n
	}
	return result, nil
}

type binding uint8

const (
	bindNone binding = iota
	bindArg
	bindLocal
	bindGlobalFunc
	bindGlobalVar
	bindPrimitive
)

type resolved struct {
	kind  binding
	up    int
	index int
	fn    *Function
	slot  *Slot
}

func (c *Compiler) resolve(name string) resolved {
	up := 0
	for s := c.scope; s != nil; s = s.parent {
		for i, p := range s.fn.params {
			if p == name {
				return resolved{kind: bindArg, up: up, index: i}
			}
		}
		if i, ok := s.locals[name]; ok {
			return resolved{kind: bindLocal, up: up, index: i}
		}
		up++
	}
	if entry := c.env.lookup(name); entry != nil {
		if entry.fn != nil {
			return resolved{kind: bindGlobalFunc, fn: entry.fn}
		}
		return resolved{kind: bindGlobalVar, slot: entry.slot}
	}
	if len(Lookup(name)) > 0 {
		return resolved{kind: bindPrimitive}
	}
	return resolved{}
}

func (c *Compiler) compileSymbol(a *AST) (*Node, error) {
	r := c.resolve(a.Name)
	n := &Node{name: a.Name, span: a.Span, up: r.up, index: r.index, fn: r.fn, slot: r.slot}
	switch r.kind {
	case bindArg:
		n.eval = evalArg
	case bindLocal:
		n.eval = evalLocal
	case bindGlobalFunc:
		n.eval = evalFunctionRef
	case bindGlobalVar:
		n.eval = evalGlobal
	case bindPrimitive:
		if def := Lookup(a.Name)[0]; def.Compile != nil {
			return nil, errorAt(Errorf(SyntaxError, "%s cannot be used as a value", a.Name), a.Span, "")
		}
		return literalNode(NewFunc(primitiveValue{a.Name}), a.Span), nil
	default:
		return nil, errorAt(Errorf(UnboundName, "unbound name %q", a.Name), a.Span, "")
	}
	return n, nil
}

func evalArg(n *Node, ctx EvalContext) *Future {
	return Ready(ctx.frame.up(n.up).arg(n.index))
}

func evalLocal(n *Node, ctx EvalContext) *Future {
	return Ready(ctx.frame.up(n.up).locals[n.index].Load())
}

func evalGlobal(n *Node, ctx EvalContext) *Future {
	return Ready(n.slot.Load())
}

func evalFunctionRef(n *Node, ctx EvalContext) *Future {
	return Ready(NewFunc(&Closure{fn: n.fn}))
}

func (c *Compiler) compileCall(a *AST) (*Node, error) {
	name := a.HeadName()
	if name == "" {
		// computed head, e.g. lambda(x, x)(1)
		head, err := c.Compile(a.Head)
		if err != nil {
			return nil, err
		}
		return c.dynamicCall(a, head)
	}

	// special forms cannot be shadowed
	if patterns := Lookup(name); len(patterns) > 0 && patterns[0].Compile != nil {
		def, err := Match(name, len(a.Args))
		if err != nil {
			// a malformed special form is a syntax error, not a call error
			return nil, errorAt(&Error{Kind: SyntaxError, Message: err.(*Error).Message}, a.Span, name)
		}
		if a.Names != nil {
			return nil, errorAt(Errorf(SyntaxError, "%s does not accept named arguments", name), a.Span, name)
		}
		return def.Compile(c, a)
	}

	r := c.resolve(name)
	switch r.kind {
	case bindArg, bindLocal, bindGlobalVar:
		head, err := c.compileSymbol(a.Head)
		if err != nil {
			return nil, err
		}
		return c.dynamicCall(a, head)
	case bindGlobalFunc:
		return c.staticCall(a, r.fn)
	case bindPrimitive:
		return c.primitiveCall(a, name)
	}
	return nil, errorAt(Errorf(UnknownPrimitive, "unknown primitive or function %q", name), a.Span, "")
}

// positional reorders named arguments onto parameter positions
func positional(a *AST, params []string, callee string) ([]*AST, error) {
	if a.Names == nil {
		return a.Args, nil
	}
	var result []*AST
	for i, arg := range a.Args {
		pos := i
		if a.Names[i] != "" {
			pos = -1
			for j, p := range params {
				if p == a.Names[i] {
					pos = j
				}
			}
			if pos < 0 {
				return nil, errorAt(Errorf(ArityMismatch, "%s has no parameter named %q", callee, a.Names[i]), arg.Span, callee)
			}
		}
		for len(result) <= pos {
			result = append(result, nil)
		}
		if result[pos] != nil {
			return nil, errorAt(Errorf(SyntaxError, "parameter %d of %s given twice", pos+1, callee), arg.Span, callee)
		}
		result[pos] = arg
	}
	for i, arg := range result {
		if arg == nil {
			result[i] = &AST{Kind: ASTLiteral, Value: NewNil(), Span: a.Span}
		}
	}
	return result, nil
}

func (c *Compiler) primitiveCall(a *AST, name string) (*Node, error) {
	args := a.Args
	if a.Names != nil {
		// named arguments bind against the widest pattern
		patterns := Lookup(name)
		widest := patterns[0]
		for _, p := range patterns {
			if len(p.Params) > len(widest.Params) {
				widest = p
			}
		}
		params := make([]string, len(widest.Params))
		for i, p := range widest.Params {
			params[i] = p.Name
		}
		var err error
		if args, err = positional(a, params, name); err != nil {
			return nil, err
		}
	}
	def, err := Match(name, len(args))
	if err != nil {
		return nil, errorAt(err, a.Span, name)
	}
	operands, err := c.CompileAll(args)
	if err != nil {
		return nil, err
	}
	n := newCallNode(c.nodeName(name, a.Span), a.Span, def, operands)
	return fold(n), nil
}

func (c *Compiler) staticCall(a *AST, fn *Function) (*Node, error) {
	args, err := positional(a, fn.params, fn.name)
	if err != nil {
		return nil, err
	}
	if len(args) > len(fn.params) {
		return nil, errorAt(Errorf(ArityMismatch, "function %s expects at most %d parameters, %d given", fn.name, len(fn.params), len(args)), a.Span, fn.name)
	}
	operands, err := c.CompileAll(args)
	if err != nil {
		return nil, err
	}
	return &Node{name: c.nodeName(fn.name, a.Span), span: a.Span, operands: operands, fn: fn, heavy: true, eval: evalStaticCall}, nil
}

func evalStaticCall(n *Node, ctx EvalContext) *Future {
	return Dataflow(n.EvalOperands(ctx), func(args []Value) (Value, error) {
		inner, err := ctx.enter(n.fn, args, nil)
		if err != nil {
			return Value{}, n.Wrap(err)
		}
		return catchReturn(n.fn.body.Eval(inner)).Get()
	})
}

func (c *Compiler) dynamicCall(a *AST, head *Node) (*Node, error) {
	if a.Names != nil {
		return nil, errorAt(Errorf(SyntaxError, "named arguments need a statically known function"), a.Span, "")
	}
	args, err := c.CompileAll(a.Args)
	if err != nil {
		return nil, err
	}
	operands := append([]*Node{head}, args...)
	return &Node{name: c.nodeName(head.name, a.Span), span: a.Span, operands: operands, heavy: true, eval: evalDynamicCall}, nil
}

func evalDynamicCall(n *Node, ctx EvalContext) *Future {
	return Dataflow(n.EvalOperands(ctx), func(args []Value) (Value, error) {
		callee, err := args[0].AsCallable()
		if err != nil {
			return Value{}, n.Wrap(err)
		}
		v, err := callee.Call(ctx, args[1:]).Get()
		if err != nil {
			return Value{}, n.Wrap(err)
		}
		return v, nil
	})
}

// fold evaluates side-effect-free calls on literals at compile time
func fold(n *Node) *Node {
	if n.decl.Fn == nil || !n.decl.Foldable {
		return n
	}
	args := make([]Value, len(n.operands))
	for i, op := range n.operands {
		if !op.literal {
			return n
		}
		args[i] = op.value
	}
	v, err := n.CallKernel(args)
	if err != nil {
		return n // report the error when it is actually evaluated
	}
	return literalNode(v, n.span)
}

// function compiles params and body of a define or lambda into fn
func (c *Compiler) function(fn *Function, body *AST) error {
	c.scope = &scope{parent: c.scope, fn: fn, locals: make(map[string]int)}
	defer func() { c.scope = c.scope.parent }()
	n, err := c.Compile(body)
	if err != nil {
		return err
	}
	fn.body = n
	return nil
}

func symbolNames(args []*AST, form string) ([]string, error) {
	names := make([]string, len(args))
	for i, a := range args {
		if a.Kind != ASTSymbol {
			return nil, errorAt(Errorf(SyntaxError, "%s expects parameter names, found %s", form, a), a.Span, form)
		}
		names[i] = a.Name
	}
	return names, nil
}
