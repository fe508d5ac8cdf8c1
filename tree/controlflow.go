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
	"sync"

	"github.com/launix-de/arraytree/ir"
)

/*
StoreTarget makes a call usable as the first argument of store.

Prepare runs before the slot is locked, on every locality, and may turn
the stored value into what Apply expects (e.g. gather a distributed
value). Apply then writes into the privately owned array of the slot.
*/
type StoreTarget struct {
	Prepare func(ctx EvalContext, v Value) (Value, error)
	Apply   func(data *ir.NodeData, ann *ir.Annotation, index []Value, v Value) error
}

var storeTargets = make(map[string]StoreTarget)
var storeTargetsMutex sync.RWMutex

func DeclareStoreTarget(name string, t StoreTarget) {
	storeTargetsMutex.Lock()
	storeTargets[name] = t
	storeTargetsMutex.Unlock()
}

func lookupStoreTarget(name string) (StoreTarget, bool) {
	storeTargetsMutex.RLock()
	defer storeTargetsMutex.RUnlock()
	t, ok := storeTargets[name]
	return t, ok
}

var controlflowOnce sync.Once

func initControlflow() {
	controlflowOnce.Do(func() {
		DeclareTitle("Control flow")
		Declare(&Declaration{
			Name: "define", Desc: "binds a variable in the current scope",
			MinParameter: 2, MaxParameter: 2,
			Params: []DeclarationParameter{
				{Name: "name", Type: "symbol", Desc: "variable name"},
				{Name: "value", Type: "any", Desc: "initial value"},
			},
			Returns: "any",
			Compile: compileDefineVariable,
		})
		Declare(&Declaration{
			Name: "define", Desc: "defines a (possibly recursive) function; the body is compiled but not evaluated",
			MinParameter: 3, MaxParameter: Variadic,
			Params: []DeclarationParameter{
				{Name: "name", Type: "symbol", Desc: "function name"},
				{Name: "params...", Type: "symbol", Desc: "formal parameters"},
				{Name: "body", Type: "any", Desc: "function body"},
			},
			Returns: "func",
			Compile: compileDefineFunction,
		})
		Declare(&Declaration{
			Name: "lambda", Desc: "creates an anonymous function closing over the current frame",
			MinParameter: 1, MaxParameter: Variadic,
			Params: []DeclarationParameter{
				{Name: "params...", Type: "symbol", Desc: "formal parameters"},
				{Name: "body", Type: "any", Desc: "function body"},
			},
			Returns: "func",
			Compile: compileLambda,
		})
		Declare(&Declaration{
			Name: "block", Desc: "evaluates its arguments strictly one after another and returns the last result",
			MinParameter: 0, MaxParameter: Variadic,
			Params: []DeclarationParameter{
				{Name: "expressions...", Type: "any", Desc: "statements"},
			},
			Returns: "any",
			Compile: compileBlock,
		})
		Declare(&Declaration{
			Name: "parallel_block", Desc: "evaluates all arguments concurrently and waits for them; returns nil",
			MinParameter: 0, MaxParameter: Variadic,
			Params: []DeclarationParameter{
				{Name: "expressions...", Type: "any", Desc: "statements"},
			},
			Returns: "nil",
			Compile: compileParallelBlock,
		})
		Declare(&Declaration{
			Name: "if", Desc: "evaluates cond and then exactly one of the branches",
			MinParameter: 2, MaxParameter: 3,
			Params: []DeclarationParameter{
				{Name: "cond", Type: "bool", Desc: "condition"},
				{Name: "then", Type: "any", Desc: "evaluated if cond is true"},
				{Name: "else", Type: "any", Desc: "evaluated if cond is false; nil if missing"},
			},
			Returns: "any",
			Compile: compileIf,
		})
		Declare(&Declaration{
			Name: "while", Desc: "re-evaluates body as long as cond is true; returns the last body value or nil",
			MinParameter: 2, MaxParameter: 2,
			Params: []DeclarationParameter{
				{Name: "cond", Type: "bool", Desc: "loop condition"},
				{Name: "body", Type: "any", Desc: "loop body"},
			},
			Returns: "any",
			Compile: compileWhile,
		})
		Declare(&Declaration{
			Name: "store", Desc: "assigns a variable or, through a slicing primitive, a part of an array variable",
			MinParameter: 2, MaxParameter: 2,
			Params: []DeclarationParameter{
				{Name: "target", Type: "symbol", Desc: "variable or slice of a variable"},
				{Name: "value", Type: "any", Desc: "new value"},
			},
			Returns: "nil",
			Compile: compileStore,
		})
		Declare(&Declaration{
			Name: "return", Desc: "leaves the enclosing function with value",
			MinParameter: 0, MaxParameter: 1,
			Params: []DeclarationParameter{
				{Name: "value", Type: "any", Desc: "result of the function", Default: func() Value { return NewNil() }},
			},
			Returns: "any",
			Compile: compileReturn,
		})
		Declare(&Declaration{
			Name: "async", Desc: "starts the evaluation of expr in the background and returns a future",
			MinParameter: 1, MaxParameter: 1,
			Params: []DeclarationParameter{
				{Name: "expr", Type: "any", Desc: "expression"},
			},
			Returns: "any",
			Compile: compileAsync,
		})
	})
}

func defineName(call *AST) (string, error) {
	if call.Args[0].Kind != ASTSymbol {
		return "", errorAt(Errorf(SyntaxError, "define expects a name, found %s", call.Args[0]), call.Args[0].Span, "define")
	}
	return call.Args[0].Name, nil
}

func (c *Compiler) shadowsParam(name string, span SourceInfo) error {
	if c.scope == nil {
		return nil
	}
	for _, p := range c.scope.fn.params {
		if p == name {
			return errorAt(Errorf(SyntaxError, "cannot redefine parameter %s", name), span, "define")
		}
	}
	return nil
}

func compileDefineVariable(c *Compiler, call *AST) (*Node, error) {
	name, err := defineName(call)
	if err != nil {
		return nil, err
	}
	if err := c.shadowsParam(name, call.Span); err != nil {
		return nil, err
	}
	value, err := c.Compile(call.Args[1])
	if err != nil {
		return nil, err
	}
	n := &Node{name: c.nodeName("define", call.Span), span: call.Span, operands: []*Node{value}}
	if c.scope != nil {
		n.index = c.scope.local(name)
		n.eval = func(n *Node, ctx EvalContext) *Future {
			return Then(n.operands[0].Eval(ctx), func(v Value) *Future {
				ctx.frame.locals[n.index].Store(v)
				return Ready(v)
			})
		}
		return n, nil
	}
	n.slot = c.env.Variable(name)
	n.eval = func(n *Node, ctx EvalContext) *Future {
		return Then(n.operands[0].Eval(ctx), func(v Value) *Future {
			n.slot.Store(v)
			return Ready(v)
		})
	}
	return n, nil
}

func compileDefineFunction(c *Compiler, call *AST) (*Node, error) {
	name, err := defineName(call)
	if err != nil {
		return nil, err
	}
	if err := c.shadowsParam(name, call.Span); err != nil {
		return nil, err
	}
	last := len(call.Args) - 1
	params, err := symbolNames(call.Args[1:last], "define")
	if err != nil {
		return nil, err
	}
	fn := &Function{name: name, params: params, span: call.Span}
	n := &Node{name: c.nodeName("define", call.Span), span: call.Span, fn: fn}

	if c.scope != nil {
		// local function: lives in a slot of the enclosing frame
		_, existed := c.scope.locals[name]
		n.index = c.scope.local(name)
		if err := c.function(fn, call.Args[last]); err != nil {
			if !existed {
				delete(c.scope.locals, name)
			}
			return nil, err
		}
		n.eval = func(n *Node, ctx EvalContext) *Future {
			v := NewFunc(&Closure{fn: n.fn, frame: ctx.frame})
			ctx.frame.locals[n.index].Store(v)
			return Ready(v)
		}
		return n, nil
	}

	// register first so the body may call itself
	old := c.env.defineFunction(name, fn)
	if err := c.function(fn, call.Args[last]); err != nil {
		c.env.restore(name, old)
		return nil, err
	}
	n.eval = evalFunctionRef
	return n, nil
}

var lambdaMutex sync.Mutex
var lambdaSeq int

func compileLambda(c *Compiler, call *AST) (*Node, error) {
	last := len(call.Args) - 1
	params, err := symbolNames(call.Args[:last], "lambda")
	if err != nil {
		return nil, err
	}
	lambdaMutex.Lock()
	lambdaSeq++
	name := fmt.Sprintf("lambda$%d", lambdaSeq)
	lambdaMutex.Unlock()
	fn := &Function{name: name, params: params, span: call.Span}
	if err := c.function(fn, call.Args[last]); err != nil {
		return nil, err
	}
	return &Node{name: c.nodeName("lambda", call.Span), span: call.Span, fn: fn, eval: func(n *Node, ctx EvalContext) *Future {
		return Ready(NewFunc(&Closure{fn: n.fn, frame: ctx.frame}))
	}}, nil
}

func compileBlock(c *Compiler, call *AST) (*Node, error) {
	operands, err := c.CompileAll(call.Args)
	if err != nil {
		return nil, err
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return &Node{name: c.nodeName("block", call.Span), span: call.Span, operands: operands, heavy: true, eval: evalBlock}, nil
}

func evalBlock(n *Node, ctx EvalContext) *Future {
	if len(n.operands) == 0 {
		return Ready(NewNil())
	}
	return blockFrom(n.operands, 0, ctx)
}

// blockFrom starts statement i only after statement i-1 has resolved
func blockFrom(ops []*Node, i int, ctx EvalContext) *Future {
	f := ops[i].Eval(ctx)
	if i == len(ops)-1 {
		return f
	}
	return Then(f, func(Value) *Future {
		return blockFrom(ops, i+1, ctx)
	})
}

func compileParallelBlock(c *Compiler, call *AST) (*Node, error) {
	operands, err := c.CompileAll(call.Args)
	if err != nil {
		return nil, err
	}
	return &Node{name: c.nodeName("parallel_block", call.Span), span: call.Span, operands: operands, heavy: true, eval: func(n *Node, ctx EvalContext) *Future {
		futures := make([]*Future, len(n.operands))
		for i, op := range n.operands {
			op := op
			futures[i] = Async(func() (Value, error) {
				return op.Eval(ctx).Get()
			})
		}
		return Dataflow(futures, func([]Value) (Value, error) {
			return NewNil(), nil
		})
	}}, nil
}

func compileIf(c *Compiler, call *AST) (*Node, error) {
	operands, err := c.CompileAll(call.Args)
	if err != nil {
		return nil, err
	}
	return &Node{name: c.nodeName("if", call.Span), span: call.Span, operands: operands, heavy: true, eval: evalIf}, nil
}

func evalIf(n *Node, ctx EvalContext) *Future {
	return Then(n.operands[0].Eval(ctx), func(cond Value) *Future {
		b, err := cond.AsBool()
		if err != nil {
			return n.Fail(err)
		}
		if b {
			return n.operands[1].Eval(ctx)
		}
		if len(n.operands) > 2 {
			return n.operands[2].Eval(ctx)
		}
		return Ready(NewNil())
	})
}

func compileWhile(c *Compiler, call *AST) (*Node, error) {
	operands, err := c.CompileAll(call.Args)
	if err != nil {
		return nil, err
	}
	return &Node{name: c.nodeName("while", call.Span), span: call.Span, operands: operands, heavy: true, eval: evalWhile}, nil
}

func evalWhile(n *Node, ctx EvalContext) *Future {
	return Async(func() (Value, error) {
		last := NewNil()
		for {
			cond, err := n.operands[0].Eval(ctx).Get()
			if err != nil {
				return Value{}, err
			}
			b, err := cond.AsBool()
			if err != nil {
				return Value{}, n.Wrap(err)
			}
			if !b {
				return last, nil
			}
			if last, err = n.operands[1].Eval(ctx).Get(); err != nil {
				return Value{}, err
			}
		}
	})
}

// slotOf finds the cell a store writes to
func (c *Compiler) slotOf(a *AST) (func(ctx EvalContext) *Slot, error) {
	if a.Kind != ASTSymbol {
		return nil, errorAt(Errorf(SyntaxError, "store expects a variable, found %s", a), a.Span, "store")
	}
	r := c.resolve(a.Name)
	switch r.kind {
	case bindGlobalVar:
		return func(EvalContext) *Slot { return r.slot }, nil
	case bindLocal:
		return func(ctx EvalContext) *Slot { return ctx.frame.up(r.up).locals[r.index] }, nil
	case bindNone:
		return nil, errorAt(Errorf(UnboundName, "unbound name %q", a.Name), a.Span, "store")
	}
	return nil, errorAt(Errorf(SyntaxError, "%s is not a variable", a.Name), a.Span, "store")
}

func compileStore(c *Compiler, call *AST) (*Node, error) {
	target := call.Args[0]
	value, err := c.Compile(call.Args[1])
	if err != nil {
		return nil, err
	}
	n := &Node{name: c.nodeName("store", call.Span), span: call.Span, heavy: true}

	if target.Kind == ASTSymbol {
		slot, err := c.slotOf(target)
		if err != nil {
			return nil, err
		}
		n.operands = []*Node{value}
		n.eval = func(n *Node, ctx EvalContext) *Future {
			return Then(n.operands[0].Eval(ctx), func(v Value) *Future {
				slot(ctx).Store(v)
				return Ready(NewNil())
			})
		}
		return n, nil
	}

	st, ok := lookupStoreTarget(target.HeadName())
	if target.Kind != ASTCall || !ok {
		return nil, errorAt(Errorf(SyntaxError, "cannot store into %s", target), target.Span, "store")
	}
	if len(target.Args) == 0 {
		return nil, errorAt(Errorf(SyntaxError, "%s needs a variable to store into", target.HeadName()), target.Span, "store")
	}
	slot, err := c.slotOf(target.Args[0])
	if err != nil {
		return nil, err
	}
	index, err := c.CompileAll(target.Args[1:])
	if err != nil {
		return nil, err
	}
	n.name = c.nodeName("store$"+target.HeadName(), call.Span)
	n.operands = append([]*Node{value}, index...)
	n.eval = func(n *Node, ctx EvalContext) *Future {
		return Dataflow(n.EvalOperands(ctx), func(args []Value) (Value, error) {
			v := args[0]
			if st.Prepare != nil {
				var err error
				if v, err = st.Prepare(ctx, v); err != nil {
					return Value{}, n.Wrap(err)
				}
			}
			err := slot(ctx).Update(func(data *ir.NodeData, ann *ir.Annotation) (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fromPanic(r)
					}
				}()
				return st.Apply(data, ann, args[1:], v)
			})
			if err != nil {
				return Value{}, n.Wrap(err)
			}
			return NewNil(), nil
		})
	}
	return n, nil
}

func compileReturn(c *Compiler, call *AST) (*Node, error) {
	operands, err := c.CompileAll(call.Args)
	if err != nil {
		return nil, err
	}
	return &Node{name: c.nodeName("return", call.Span), span: call.Span, operands: operands, eval: func(n *Node, ctx EvalContext) *Future {
		if len(n.operands) == 0 {
			return Failed(&earlyReturn{NewNil()})
		}
		return Then(n.operands[0].Eval(ctx), func(v Value) *Future {
			return Failed(&earlyReturn{v})
		})
	}}, nil
}

func compileAsync(c *Compiler, call *AST) (*Node, error) {
	expr, err := c.Compile(call.Args[0])
	if err != nil {
		return nil, err
	}
	return &Node{name: c.nodeName("async", call.Span), span: call.Span, operands: []*Node{expr}, eval: func(n *Node, ctx EvalContext) *Future {
		op := n.operands[0]
		return Ready(NewFuture(Async(func() (Value, error) {
			return op.Eval(ctx).Get()
		})))
	}}, nil
}
