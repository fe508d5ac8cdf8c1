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
	"runtime"
	"sync/atomic"

	"github.com/jtolds/gls"
	"golang.org/x/sync/semaphore"
)

// Future is a pending Value; it resolves exactly once
type Future struct {
	done chan struct{}
	val  Value
	err  error
}

var closed = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func Ready(v Value) *Future {
	return &Future{done: closed, val: v}
}

func Failed(err error) *Future {
	return &Future{done: closed, err: err}
}

func newPending() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(v Value, err error) {
	f.val, f.err = v, err
	close(f.done)
}

func (f *Future) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future) Done() <-chan struct{} { return f.done }

// Get blocks until the future is resolved; nested futures are unwrapped
func (f *Future) Get() (Value, error) {
	<-f.done
	if f.err == nil && f.val.kind == KindFuture {
		return f.val.Future().Get()
	}
	return f.val, f.err
}

// Async runs fn in its own goroutine; goroutine-local values (trace lane) are inherited
func Async(fn func() (Value, error)) *Future {
	f := newPending()
	gls.Go(func() {
		var v Value
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fromPanic(r)
				}
			}()
			v, err = fn()
		}()
		f.resolve(v, err)
	})
	return f
}

// Dataflow calls fn once all operands are resolved; inline if they already are
func Dataflow(ops []*Future, fn func(args []Value) (Value, error)) *Future {
	ready := true
	for _, op := range ops {
		if !op.IsReady() {
			ready = false
			break
		}
	}
	run := func() (Value, error) {
		args := make([]Value, len(ops))
		for i, op := range ops {
			v, err := op.Get()
			if err != nil {
				return Value{}, err
			}
			args[i] = v
		}
		return fn(args)
	}
	if ready {
		v, err := inline(run)
		if err != nil {
			return Failed(err)
		}
		return Ready(v)
	}
	return Async(run)
}

// Then chains a follow-up evaluation onto f
func Then(f *Future, fn func(Value) *Future) *Future {
	if f.IsReady() {
		v, err := f.Get()
		if err != nil {
			return f
		}
		return fn(v)
	}
	return Async(func() (Value, error) {
		v, err := f.Get()
		if err != nil {
			return Value{}, err
		}
		return fn(v).Get()
	})
}

func inline(fn func() (Value, error)) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fromPanic(r)
		}
	}()
	return fn()
}

// kernel computations are bounded by the worker semaphore
var workers atomic.Pointer[semaphore.Weighted]

func init() {
	SetWorkers(0)
}

// SetWorkers limits concurrent kernel computations (0 = GOMAXPROCS)
func SetWorkers(n int) {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	workers.Store(semaphore.NewWeighted(int64(n)))
}

func compute(fn func() Value) Value {
	w := workers.Load()
	w.Acquire(context.Background(), 1)
	defer w.Release(1)
	return fn()
}
