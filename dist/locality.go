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

// Package dist implements the distributed primitives. Every locality runs
// the same program; collectives meet through the tile directories of the
// participating localities.
package dist

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/launix-de/arraytree/tree"
)

// Transport carries requests between localities; ids are 0..n-1
type Transport interface {
	Here() uint32
	Localities() []uint32
	Invoke(ctx context.Context, locality uint32, op string, args []tree.Value) *tree.Future
}

// CollectiveTimeout bounds the wait for a peer's contribution (0 waits forever)
var CollectiveTimeout = 60 * time.Second

// Locality is the per-process state: transport, tile directory, counters and the program environment
type Locality struct {
	transport Transport
	dir       *Directory
	env       *tree.Environment
	cache     *tree.FunctionCache

	mu          sync.Mutex
	generations map[string]uint64
	names       map[string]int
	rng         *rand.Rand
}

func NewLocality(t Transport) *Locality {
	return &Locality{
		transport:   t,
		dir:         NewDirectory(),
		env:         tree.NewEnvironment(nil),
		cache:       tree.NewFunctionCache(),
		generations: make(map[string]uint64),
		names:       make(map[string]int),
		rng:         rand.New(rand.NewPCG(42, uint64(t.Here())+1)),
	}
}

func (l *Locality) ID() uint32                     { return l.transport.Here() }
func (l *Locality) Count() uint32                  { return uint32(len(l.transport.Localities())) }
func (l *Locality) Localities() []uint32           { return l.transport.Localities() }
func (l *Locality) Directory() *Directory          { return l.dir }
func (l *Locality) Environment() *tree.Environment { return l.env }

// Seed resets the generator of random_d on this locality
func (l *Locality) Seed(seed uint64) {
	l.mu.Lock()
	l.rng = rand.New(rand.NewPCG(seed, uint64(l.ID())+1))
	l.mu.Unlock()
}

// generation advances the collective counter of key
func (l *Locality) generation(key string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generations[key]++
	return l.generations[key]
}

// NextName returns prefix_1, prefix_2, ... in call order
func (l *Locality) NextName(prefix string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names[prefix]++
	return fmt.Sprintf("%s_%d", prefix, l.names[prefix])
}

type localityKey struct{}

// WithLocality makes l the locality of programs run under ctx
func WithLocality(ctx context.Context, l *Locality) context.Context {
	return context.WithValue(ctx, localityKey{}, l)
}

var standalone = sync.OnceValue(func() *Locality {
	return NewLocality(Standalone{})
})

// FromContext returns the locality of ctx; without one, a single standalone locality
func FromContext(ctx context.Context) *Locality {
	if l, ok := ctx.Value(localityKey{}).(*Locality); ok {
		return l
	}
	return standalone()
}

// Standalone is the transport of a process without peers
type Standalone struct{}

func (Standalone) Here() uint32         { return 0 }
func (Standalone) Localities() []uint32 { return []uint32{0} }
func (Standalone) Invoke(ctx context.Context, locality uint32, op string, args []tree.Value) *tree.Future {
	return tree.Failed(tree.Errorf(tree.RemoteEvaluationError, "no locality %d: running standalone", locality))
}

// Run compiles and runs source on this locality
func (l *Locality) Run(ctx context.Context, name, source string) (v tree.Value, err error) {
	Init()
	unit, err := tree.Compile(name, source, l.cache, l.env)
	if err != nil {
		return tree.NewNil(), err
	}
	tree.WithLane(int(l.ID()), func() {
		v, err = unit.Run(WithLocality(ctx, l))
	})
	return
}

/*
Serve answers requests of peers:

	fetch(key, generation)  the contribution of this locality to a collective
	run(name, source)       runs a program on this locality
	show(name, source)      runs a program and returns its printed result
	ping()                  the id of this locality
*/
func (l *Locality) Serve(ctx context.Context, op string, args []tree.Value) (tree.Value, error) {
	switch op {
	case "fetch":
		if len(args) != 2 {
			return tree.NewNil(), tree.Errorf(tree.ArityMismatch, "fetch expects key and generation")
		}
		key, err := args[0].AsString()
		if err != nil {
			return tree.NewNil(), err
		}
		gen, err := args[1].AsInt()
		if err != nil {
			return tree.NewNil(), err
		}
		if CollectiveTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, CollectiveTimeout)
			defer cancel()
		}
		return l.dir.Fetch(ctx, key, uint64(gen))
	case "run", "show":
		if len(args) != 2 {
			return tree.NewNil(), tree.Errorf(tree.ArityMismatch, "%s expects name and source", op)
		}
		name, err := args[0].AsString()
		if err != nil {
			return tree.NewNil(), err
		}
		source, err := args[1].AsString()
		if err != nil {
			return tree.NewNil(), err
		}
		v, err := l.Run(ctx, name, source)
		if err != nil || op == "run" {
			return v, err
		}
		return tree.NewString(v.String()), nil
	case "ping":
		return tree.NewInt(int64(l.ID())), nil
	}
	return tree.NewNil(), tree.Errorf(tree.UnknownPrimitive, "locality %d cannot serve %q", l.ID(), op)
}

/*
Broadcast runs source on every locality (this one included) and returns
the printed results indexed by locality id. All localities run even when
some fail; the first error is returned.
*/
func (l *Locality) Broadcast(ctx context.Context, name, source string) ([]string, error) {
	ids := l.Localities()
	futures := make([]*tree.Future, len(ids))
	args := []tree.Value{tree.NewString(name), tree.NewString(source)}
	for i, id := range ids {
		if id == l.ID() {
			futures[i] = tree.Async(func() (tree.Value, error) {
				return l.Serve(ctx, "show", args)
			})
		} else {
			futures[i] = l.transport.Invoke(ctx, id, "show", args)
		}
	}
	results := make([]string, len(ids))
	var first error
	for i, f := range futures {
		v, err := f.Get()
		if err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		results[i] = v.Str()
	}
	return results, first
}

// remote turns a failed request into a RemoteEvaluationError
func remote(locality uint32, op string, err error) error {
	return &tree.Error{Kind: tree.RemoteEvaluationError, Message: fmt.Sprintf("%s on locality %d: %v", op, locality, err), Cause: err}
}

/*
exchange is the building block of all collectives: the first count
localities each contribute mine under key and receive the contributions of
all of them, indexed by locality id.
*/
func (l *Locality) exchange(ctx context.Context, key string, count uint32, mine tree.Value) ([]tree.Value, error) {
	here := l.ID()
	if here >= count {
		return nil, tree.Errorf(tree.InvalidAnnotation, "locality %d does not take part in %s over %d localities", here, key, count)
	}
	if int(count) > len(l.Localities()) {
		return nil, tree.Errorf(tree.RemoteEvaluationError, "%s needs %d localities, only %d are known", key, count, len(l.Localities()))
	}
	gen := l.generation(key)
	if count == 1 {
		return []tree.Value{mine}, nil
	}
	if CollectiveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, CollectiveTimeout)
		defer cancel()
	}
	if err := l.dir.Publish(key, gen, mine, int(count)-1); err != nil {
		return nil, err
	}
	futures := make([]*tree.Future, count)
	for p := uint32(0); p < count; p++ {
		if p == here {
			futures[p] = tree.Ready(mine)
			continue
		}
		futures[p] = l.transport.Invoke(ctx, p, "fetch", []tree.Value{tree.NewString(key), tree.NewInt(int64(gen))})
	}
	result := make([]tree.Value, count)
	for p, f := range futures {
		v, err := f.Get()
		if err != nil {
			return nil, remote(uint32(p), key, err)
		}
		result[p] = v
	}
	return result, nil
}
