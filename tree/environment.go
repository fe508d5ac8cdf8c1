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
	"sort"
	"sync"
	"sync/atomic"

	"github.com/launix-de/NonLockingReadMap"
	"github.com/launix-de/arraytree/ir"
)

/*
Slot is the only mutable cell of the execution tree.

Readers share the lock, writers are serialized. Array contents are
copy-on-write: the first slice store after a read clones the buffer, later
stores write in place until the slot is read again.
*/
type Slot struct {
	mu        sync.RWMutex
	val       Value
	exclusive atomic.Bool
}

func (s *Slot) Load() Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.exclusive.Store(false)
	return s.val
}

func (s *Slot) Store(v Value) {
	s.mu.Lock()
	s.val = v
	s.exclusive.Store(false)
	s.mu.Unlock()
}

// Update hands fn a privately owned array copy of the slot content and stores the result
func (s *Slot) Update(fn func(data *ir.NodeData, ann *ir.Annotation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.val.kind != KindArray {
		return Errorf(TypeMismatch, "cannot store into a slice of %s", s.val.kind)
	}
	if !s.exclusive.Load() || s.val.Array().IsRef() {
		s.val = NewArray(s.val.Array().Copy()).WithAnnotation(s.val.ann)
		s.exclusive.Store(true)
	}
	return fn(s.val.Array(), s.val.ann)
}

// Function is a compiled user function; body is patched once compilation is done
type Function struct {
	name    string
	params  []string
	nlocals int
	body    *Node
	span    SourceInfo
}

func (f *Function) Name() string     { return f.name }
func (f *Function) Params() []string { return f.params }

type envEntry struct {
	name string
	fn   *Function
	slot *Slot
}

func (e envEntry) GetKey() string     { return e.name }
func (e envEntry) ComputeSize() uint { return 48 }

// Environment maps global names to functions and variables; lookups fall through to outer
type Environment struct {
	outer   *Environment
	entries NonLockingReadMap.NonLockingReadMap[envEntry, string]
	mu      sync.Mutex
}

func NewEnvironment(outer *Environment) *Environment {
	return &Environment{outer: outer, entries: NonLockingReadMap.New[envEntry, string]()}
}

func (e *Environment) lookup(name string) *envEntry {
	for env := e; env != nil; env = env.outer {
		if entry := env.entries.Get(name); entry != nil {
			return entry
		}
	}
	return nil
}

func (e *Environment) defineFunction(name string, fn *Function) *envEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entries.Set(&envEntry{name: name, fn: fn})
}

// restore undoes a define whose compilation failed
func (e *Environment) restore(name string, old *envEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if old == nil {
		e.entries.Remove(name)
	} else {
		e.entries.Set(old)
	}
}

// Variable returns the slot of a global variable in this environment, creating it
func (e *Environment) Variable(name string) *Slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry := e.entries.Get(name); entry != nil && entry.slot != nil {
		return entry.slot
	}
	slot := new(Slot)
	e.entries.Set(&envEntry{name: name, slot: slot})
	return slot
}

// Set defines a global variable from Go code
func (e *Environment) Set(name string, v Value) {
	e.Variable(name).Store(v)
}

// Get reads a global variable or function
func (e *Environment) Get(name string) (Value, bool) {
	entry := e.lookup(name)
	switch {
	case entry == nil:
		return Value{}, false
	case entry.fn != nil:
		return NewFunc(&Closure{fn: entry.fn}), true
	default:
		return entry.slot.Load(), true
	}
}

func (e *Environment) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for env := e; env != nil; env = env.outer {
		for _, entry := range env.entries.GetAll() {
			if !seen[entry.name] {
				seen[entry.name] = true
				names = append(names, entry.name)
			}
		}
	}
	sort.Strings(names)
	return names
}
