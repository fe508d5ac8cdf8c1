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
/*
Package storage keeps engine settings, checkpoints local tiles into tile
stores (files, S3, Ceph) and ingests arrays from CSV files and SQL databases.
*/
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/launix-de/arraytree/dist"
	"github.com/launix-de/arraytree/transport"
	"github.com/launix-de/arraytree/tree"
)

var initOnce sync.Once

// Init registers settings, checkpoint and ingestion primitives on top of dist.Init
func Init() {
	dist.Init()
	initOnce.Do(func() {
		initSettings()
		initCheckpoints()
		initIngest()
	})
}

const defaultStore = "checkpoints"

func tileKey(key string, l *dist.Locality) string {
	return fmt.Sprintf("%s.%d", key, l.ID())
}

func storeArg(v tree.Value) TileStore {
	name := defaultStore
	if !v.IsNil() {
		name = tree.ToString(v)
	}
	s, err := OpenStore(name)
	if err != nil {
		panic(err)
	}
	return s
}

// Checkpoint writes the local part of v as key.<locality id>
func Checkpoint(s TileStore, key string, l *dist.Locality, v tree.Value) error {
	b, err := transport.Encode(v)
	if err != nil {
		return err
	}
	defer acquireIOSlot()()
	w := s.WriteTile(tileKey(key, l))
	if _, err := w.Write(b); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Restore reads back what Checkpoint wrote on this locality
func Restore(s TileStore, key string, l *dist.Locality) (tree.Value, error) {
	defer acquireIOSlot()()
	r := s.ReadTile(tileKey(key, l))
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return tree.NewNil(), tree.Errorf(tree.DomainError, "no checkpoint %s on locality %d: %v", key, l.ID(), err)
	}
	return transport.Decode(b)
}

func initCheckpoints() {
	tree.DeclareTitle("Checkpoints")
	tree.Declare(&tree.Declaration{
		Name: "checkpoint_d", Desc: "stores the local tile of value (with its annotation) under key; returns value",
		MinParameter: 2, MaxParameter: 3,
		Params: []tree.DeclarationParameter{
			{Name: "value", Type: "any", Desc: "array or any other plain value"},
			{Name: "key", Type: "string", Desc: "checkpoint name"},
			{Name: "store", Type: "string", Desc: "tile store, default checkpoints"},
		},
		Returns: "any",
		Eval: dist.OnLocality(func(ctx context.Context, l *dist.Locality, a []tree.Value) (tree.Value, error) {
			s := storeArg(optional(a, 2))
			if err := Checkpoint(s, tree.ToString(a[1]), l, a[0]); err != nil {
				return tree.NewNil(), err
			}
			return a[0], nil
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "restore_d", Desc: "reads the tile this locality stored under key",
		MinParameter: 1, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "key", Type: "string", Desc: "checkpoint name"},
			{Name: "store", Type: "string", Desc: "tile store, default checkpoints"},
		},
		Returns: "any",
		Eval: dist.OnLocality(func(ctx context.Context, l *dist.Locality, a []tree.Value) (tree.Value, error) {
			return Restore(storeArg(optional(a, 1)), tree.ToString(a[0]), l)
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "checkpoint_remove_d", Desc: "removes the tile this locality stored under key",
		MinParameter: 1, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "key", Type: "string", Desc: "checkpoint name"},
			{Name: "store", Type: "string", Desc: "tile store, default checkpoints"},
		},
		Returns: "bool",
		Eval: dist.OnLocality(func(ctx context.Context, l *dist.Locality, a []tree.Value) (tree.Value, error) {
			storeArg(optional(a, 1)).RemoveTile(tileKey(tree.ToString(a[0]), l))
			return tree.NewBool(true), nil
		}),
	})
	tree.Declare(&tree.Declaration{
		Name: "checkpoints", Desc: "names of the checkpoints in a store (without locality suffix)",
		MinParameter: 0, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "prefix", Type: "string", Desc: "only names starting with prefix"},
			{Name: "store", Type: "string", Desc: "tile store, default checkpoints"},
		},
		Returns: "list",
		Fn: func(a ...tree.Value) tree.Value {
			prefix := ""
			if p := optional(a, 0); !p.IsNil() {
				prefix = tree.ToString(p)
			}
			var names []tree.Value
			seen := make(map[string]bool)
			for _, key := range storeArg(optional(a, 1)).ListTiles(prefix) {
				name := key
				if i := strings.LastIndexByte(key, '.'); i > 0 {
					name = key[:i]
				}
				if !seen[name] {
					names = append(names, tree.NewString(name))
					seen[name] = true
				}
			}
			return tree.NewList(names)
		},
	})
}

func optional(a []tree.Value, i int) tree.Value {
	if i < len(a) {
		return a[i]
	}
	return tree.NewNil()
}
