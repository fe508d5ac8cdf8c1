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
package dist

import (
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/launix-de/arraytree/tree"
)

// posting is one published contribution of a collective
type posting struct {
	key     string
	gen     uint64
	ready   chan struct{}
	value   tree.Value
	readers int // -1 until published
	fetched int
	waiting int
}

/*
Directory holds the values this locality contributes to collectives until
every peer has fetched them. Postings are ordered by (key, generation), so
all generations of one key form a contiguous range.

Fetches may arrive before the matching Publish; they wait on the posting.
*/
type Directory struct {
	mu       sync.Mutex
	postings *btree.BTreeG[*posting]
}

func NewDirectory() *Directory {
	return &Directory{postings: btree.NewG[*posting](8, func(a, b *posting) bool {
		if a.key != b.key {
			return a.key < b.key
		}
		return a.gen < b.gen
	})}
}

// get returns the posting for (key, gen), creating a pending one; d.mu must be held
func (d *Directory) get(key string, gen uint64) *posting {
	if p, ok := d.postings.Get(&posting{key: key, gen: gen}); ok {
		return p
	}
	p := &posting{key: key, gen: gen, ready: make(chan struct{}), readers: -1}
	d.postings.ReplaceOrInsert(p)
	return p
}

// Publish makes v available to readers fetches of (key, gen)
func (d *Directory) Publish(key string, gen uint64, v tree.Value, readers int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.get(key, gen)
	if p.readers >= 0 {
		return tree.Errorf(tree.DomainError, "%s (generation %d) was published twice", key, gen)
	}
	p.value = v
	p.readers = readers
	close(p.ready)
	if p.fetched >= p.readers {
		d.postings.Delete(p)
	}
	return nil
}

// Fetch waits for (key, gen) to be published and counts the read
func (d *Directory) Fetch(ctx context.Context, key string, gen uint64) (tree.Value, error) {
	d.mu.Lock()
	p := d.get(key, gen)
	p.waiting++
	d.mu.Unlock()
	select {
	case <-p.ready:
	case <-ctx.Done():
		d.mu.Lock()
		p.waiting--
		// a pending posting nobody waits for any more is pruned
		if p.readers < 0 && p.waiting == 0 {
			d.postings.Delete(p)
		}
		d.mu.Unlock()
		return tree.NewNil(), tree.Errorf(tree.RemoteEvaluationError, "waiting for %s (generation %d): %v", key, gen, ctx.Err())
	}
	d.mu.Lock()
	p.waiting--
	p.fetched++
	if p.fetched >= p.readers {
		d.postings.Delete(p)
	}
	d.mu.Unlock()
	return p.value, nil
}

// Len is the number of postings not yet fully fetched (including pending ones)
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.postings.Len()
}

// Drop removes every posting of key, e.g. after a failed collective
func (d *Directory) Drop(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var stale []*posting
	d.postings.AscendGreaterOrEqual(&posting{key: key}, func(p *posting) bool {
		if p.key != key {
			return false
		}
		stale = append(stale, p)
		return true
	})
	for _, p := range stale {
		d.postings.Delete(p)
	}
	return len(stale)
}
