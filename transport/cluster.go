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
package transport

import (
	"context"
	"sync"

	"github.com/launix-de/arraytree/tree"
)

// Handler answers the requests sent to one locality
type Handler interface {
	Serve(ctx context.Context, op string, args []tree.Value) (tree.Value, error)
}

/*
Cluster connects n localities inside one process. Requests still pass
through the wire codec, so what arrives is what a remote peer would see.
*/
type Cluster struct {
	mu       sync.RWMutex
	handlers []Handler
	ids      []uint32
}

func NewCluster(n int) *Cluster {
	c := &Cluster{handlers: make([]Handler, n), ids: make([]uint32, n)}
	for i := range c.ids {
		c.ids[i] = uint32(i)
	}
	return c
}

func (c *Cluster) Size() int { return len(c.ids) }

// Bind installs the handler of locality id
func (c *Cluster) Bind(id uint32, h Handler) {
	c.mu.Lock()
	c.handlers[id] = h
	c.mu.Unlock()
}

// Node is the transport as seen from locality id
func (c *Cluster) Node(id uint32) *ClusterNode {
	return &ClusterNode{cluster: c, here: id}
}

type ClusterNode struct {
	cluster *Cluster
	here    uint32
}

func (n *ClusterNode) Here() uint32         { return n.here }
func (n *ClusterNode) Localities() []uint32 { return n.cluster.ids }

func (n *ClusterNode) Invoke(ctx context.Context, locality uint32, op string, args []tree.Value) *tree.Future {
	c := n.cluster
	if int(locality) >= len(c.handlers) {
		return tree.Failed(tree.Errorf(tree.RemoteEvaluationError, "no locality %d in a cluster of %d", locality, len(c.handlers)))
	}
	c.mu.RLock()
	h := c.handlers[locality]
	c.mu.RUnlock()
	if h == nil {
		return tree.Failed(tree.Errorf(tree.RemoteEvaluationError, "locality %d is not running", locality))
	}
	wire, err := encodeArgs(args)
	if err != nil {
		return tree.Failed(err)
	}
	request, err := frame(wire)
	if err != nil {
		return tree.Failed(err)
	}
	return tree.Async(func() (result tree.Value, err error) {
		var wargs []wireValue
		if err := unframe(request, &wargs); err != nil {
			return tree.NewNil(), err
		}
		decoded, err := decodeArgs(wargs)
		if err != nil {
			return tree.NewNil(), err
		}
		tree.WithLane(int(locality), func() {
			result, err = h.Serve(ctx, op, decoded)
		})
		if err != nil {
			return tree.NewNil(), fromWireError(toWireError(err))
		}
		response, err := Encode(result)
		if err != nil {
			return tree.NewNil(), err
		}
		return Decode(response)
	})
}
