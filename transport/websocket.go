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
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/launix-de/arraytree/tree"
)

// message is a request (Op set) or the reply to one (Reply set), matched by ID.
// Requests carry the requester's deadline, if any.
type message struct {
	ID       uuid.UUID   `json:"id"`
	Op       string      `json:"op,omitempty"`
	Args     []wireValue `json:"args,omitempty"`
	Deadline *time.Time  `json:"deadline,omitempty"`
	Reply    bool        `json:"reply,omitempty"`
	Value    *wireValue  `json:"value,omitempty"`
	Error    *wireError  `json:"error,omitempty"`
}

/*
Node is the websocket transport of one process. Requests to a peer go over
a connection this node dialed; connections accepted by the listener only
carry requests of the peer and their replies.
*/
type Node struct {
	config  *ClusterConfig
	here    uint32
	ids     []uint32
	handler Handler

	mu    sync.Mutex
	conns map[uint32]*peerConn

	listener net.Listener
	server   *http.Server
}

type peerConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[uuid.UUID]chan message
	err     error
}

func NewNode(config *ClusterConfig, here uint32, handler Handler) *Node {
	ids := make([]uint32, len(config.Localities))
	for i := range ids {
		ids[i] = uint32(i)
	}
	return &Node{config: config, here: here, ids: ids, handler: handler, conns: make(map[uint32]*peerConn)}
}

func (n *Node) Here() uint32         { return n.here }
func (n *Node) Localities() []uint32 { return n.ids }

// SetHandler installs the handler when it can only be built after the node
func (n *Node) SetHandler(h Handler) { n.handler = h }

// Listen opens the address of this locality; Serve answers on it
func (n *Node) Listen() error {
	l, err := net.Listen("tcp", n.config.Address(n.here))
	if err != nil {
		return err
	}
	n.listener = l
	return nil
}

func (n *Node) Addr() net.Addr { return n.listener.Addr() }

// Serve blocks answering peers until Close
func (n *Node) Serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/locality", n.accept)
	n.server = &http.Server{Handler: mux}
	err := n.server.Serve(n.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (n *Node) Close() error {
	n.mu.Lock()
	for id, c := range n.conns {
		c.ws.Close()
		delete(n.conns, id)
	}
	n.mu.Unlock()
	if n.server != nil {
		return n.server.Close()
	}
	if n.listener != nil {
		return n.listener.Close()
	}
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (n *Node) accept(res http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(res, req, nil)
	if err != nil {
		tree.PrintError("websocket upgrade: " + err.Error())
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				tree.PrintError("error in websocket receive: " + fmt.Sprint(r))
			}
			ws.Close()
		}()
		var writeMu sync.Mutex
		for {
			_, b, err := ws.ReadMessage()
			if err != nil {
				if _, ok := err.(*websocket.CloseError); !ok {
					tree.PrintError("websocket receive: " + err.Error())
				}
				return
			}
			var m message
			if err := unframe(b, &m); err != nil {
				tree.PrintError("malformed request: " + err.Error())
				continue
			}
			go n.answer(ws, &writeMu, m)
		}
	}()
}

// answer runs one request and writes the reply
func (n *Node) answer(ws *websocket.Conn, writeMu *sync.Mutex, m message) {
	reply := message{ID: m.ID, Reply: true}
	ctx := context.Background()
	if m.Deadline != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, *m.Deadline)
		defer cancel()
	}
	v, err := n.serveLocal(ctx, m.Op, m.Args)
	if err == nil {
		var w wireValue
		if w, err = toWire(v); err == nil {
			reply.Value = &w
		}
	}
	reply.Error = toWireError(err)
	b, err := frame(reply)
	if err != nil {
		tree.PrintError("encoding reply: " + err.Error())
		return
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		tree.PrintError("websocket send: " + err.Error())
	}
}

func (n *Node) serveLocal(ctx context.Context, op string, wargs []wireValue) (v tree.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	if n.handler == nil {
		return tree.NewNil(), tree.Errorf(tree.RemoteEvaluationError, "locality %d has no handler", n.here)
	}
	args, err := decodeArgs(wargs)
	if err != nil {
		return tree.NewNil(), err
	}
	var result tree.Value
	tree.WithLane(int(n.here), func() {
		result, err = n.handler.Serve(ctx, op, args)
	})
	return result, err
}

// conn returns the connection to locality id, dialing it on first use
func (n *Node) conn(ctx context.Context, id uint32) (*peerConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.conns[id]; ok {
		return c, nil
	}
	url := "ws://" + n.config.Address(id) + "/locality"
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &peerConn{ws: ws, pending: make(map[uuid.UUID]chan message)}
	n.conns[id] = c
	go n.receive(id, c)
	return c, nil
}

// receive routes replies to the waiting requests until the connection breaks
func (n *Node) receive(id uint32, c *peerConn) {
	var err error
	for {
		var b []byte
		if _, b, err = c.ws.ReadMessage(); err != nil {
			break
		}
		var m message
		if err := unframe(b, &m); err != nil {
			tree.PrintError("malformed reply: " + err.Error())
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[m.ID]
		delete(c.pending, m.ID)
		c.mu.Unlock()
		if ok {
			ch <- m
		}
	}
	n.mu.Lock()
	if n.conns[id] == c {
		delete(n.conns, id)
	}
	n.mu.Unlock()
	c.mu.Lock()
	c.err = err
	for key, ch := range c.pending {
		close(ch)
		delete(c.pending, key)
	}
	c.mu.Unlock()
}

func (n *Node) Invoke(ctx context.Context, locality uint32, op string, args []tree.Value) *tree.Future {
	if int(locality) >= len(n.ids) {
		return tree.Failed(tree.Errorf(tree.RemoteEvaluationError, "no locality %d in a cluster of %d", locality, len(n.ids)))
	}
	wargs, err := encodeArgs(args)
	if err != nil {
		return tree.Failed(err)
	}
	if locality == n.here {
		return tree.Async(func() (tree.Value, error) {
			return n.serveLocal(ctx, op, wargs)
		})
	}
	return tree.Async(func() (tree.Value, error) {
		c, err := n.conn(ctx, locality)
		if err != nil {
			return tree.NewNil(), tree.Errorf(tree.RemoteEvaluationError, "connecting locality %d: %v", locality, err)
		}
		m := message{ID: uuid.New(), Op: op, Args: wargs}
		if deadline, ok := ctx.Deadline(); ok {
			m.Deadline = &deadline
		}
		b, err := frame(m)
		if err != nil {
			return tree.NewNil(), err
		}
		ch := make(chan message, 1)
		c.mu.Lock()
		if c.err != nil {
			c.mu.Unlock()
			return tree.NewNil(), tree.Errorf(tree.RemoteEvaluationError, "locality %d: %v", locality, c.err)
		}
		c.pending[m.ID] = ch
		c.mu.Unlock()
		c.writeMu.Lock()
		err = c.ws.WriteMessage(websocket.BinaryMessage, b)
		c.writeMu.Unlock()
		if err != nil {
			return tree.NewNil(), tree.Errorf(tree.RemoteEvaluationError, "sending to locality %d: %v", locality, err)
		}
		select {
		case reply, ok := <-ch:
			if !ok {
				return tree.NewNil(), tree.Errorf(tree.RemoteEvaluationError, "connection to locality %d closed", locality)
			}
			if reply.Error != nil {
				return tree.NewNil(), fromWireError(reply.Error)
			}
			if reply.Value == nil {
				return tree.NewNil(), nil
			}
			return fromWire(*reply.Value)
		case <-ctx.Done():
			c.mu.Lock()
			delete(c.pending, m.ID)
			c.mu.Unlock()
			return tree.NewNil(), tree.Errorf(tree.RemoteEvaluationError, "%s on locality %d: %v", op, locality, ctx.Err())
		}
	})
}
