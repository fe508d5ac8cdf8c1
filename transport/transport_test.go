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
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/tree"
)

// echo answers "echo" with its arguments as list and "fail" with a DomainError
type echo struct {
	id uint32
}

func (e echo) Serve(ctx context.Context, op string, args []tree.Value) (tree.Value, error) {
	switch op {
	case "echo":
		return tree.NewList(append([]tree.Value{tree.NewInt(int64(e.id))}, args...)), nil
	case "fail":
		return tree.NewNil(), tree.Errorf(tree.DomainError, "asked to fail")
	case "deadline":
		_, ok := ctx.Deadline()
		return tree.NewBool(ok), nil
	}
	return tree.NewNil(), tree.Errorf(tree.UnknownPrimitive, "unknown op %s", op)
}

func sample() tree.Value {
	a := ir.NewFloat64([]int{2, 3}, []float64{1, 2.5, math.Inf(-1), -0.0, 1e300, 3})
	ann := ir.NewAnnotation("m", &ir.Locality{ID: 1, Count: 3}, map[string]ir.Range{"rows": {Start: 4, Stop: 6}, "columns": {Start: 0, Stop: 3}})
	return tree.NewList([]tree.Value{
		tree.NewNil(), tree.NewBool(true), tree.NewInt(-7), tree.NewFloat(0.1), tree.NewString("x\"y"),
		tree.NewArray(a).WithAnnotation(ann),
		tree.NewArray(ir.NewInt64([]int{3}, []int64{math.MinInt64, 0, math.MaxInt64})),
		tree.NewArray(ir.NewBool([]int{2}, []bool{true, false})),
	})
}

func roundTrip(t *testing.T, v tree.Value) tree.Value {
	t.Helper()
	b, err := Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	w, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w
}

func TestCodec(t *testing.T) {
	v := sample()
	w := roundTrip(t, v)
	if !tree.Equal(v, w) {
		t.Fatalf("round trip changed the value:\n%v\n%v", v, w)
	}
	if got, want := w.List()[5].Annotation(), v.List()[5].Annotation(); !got.Equal(want) {
		t.Errorf("annotation lost: %v, expected %v", got, want)
	}
	if _, err := Encode(tree.NewFuture(tree.Ready(tree.NewNil()))); !tree.IsKind(err, tree.TypeMismatch) {
		t.Errorf("futures must not be sent, got %v", err)
	}
}

func TestCodecCompression(t *testing.T) {
	old := CompressAbove.Load()
	defer CompressAbove.Store(old)
	CompressAbove.Store(64)

	big := ir.Zeros(ir.Float64, []int{100, 10})
	b, err := Encode(tree.NewArray(big))
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != frameLZ4 {
		t.Fatalf("large payload was not compressed (frame %q)", b[0])
	}
	w, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Array().Equal(big) {
		t.Errorf("compressed round trip changed the array")
	}
	if b, _ := Encode(tree.NewInt(1)); b[0] != framePlain {
		t.Errorf("small payload must stay plain")
	}
}

func TestCluster(t *testing.T) {
	c := NewCluster(3)
	for i := 0; i < c.Size(); i++ {
		c.Bind(uint32(i), echo{uint32(i)})
	}
	node := c.Node(0)
	if diff := cmp.Diff([]uint32{0, 1, 2}, node.Localities()); diff != "" {
		t.Errorf("localities (-want +got):\n%s", diff)
	}
	v, err := node.Invoke(context.Background(), 2, "echo", []tree.Value{sample()}).Get()
	if err != nil {
		t.Fatal(err)
	}
	if v.List()[0].Int() != 2 || !tree.Equal(v.List()[1], sample()) {
		t.Errorf("unexpected echo %v", v)
	}

	_, err = node.Invoke(context.Background(), 1, "fail", nil).Get()
	if !tree.IsKind(err, tree.DomainError) {
		t.Errorf("remote error kind lost: %v", err)
	}
	_, err = node.Invoke(context.Background(), 5, "echo", nil).Get()
	if !tree.IsKind(err, tree.RemoteEvaluationError) {
		t.Errorf("expected RemoteEvaluationError for a missing locality, got %v", err)
	}
	empty := NewCluster(2)
	_, err = empty.Node(0).Invoke(context.Background(), 1, "echo", nil).Get()
	if !tree.IsKind(err, tree.RemoteEvaluationError) {
		t.Errorf("expected RemoteEvaluationError for an unbound locality, got %v", err)
	}
}

func TestClusterConfig(t *testing.T) {
	old := CompressAbove.Load()
	defer CompressAbove.Store(old)

	cfg, err := ParseClusterConfig([]byte(`
localities:
  - id: 1
    address: 10.0.0.2:7070
  - id: 0
    address: 10.0.0.1:7070
compress_above: 8KiB
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Address(0) != "10.0.0.1:7070" || cfg.Address(1) != "10.0.0.2:7070" {
		t.Errorf("localities not ordered by id: %+v", cfg.Localities)
	}
	if CompressAbove.Load() != 8192 {
		t.Errorf("compress_above: expected 8192, got %d", CompressAbove.Load())
	}
	for _, bad := range []string{
		"localities: []",
		"localities:\n  - id: 1\n    address: a:1",
		"localities:\n  - id: 0\n",
		"localities:\n  - id: 0\n    address: a:1\ncompress_above: lots",
	} {
		if _, err := ParseClusterConfig([]byte(bad)); err == nil {
			t.Errorf("expected an error for %q", bad)
		}
	}
}

func TestWebsocket(t *testing.T) {
	cfg := &ClusterConfig{Localities: []PeerConfig{{ID: 0, Address: "127.0.0.1:0"}, {ID: 1, Address: "127.0.0.1:0"}}}
	nodes := make([]*Node, 2)
	for i := range nodes {
		nodes[i] = NewNode(cfg, uint32(i), echo{uint32(i)})
		if err := nodes[i].Listen(); err != nil {
			t.Fatal(err)
		}
		cfg.Localities[i].Address = nodes[i].Addr().String()
	}
	for _, n := range nodes {
		go n.Serve()
		defer n.Close()
	}

	v, err := nodes[0].Invoke(context.Background(), 1, "echo", []tree.Value{sample()}).Get()
	if err != nil {
		t.Fatal(err)
	}
	if v.List()[0].Int() != 1 || !tree.Equal(v.List()[1], sample()) {
		t.Errorf("unexpected echo %v", v)
	}
	if got := v.List()[1].List()[5].Annotation(); got == nil || got.Name != "m" {
		t.Errorf("annotation lost over the websocket: %v", got)
	}
	v, err = nodes[1].Invoke(context.Background(), 1, "echo", nil).Get()
	if err != nil || v.List()[0].Int() != 1 {
		t.Errorf("local invoke: %v %v", v, err)
	}
	_, err = nodes[1].Invoke(context.Background(), 0, "fail", nil).Get()
	if !tree.IsKind(err, tree.DomainError) {
		t.Errorf("remote error kind lost: %v", err)
	}

	// the peer serves under the requester's deadline
	v, err = nodes[0].Invoke(context.Background(), 1, "deadline", nil).Get()
	if err != nil || v.Bool() {
		t.Errorf("no deadline expected: %v %v", v, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	v, err = nodes[0].Invoke(ctx, 1, "deadline", nil).Get()
	if err != nil || !v.Bool() {
		t.Errorf("deadline not passed to the peer: %v %v", v, err)
	}
}
