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
	"testing"
	"time"

	"github.com/launix-de/arraytree/tree"
)

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	ctx := context.Background()

	// fetch before publish waits
	got := make(chan tree.Value, 1)
	go func() {
		v, err := d.Fetch(ctx, "k", 1)
		if err != nil {
			t.Error(err)
		}
		got <- v
	}()
	time.Sleep(10 * time.Millisecond)
	if err := d.Publish("k", 1, tree.NewInt(42), 2); err != nil {
		t.Fatal(err)
	}
	if v := <-got; v.Int() != 42 {
		t.Errorf("expected 42, got %v", v)
	}
	if d.Len() != 1 {
		t.Errorf("posting removed before its second reader")
	}
	if v, err := d.Fetch(ctx, "k", 1); err != nil || v.Int() != 42 {
		t.Errorf("second read: %v %v", v, err)
	}
	if d.Len() != 0 {
		t.Errorf("posting kept after every reader fetched it")
	}

	if err := d.Publish("k", 2, tree.NewInt(1), 1); err != nil {
		t.Fatal(err)
	}
	if err := d.Publish("k", 2, tree.NewInt(1), 1); !tree.IsKind(err, tree.DomainError) {
		t.Errorf("expected DomainError for a second publish, got %v", err)
	}
	if err := d.Publish("j", 1, tree.NewInt(1), 1); err != nil {
		t.Fatal(err)
	}
	if n := d.Drop("k"); n != 1 {
		t.Errorf("Drop removed %d postings, expected 1", n)
	}
	if d.Len() != 1 {
		t.Errorf("Drop touched another key")
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := d.Fetch(short, "never", 1); !tree.IsKind(err, tree.RemoteEvaluationError) {
		t.Errorf("expected RemoteEvaluationError, got %v", err)
	}
	if d.Len() != 1 {
		t.Errorf("abandoned fetch left a pending posting behind (%d postings)", d.Len())
	}
}

func TestServeFetchTimeout(t *testing.T) {
	old := CollectiveTimeout
	CollectiveTimeout = 30 * time.Millisecond
	defer func() { CollectiveTimeout = old }()

	l := NewLocality(Standalone{})
	_, err := l.Serve(context.Background(), "fetch", []tree.Value{tree.NewString("all_gather_d:gone"), tree.NewInt(1)})
	if !tree.IsKind(err, tree.RemoteEvaluationError) {
		t.Errorf("expected RemoteEvaluationError, got %v", err)
	}
	if n := l.dir.Len(); n != 0 {
		t.Errorf("expected no postings after the timeout, found %d", n)
	}
}
