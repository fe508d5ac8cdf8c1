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
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/launix-de/arraytree/dist"
	"github.com/launix-de/arraytree/transport"
	"github.com/launix-de/arraytree/tree"
)

func cluster(t *testing.T, n int) []*dist.Locality {
	t.Helper()
	Init()
	c := transport.NewCluster(n)
	ls := make([]*dist.Locality, n)
	for i := range ls {
		ls[i] = dist.NewLocality(c.Node(uint32(i)))
		c.Bind(uint32(i), ls[i])
	}
	return ls
}

func spmd(t *testing.T, ls []*dist.Locality, source string) []tree.Value {
	t.Helper()
	results := make([]tree.Value, len(ls))
	errs := make([]error, len(ls))
	var wg sync.WaitGroup
	for i, l := range ls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = l.Run(context.Background(), "storage test", source)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("locality %d: %s: %v", i, source, err)
		}
	}
	return results
}

func run(t *testing.T, source string) (tree.Value, error) {
	t.Helper()
	Init()
	return dist.FromContext(context.Background()).Run(context.Background(), "storage test", source)
}

// useDataDir points the tile stores at a fresh directory for the duration of the test
func useDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := Settings
	Settings.DataDir = dir
	closeStores()
	t.Cleanup(func() {
		Settings = old
		closeStores()
	})
	return dir
}

func expectPanic(t *testing.T, kind tree.ErrorKind, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		err, ok := r.(error)
		if !ok || !tree.IsKind(err, kind) {
			t.Errorf("expected a %s panic, got %v", kind, r)
		}
	}()
	fn()
}

func TestSettings(t *testing.T) {
	old := Settings
	oldCompress := transport.CompressAbove.Load()
	oldTimeout := dist.CollectiveTimeout
	defer func() {
		Settings = old
		tree.SetWorkers(old.Workers)
		tree.MaxDepth.Store(int64(old.MaxRecursionDepth))
		transport.CompressAbove.Store(oldCompress)
		dist.CollectiveTimeout = oldTimeout
	}()

	if all := ChangeSettings(); len(all.List()) != 2*len(settingNames) {
		t.Errorf("settings() should list name/value pairs, got %s", all)
	}
	ChangeSettings(tree.NewString("Workers"), tree.NewInt(3))
	if got := ChangeSettings(tree.NewString("Workers")); got.Int() != 3 || Settings.Workers != 3 {
		t.Errorf("Workers: got %s", got)
	}
	ChangeSettings(tree.NewString("WireCompression"), tree.NewString("1KiB"))
	if transport.CompressAbove.Load() != 1024 {
		t.Errorf("WireCompression not applied: %d", transport.CompressAbove.Load())
	}
	ChangeSettings(tree.NewString("CollectiveTimeout"), tree.NewString("250ms"))
	if dist.CollectiveTimeout != 250*time.Millisecond {
		t.Errorf("CollectiveTimeout not applied: %v", dist.CollectiveTimeout)
	}
	ChangeSettings(tree.NewString("MaxRecursionDepth"), tree.NewInt(50))
	if tree.MaxDepth.Load() != 50 {
		t.Errorf("MaxRecursionDepth not applied: %d", tree.MaxDepth.Load())
	}

	expectPanic(t, tree.DomainError, func() { ChangeSettings(tree.NewString("WireCompression"), tree.NewString("lots")) })
	expectPanic(t, tree.DomainError, func() { ChangeSettings(tree.NewString("CollectiveTimeout"), tree.NewString("-1s")) })
	expectPanic(t, tree.DomainError, func() { ChangeSettings(tree.NewString("Workers"), tree.NewInt(0)) })
	expectPanic(t, tree.DomainError, func() { ChangeSettings(tree.NewString("DefaultBackend"), tree.NewString("tape")) })
	expectPanic(t, tree.DomainError, func() { ChangeSettings(tree.NewString("Colour")) })
	if Settings.WireCompression != "1KiB" {
		t.Errorf("a rejected value must not be stored, got %s", Settings.WireCompression)
	}

	v, err := run(t, `settings("Workers", 2) settings("Workers")`)
	if err != nil || v.Int() != 2 {
		t.Errorf("settings primitive: %v %v", v, err)
	}
	if _, err := run(t, `settings("Colour")`); !tree.IsKind(err, tree.DomainError) {
		t.Errorf("expected DomainError, got %v", err)
	}
}

func TestCheckpoint(t *testing.T) {
	dir := useDataDir(t)
	ls := cluster(t, 2)
	results := spmd(t, ls, `
		define(a, random_d(list(4, 3), nil, nil, "a"))
		checkpoint_d(a, "snap")
		define(b, restore_d("snap"))
		list(a == b, annotation(a) == annotation(b), checkpoints(), checkpoints("other"))`)
	for i, v := range results {
		l := v.List()
		if strings.Contains(l[0].String(), "false") {
			t.Errorf("locality %d: restored tile differs: %s", i, l[0])
		}
		if !l[1].Bool() {
			t.Errorf("locality %d: annotation not restored", i)
		}
		if l[2].String() != `list("snap")` || l[3].String() != "list()" {
			t.Errorf("locality %d: checkpoints: %s %s", i, l[2], l[3])
		}
		if _, err := os.Stat(filepath.Join(dir, "checkpoints", fmt.Sprintf("snap.%d.tile.xz", i))); err != nil {
			t.Errorf("locality %d: %v", i, err)
		}
	}

	spmd(t, ls, `checkpoint_remove_d("snap")`)
	for i, l := range ls {
		if _, err := l.Run(context.Background(), "restore", `restore_d("snap")`); !tree.IsKind(err, tree.DomainError) {
			t.Errorf("locality %d: expected DomainError after remove, got %v", i, err)
		}
	}

	v, err := run(t, `checkpoint_d(list(1, "x", 2.5), "plain", "misc") restore_d("plain", "misc")`)
	if err != nil || v.String() != `list(1, "x", 2.5)` {
		t.Errorf("plain value checkpoint: %v %v", v, err)
	}
	if _, err := run(t, `checkpoint_d(1, "../escape")`); !tree.IsKind(err, tree.DomainError) {
		t.Errorf("expected DomainError for an invalid key, got %v", err)
	}
}

func TestOpenStore(t *testing.T) {
	dir := useDataDir(t)
	configs := map[string]string{
		"remote":  `{"backend": "s3", "bucket": "tiles", "prefix": "arrays/", "region": "eu-central-1"}`,
		"local":   `{"backend": "files", "path": "` + filepath.Join(dir, "elsewhere") + `"}`,
		"unknown": `{"backend": "tape"}`,
		"broken":  `{"backend": `,
	}
	for name, cfg := range configs {
		if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(cfg), 0640); err != nil {
			t.Fatal(err)
		}
	}

	s, err := OpenStore("remote")
	if err != nil {
		t.Fatal(err)
	}
	if s3, ok := s.(*S3Store); !ok || s3.prefix != "arrays/remote" || s3.factory.Bucket != "tiles" {
		t.Errorf("unexpected store %#v", s)
	}
	if again, _ := OpenStore("remote"); again != s {
		t.Errorf("stores must be opened once")
	}

	s, err = OpenStore("local")
	if err != nil {
		t.Fatal(err)
	}
	w := s.WriteTile("x.0")
	w.Write([]byte("payload"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "elsewhere", "x.0.tile.xz")); err != nil {
		t.Errorf("configured path not used: %v", err)
	}
	if diff := cmp.Diff([]string{"x.0"}, s.ListTiles("x")); diff != "" {
		t.Errorf("ListTiles (-want +got):\n%s", diff)
	}

	for _, name := range []string{"unknown", "broken"} {
		if _, err := OpenStore(name); !tree.IsKind(err, tree.DomainError) {
			t.Errorf("%s: expected DomainError, got %v", name, err)
		}
	}
}

func TestParseCSV(t *testing.T) {
	data, err := parseCSV(strings.NewReader("x, y\n1, 2\n3,4\n\n5,\n"), "t.csv", ",")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{3, 2}, data.Shape()); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
	if data.Float(2) != 3 || !math.IsNaN(data.Float(5)) {
		t.Errorf("unexpected data %s", data)
	}
	data, err = parseCSV(strings.NewReader("1;2;3\n"), "t.csv", ";")
	if err != nil || data.Size() != 3 {
		t.Errorf("semicolon: %v %v", data, err)
	}

	for _, c := range []struct {
		in   string
		kind tree.ErrorKind
	}{
		{"1,2\n3\n", tree.ShapeMismatch},
		{"1,2\n3,x\n", tree.DomainError},
	} {
		if _, err := parseCSV(strings.NewReader(c.in), "t.csv", ","); !tree.IsKind(err, c.kind) {
			t.Errorf("%q: expected %s, got %v", c.in, c.kind, err)
		}
	}
	if _, err := parseCSV(strings.NewReader("1"), "t.csv", "::"); !tree.IsKind(err, tree.DomainError) {
		t.Errorf("expected DomainError for a long delimiter, got %v", err)
	}
}

func TestReadCSVDistributed(t *testing.T) {
	file := filepath.Join(t.TempDir(), "m.csv")
	if err := os.WriteFile(file, []byte("a,b\n1,2\n3,4\n5,6\n7,8\n9,10\n"), 0640); err != nil {
		t.Fatal(err)
	}
	v, err := run(t, `file_read_csv("`+file+`")`)
	if err != nil {
		t.Fatal(err)
	}
	if want := "[[1.0, 2.0], [3.0, 4.0], [5.0, 6.0], [7.0, 8.0], [9.0, 10.0]]"; v.String() != want {
		t.Errorf("expected %s, got %s", want, v)
	}

	ls := cluster(t, 2)
	results := spmd(t, ls, `define(m, file_read_csv_d("`+file+`", "m")) list(shape(m), all_gather_d(m) == file_read_csv("`+file+`"))`)
	for i, v := range results {
		want := []string{"list(3, 2)", "list(2, 2)"}[i]
		if got := v.List()[0].String(); got != want {
			t.Errorf("locality %d: expected local shape %s, got %s", i, want, got)
		}
		if strings.Contains(v.List()[1].String(), "false") {
			t.Errorf("locality %d: gathered csv differs", i)
		}
	}
	if _, err := run(t, `file_read_csv("/nonexistent/file.csv")`); !tree.IsKind(err, tree.DomainError) {
		t.Errorf("expected DomainError, got %v", err)
	}
}

// fakeRows replays rows like *sql.Rows would
type fakeRows struct {
	rows [][]any
	i    int
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	for j, d := range dest {
		if err := d.(sql.Scanner).Scan(r.rows[r.i-1][j]); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRows) Err() error { return nil }

func TestScanRows(t *testing.T) {
	data, err := scanRows(&fakeRows{rows: [][]any{
		{int64(1), []byte("2.5")},
		{nil, float64(4)},
	}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{2, 2}, data.Shape()); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
	if data.Float(0) != 1 || data.Float(1) != 2.5 || !math.IsNaN(data.Float(2)) || data.Float(3) != 4 {
		t.Errorf("unexpected data %s", data)
	}
	if _, err := scanRows(&fakeRows{rows: [][]any{{"abc"}}}, 1); !tree.IsKind(err, tree.UnsupportedDType) {
		t.Errorf("expected UnsupportedDType, got %v", err)
	}
	if _, err := ReadSQL(context.Background(), "oracle", "", "SELECT 1"); !tree.IsKind(err, tree.DomainError) {
		t.Errorf("expected DomainError for an unknown driver, got %v", err)
	}
}
