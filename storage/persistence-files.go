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
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ulikunitz/xz"
)

// FileStore keeps one xz compressed file per tile
type FileStore struct {
	path string
}

const tileSuffix = ".tile.xz"

func (s *FileStore) ReadTile(key string) io.ReadCloser {
	checkKey(key)
	f, err := os.Open(s.path + key + tileSuffix)
	if err != nil {
		// file does not exist -> no data available
		return ErrorReader{err}
	}
	r, err := xz.NewReader(f)
	if err != nil {
		f.Close()
		return ErrorReader{err}
	}
	return xzReadCloser{r, f}
}

type xzReadCloser struct {
	*xz.Reader
	f *os.File
}

func (r xzReadCloser) Close() error { return r.f.Close() }

// WriteTile writes into a temporary file that replaces the tile on Close
func (s *FileStore) WriteTile(key string) io.WriteCloser {
	checkKey(key)
	os.MkdirAll(s.path, 0750)
	f, err := os.Create(s.path + key + tileSuffix + ".tmp")
	if err != nil {
		panic(err)
	}
	w, err := xz.NewWriter(f)
	if err != nil {
		f.Close()
		panic(err)
	}
	return &xzWriteCloser{w: w, f: f, target: s.path + key + tileSuffix}
}

type xzWriteCloser struct {
	w      *xz.Writer
	f      *os.File
	target string
}

func (w *xzWriteCloser) Write(p []byte) (int, error) { return w.w.Write(p) }

func (w *xzWriteCloser) Close() error {
	if err := w.w.Close(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Close(); err != nil {
		return err
	}
	return os.Rename(w.f.Name(), w.target)
}

func (s *FileStore) RemoveTile(key string) {
	checkKey(key)
	os.Remove(s.path + key + tileSuffix)
}

func (s *FileStore) ListTiles(prefix string) []string {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, tileSuffix) && strings.HasPrefix(name, prefix) {
			keys = append(keys, strings.TrimSuffix(name, tileSuffix))
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *FileStore) Remove() {
	os.RemoveAll(s.path)
}
