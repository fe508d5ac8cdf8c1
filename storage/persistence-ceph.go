//go:build ceph

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
	"bytes"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

func init() {
	BackendRegistry["ceph"] = func(store string, cfg BackendConfig) TileStore {
		f := &CephFactory{
			UserName:    cfg.UserName,
			ClusterName: cfg.ClusterName,
			ConfFile:    cfg.ConfFile,
			Pool:        cfg.Pool,
			Prefix:      cfg.Prefix,
		}
		return f.OpenStore(store)
	}
}

// Ceph/RADOS layout
//  - tile:   <prefix>/<store>/<key>
//
// Tiles are written with WriteFull, so a reader never sees half a tile.

type CephFactory struct {
	UserName    string // e.g. "client.admin"
	ClusterName string // often "ceph"
	ConfFile    string // optional
	Pool        string // e.g. "arraytree"
	Prefix      string
}

func (f *CephFactory) OpenStore(store string) TileStore {
	return &CephStore{factory: f, prefix: path.Join(strings.TrimSuffix(f.Prefix, "/"), store)}
}

type CephStore struct {
	factory *CephFactory
	prefix  string

	mu     sync.Mutex
	conn   *rados.Conn
	ioctx  *rados.IOContext
	opened bool
}

func (s *CephStore) ensureOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return
	}
	conn, err := rados.NewConnWithClusterAndUser(s.factory.ClusterName, s.factory.UserName)
	if err != nil {
		panic(err)
	}
	if s.factory.ConfFile != "" {
		if err := conn.ReadConfigFile(s.factory.ConfFile); err != nil {
			panic(err)
		}
	} else {
		// without conf the caller must provide CEPH_ARGS/CEPH_CONF
		_ = conn.ReadDefaultConfigFile()
	}
	if err := conn.Connect(); err != nil {
		panic(err)
	}
	ioctx, err := conn.OpenIOContext(s.factory.Pool)
	if err != nil {
		conn.Shutdown()
		panic(err)
	}
	s.conn = conn
	s.ioctx = ioctx
	s.opened = true
}

func (s *CephStore) obj(name string) string {
	return path.Join(s.prefix, name)
}

func (s *CephStore) ReadTile(key string) io.ReadCloser {
	checkKey(key)
	s.ensureOpen()
	obj := s.obj(key)
	stat, err := s.ioctx.Stat(obj)
	if err != nil {
		return ErrorReader{err}
	}
	data := make([]byte, stat.Size)
	n, err := s.ioctx.Read(obj, data, 0)
	if err != nil {
		return ErrorReader{err}
	}
	return io.NopCloser(bytes.NewReader(data[:n]))
}

type cephWriteCloser struct {
	s   *CephStore
	obj string
	buf bytes.Buffer
}

func (w *cephWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *cephWriteCloser) Close() error {
	return w.s.ioctx.WriteFull(w.obj, w.buf.Bytes())
}

func (s *CephStore) WriteTile(key string) io.WriteCloser {
	checkKey(key)
	s.ensureOpen()
	return &cephWriteCloser{s: s, obj: s.obj(key)}
}

func (s *CephStore) RemoveTile(key string) {
	checkKey(key)
	s.ensureOpen()
	_ = s.ioctx.Delete(s.obj(key))
}

func (s *CephStore) objects(prefix string) []string {
	s.ensureOpen()
	iter, err := s.ioctx.Iter()
	if err != nil {
		panic(err)
	}
	defer iter.Close()
	var result []string
	for iter.Next() {
		if oid := iter.Value(); strings.HasPrefix(oid, s.obj(prefix)) {
			result = append(result, oid)
		}
	}
	return result
}

func (s *CephStore) ListTiles(prefix string) []string {
	var keys []string
	for _, oid := range s.objects(prefix) {
		keys = append(keys, strings.TrimPrefix(oid, s.prefix+"/"))
	}
	sort.Strings(keys)
	return keys
}

func (s *CephStore) Remove() {
	for _, oid := range s.objects("") {
		_ = s.ioctx.Delete(oid)
	}
}
