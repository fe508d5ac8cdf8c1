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
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/launix-de/arraytree/tree"
)

/*

tile stores

Checkpointed tiles live in named tile stores:
 - file system: in <DataDir>/<store>/ (xz compressed)
 - all other: described by <DataDir>/<store>.json

A tile store must implement the following operations:
 - read a tile
 - write a tile
 - remove a tile
 - list the tiles with a key prefix
 - remove the whole store

*/

type TileStore interface {
	ReadTile(key string) io.ReadCloser
	WriteTile(key string) io.WriteCloser
	RemoveTile(key string)
	ListTiles(prefix string) []string
	Remove()
}

// BackendConfig describes a remote tile store.
// These are stored as JSON files in the data folder (e.g. data/checkpoints.json).
type BackendConfig struct {
	Backend string `json:"backend"` // "ceph", "s3", "files"

	// Ceph-specific fields
	UserName    string `json:"username,omitempty"`  // Ceph: e.g. "client.admin"
	ClusterName string `json:"cluster,omitempty"`   // Ceph: often "ceph"
	ConfFile    string `json:"conf_file,omitempty"` // Ceph: optional config path
	Pool        string `json:"pool,omitempty"`      // Ceph: e.g. "arraytree"
	Prefix      string `json:"prefix,omitempty"`    // Object prefix (Ceph and S3)

	// S3-specific fields
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"` // MinIO etc.
	Bucket          string `json:"bucket,omitempty"`
	ForcePathStyle  bool   `json:"force_path_style,omitempty"`

	// files
	Path string `json:"path,omitempty"`
}

// BackendRegistry maps backend names to store constructors
var BackendRegistry = map[string]func(store string, cfg BackendConfig) TileStore{
	"files": func(store string, cfg BackendConfig) TileStore {
		if cfg.Path != "" {
			return &FileStore{path: cfg.Path + "/"}
		}
		return &FileStore{path: filepath.Join(Settings.DataDir, store) + "/"}
	},
}

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func checkKey(key string) {
	if !validKey.MatchString(key) {
		panic(tree.Errorf(tree.DomainError, "invalid tile key %q: use letters, digits, '_', '.' and '-'", key))
	}
}

var storesMu sync.Mutex
var stores = map[string]TileStore{}

// OpenStore returns the tile store named store, configured by <DataDir>/<store>.json if present
func OpenStore(store string) (TileStore, error) {
	checkKey(store)
	storesMu.Lock()
	defer storesMu.Unlock()
	if s, ok := stores[store]; ok {
		return s, nil
	}
	cfg := BackendConfig{Backend: Settings.DefaultBackend}
	if raw, err := os.ReadFile(filepath.Join(Settings.DataDir, store+".json")); err == nil {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, tree.Errorf(tree.DomainError, "tile store %s: invalid config: %v", store, err)
		}
	}
	factory, ok := BackendRegistry[cfg.Backend]
	if !ok {
		return nil, tree.Errorf(tree.DomainError, "tile store %s: unknown backend %q", store, cfg.Backend)
	}
	s := factory(store, cfg)
	stores[store] = s
	return s, nil
}

func closeStores() {
	storesMu.Lock()
	stores = map[string]TileStore{}
	storesMu.Unlock()
}

// ErrorReader implements io.ReadCloser
type ErrorReader struct {
	e error
}

func (e ErrorReader) Read([]byte) (int, error) {
	// reflects the error (e.g. file not found)
	return 0, e.e
}
func (e ErrorReader) Close() error {
	return nil
}
