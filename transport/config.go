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
	"fmt"
	"os"
	"sort"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

/*
ClusterConfig is the topology file of a websocket cluster:

	localities:
	  - id: 0
	    address: 10.0.0.1:7070
	  - id: 1
	    address: 10.0.0.2:7070
	compress_above: 4KiB
*/
type ClusterConfig struct {
	Localities    []PeerConfig `yaml:"localities"`
	CompressAbove string       `yaml:"compress_above"`
}

type PeerConfig struct {
	ID      uint32 `yaml:"id"`
	Address string `yaml:"address"`
}

func LoadClusterConfig(path string) (*ClusterConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseClusterConfig(b)
}

// ParseClusterConfig validates that the ids are exactly 0..n-1 and applies compress_above
func ParseClusterConfig(b []byte) (*ClusterConfig, error) {
	var cfg ClusterConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Localities) == 0 {
		return nil, fmt.Errorf("cluster config lists no localities")
	}
	sort.Slice(cfg.Localities, func(i, j int) bool {
		return cfg.Localities[i].ID < cfg.Localities[j].ID
	})
	for i, p := range cfg.Localities {
		if p.ID != uint32(i) {
			return nil, fmt.Errorf("cluster config: locality ids must be 0..%d, found %d at position %d", len(cfg.Localities)-1, p.ID, i)
		}
		if p.Address == "" {
			return nil, fmt.Errorf("cluster config: locality %d has no address", p.ID)
		}
	}
	if cfg.CompressAbove != "" {
		limit, err := units.RAMInBytes(cfg.CompressAbove)
		if err != nil {
			return nil, fmt.Errorf("cluster config: compress_above: %w", err)
		}
		CompressAbove.Store(limit)
	}
	return &cfg, nil
}

// Address of locality id
func (c *ClusterConfig) Address(id uint32) string {
	return c.Localities[id].Address
}
