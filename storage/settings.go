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
	"runtime"
	"time"

	"github.com/dc0d/onexit"
	"github.com/docker/go-units"
	"github.com/launix-de/arraytree/dist"
	"github.com/launix-de/arraytree/transport"
	"github.com/launix-de/arraytree/tree"
)

type SettingsT struct {
	Backtrace         bool
	Trace             bool
	TracePrint        bool
	MaxRecursionDepth int
	Workers           int
	WireCompression   string // payload size above which wire frames are lz4 compressed, e.g. "4KiB"
	CollectiveTimeout string // e.g. "60s"
	DefaultBackend    string // backend of tile stores without a <name>.json
	DataDir           string
}

var Settings SettingsT = SettingsT{false, false, false, 2000, runtime.NumCPU(), "4KiB", "60s", "files", "data"}

// call this after you filled Settings
func InitSettings() {
	tree.SettingsHaveGoodBacktraces = Settings.Backtrace
	tree.SetTrace(Settings.Trace)
	tree.TracePrint = Settings.TracePrint
	tree.MaxDepth.Store(int64(Settings.MaxRecursionDepth))
	tree.SetWorkers(Settings.Workers)
	if err := applyWireCompression(Settings.WireCompression); err != nil {
		panic(err)
	}
	if err := applyCollectiveTimeout(Settings.CollectiveTimeout); err != nil {
		panic(err)
	}
	onexit.Register(func() { tree.SetTrace(false) }) // close trace file on exit
}

func applyWireCompression(size string) error {
	limit, err := units.RAMInBytes(size)
	if err != nil {
		return tree.Errorf(tree.DomainError, "WireCompression: %v", err)
	}
	transport.CompressAbove.Store(limit)
	return nil
}

func applyCollectiveTimeout(d string) error {
	timeout, err := time.ParseDuration(d)
	if err != nil || timeout <= 0 {
		return tree.Errorf(tree.DomainError, "CollectiveTimeout: %q is not a positive duration", d)
	}
	dist.CollectiveTimeout = timeout
	return nil
}

var settingNames = []string{"Backtrace", "Trace", "TracePrint", "MaxRecursionDepth", "Workers", "WireCompression", "CollectiveTimeout", "DefaultBackend", "DataDir"}

func getSetting(name string) tree.Value {
	switch name {
	case "Backtrace":
		return tree.NewBool(Settings.Backtrace)
	case "Trace":
		return tree.NewBool(Settings.Trace)
	case "TracePrint":
		return tree.NewBool(Settings.TracePrint)
	case "MaxRecursionDepth":
		return tree.NewInt(int64(Settings.MaxRecursionDepth))
	case "Workers":
		return tree.NewInt(int64(Settings.Workers))
	case "WireCompression":
		return tree.NewString(Settings.WireCompression)
	case "CollectiveTimeout":
		return tree.NewString(Settings.CollectiveTimeout)
	case "DefaultBackend":
		return tree.NewString(Settings.DefaultBackend)
	case "DataDir":
		return tree.NewString(Settings.DataDir)
	}
	panic(tree.Errorf(tree.DomainError, "unknown setting: %s", name))
}

/*
ChangeSettings is the settings primitive:

	settings()             list of name, value pairs
	settings(name)         the value of one setting
	settings(name, value)  changes a setting and returns true
*/
func ChangeSettings(a ...tree.Value) tree.Value {
	if len(a) == 0 {
		result := make([]tree.Value, 0, 2*len(settingNames))
		for _, name := range settingNames {
			result = append(result, tree.NewString(name), getSetting(name))
		}
		return tree.NewList(result)
	}
	name := tree.ToString(a[0])
	if len(a) == 1 {
		return getSetting(name)
	}
	switch name {
	case "Backtrace":
		Settings.Backtrace = tree.ToBool(a[1])
		tree.SettingsHaveGoodBacktraces = Settings.Backtrace
	case "Trace":
		Settings.Trace = tree.ToBool(a[1])
		tree.SetTrace(Settings.Trace)
	case "TracePrint":
		Settings.TracePrint = tree.ToBool(a[1])
		tree.TracePrint = Settings.TracePrint
	case "MaxRecursionDepth":
		depth := tree.ToInt(a[1])
		if depth < 1 {
			panic(tree.Errorf(tree.DomainError, "MaxRecursionDepth must be positive, got %d", depth))
		}
		Settings.MaxRecursionDepth = int(depth)
		tree.MaxDepth.Store(depth)
	case "Workers":
		n := tree.ToInt(a[1])
		if n < 1 {
			panic(tree.Errorf(tree.DomainError, "Workers must be positive, got %d", n))
		}
		Settings.Workers = int(n)
		tree.SetWorkers(Settings.Workers)
	case "WireCompression":
		size := tree.ToString(a[1])
		if err := applyWireCompression(size); err != nil {
			panic(err)
		}
		Settings.WireCompression = size
	case "CollectiveTimeout":
		d := tree.ToString(a[1])
		if err := applyCollectiveTimeout(d); err != nil {
			panic(err)
		}
		Settings.CollectiveTimeout = d
	case "DefaultBackend":
		backend := tree.ToString(a[1])
		if _, ok := BackendRegistry[backend]; !ok {
			panic(tree.Errorf(tree.DomainError, "unknown backend: %s", backend))
		}
		Settings.DefaultBackend = backend
	case "DataDir":
		Settings.DataDir = tree.ToString(a[1])
		closeStores()
	default:
		panic(tree.Errorf(tree.DomainError, "unknown setting: %s", name))
	}
	return tree.NewBool(true)
}

func initSettings() {
	tree.DeclareTitle("Settings")
	tree.Declare(&tree.Declaration{
		Name: "settings", Desc: "reads or changes engine settings; settings() lists all of them",
		MinParameter: 0, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "name", Type: "string", Desc: "Backtrace, Trace, TracePrint, MaxRecursionDepth, Workers, WireCompression, CollectiveTimeout, DefaultBackend or DataDir"},
			{Name: "value", Type: "any", Desc: "new value"},
		},
		Returns: "any",
		Fn:      ChangeSettings,
	})
}
