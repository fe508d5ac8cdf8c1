/*
Copyright (C) 2023-2026  Carl-Philip Hänsch

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
package tree

import "io"
import "os"
import "fmt"
import "sync"
import "time"
import "encoding/json"
import "github.com/jtolds/gls"

type Tracefile struct {
	isFirst bool
	file    io.WriteCloser
	m       sync.Mutex
}

var Trace *Tracefile // default trace: set to not nil if you want to trace
var TracePrint bool  // whether to print traces to stdout

// lanes: every locality of an in-process cluster gets its own trace pid
var lanes = gls.NewContextManager()

type laneKey struct{}

// WithLane runs fn with pid as trace lane; goroutines started by Async inherit it
func WithLane(pid int, fn func()) {
	lanes.SetValues(gls.Values{laneKey{}: pid}, fn)
}

func currentLane() int {
	if v, ok := lanes.GetValue(laneKey{}); ok {
		return v.(int)
	}
	return 0
}

func SetTrace(on bool) { // sets Trace to nil or a value
	if Trace != nil {
		Trace.Close()
		Trace = nil
	}
	if on {
		f, err := os.Create(os.Getenv("ARRAYTREE_TRACEDIR") + "trace_" + fmt.Sprint(time.Now().Unix()) + ".json")
		if err != nil {
			panic(err)
		}
		Trace = NewTrace(f)
	}
}

func NewTrace(file io.WriteCloser) *Tracefile {
	file.Write([]byte("["))
	result := new(Tracefile)
	result.file = file
	result.isFirst = true
	return result
}

func (t *Tracefile) Close() {
	t.file.Write([]byte("]"))
	t.file.Close()
}

func (t *Tracefile) Duration(name string, cat string, f func()) {
	t.Event(name, cat, "B")
	defer t.Event(name, cat, "E")
	f()
}

func (t *Tracefile) Event(name string, cat string, typ string) {
	t.EventHalf(name, cat, typ, 0, currentLane())
}

func (t *Tracefile) EventHalf(name string, cat string, typ string, tid int, pid int) {
	ts := time.Since(start).Microseconds()
	t.EventFull(name, cat, typ, ts, tid, pid)
}

/*
*

	@name string function
	@cat string comma separated categories (for filtering)
	@typ B/E for begin/end, X for events
	@ts timestamp in microseconds
	@pid process id (locality)
	@tid thread id
*/
func (t *Tracefile) EventFull(name string, cat string, typ string, ts int64, tid int, pid int) {
	t.m.Lock()
	defer t.m.Unlock()
	if t.isFirst {
		t.isFirst = false
	} else {
		t.file.Write([]byte(",\n"))
	}
	event := struct {
		Name string `json:"name"`
		Cat  string `json:"cat"`
		Ph   string `json:"ph"`
		Ts   int64  `json:"ts"`
		Pid  int    `json:"pid"`
		Tid  int    `json:"tid"`
		S    string `json:"s"`
	}{name, cat, typ, ts, pid, tid, "g"}
	b, _ := json.Marshal(event)
	t.file.Write(b)
	if TracePrint {
		fmt.Println(string(b))
	}
}

var start time.Time = time.Now()

// traced evaluates n and records begin/end once the result is resolved
func (n *Node) traced(ctx EvalContext) *Future {
	trace := Trace
	if trace == nil || n.literal {
		return n.eval(n, ctx)
	}
	pid := currentLane()
	trace.EventHalf(n.name, "eval", "B", ctx.depth, pid)
	f := n.eval(n, ctx)
	if f.IsReady() {
		trace.EventHalf(n.name, "eval", "E", ctx.depth, pid)
		return f
	}
	gls.Go(func() {
		<-f.Done()
		trace.EventHalf(n.name, "eval", "E", ctx.depth, pid)
	})
	return f
}
