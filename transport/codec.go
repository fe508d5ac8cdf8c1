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

// Package transport moves requests and values between localities: an
// in-process cluster for tests and the -localities flag, and websocket
// connections between processes.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"github.com/launix-de/arraytree/ir"
	"github.com/launix-de/arraytree/tree"
	"github.com/pierrec/lz4/v4"
)

// CompressAbove is the payload size in bytes from which messages are lz4 compressed (0 = never)
var CompressAbove atomic.Int64

func init() {
	CompressAbove.Store(4096)
}

const (
	framePlain = 'J'
	frameLZ4   = 'Z'
)

type wireValue struct {
	Kind  string          `json:"k"`
	Num   uint64          `json:"n,omitempty"` // bool, int and float bits
	Str   string          `json:"s,omitempty"`
	List  []wireValue     `json:"l,omitempty"`
	Array *wireArray      `json:"a,omitempty"`
	Ann   *wireAnnotation `json:"t,omitempty"`
}

type wireArray struct {
	DType string   `json:"dtype"`
	Shape []int    `json:"shape"`
	Data  []uint64 `json:"data"` // row-major; floats as IEEE bits
}

type wireAnnotation struct {
	Name     string              `json:"name"`
	Locality *ir.Locality        `json:"locality,omitempty"`
	Tiles    map[string]ir.Range `json:"tiles"`
}

type wireError struct {
	Kind      uint8  `json:"kind"`
	Primitive string `json:"primitive,omitempty"`
	Message   string `json:"message"`
}

func toWire(v tree.Value) (wireValue, error) {
	w := wireValue{Kind: v.Kind().String()}
	switch v.Kind() {
	case tree.KindNil:
	case tree.KindBool:
		if v.Bool() {
			w.Num = 1
		}
	case tree.KindInt:
		w.Num = uint64(v.Int())
	case tree.KindFloat:
		w.Num = math.Float64bits(v.Float())
	case tree.KindString:
		w.Str = v.Str()
	case tree.KindList:
		l := v.List()
		w.List = make([]wireValue, len(l))
		for i, e := range l {
			var err error
			if w.List[i], err = toWire(e); err != nil {
				return w, err
			}
		}
	case tree.KindArray:
		a := v.Array()
		size := a.Size()
		wa := &wireArray{DType: a.DType().String(), Shape: a.Shape(), Data: make([]uint64, size)}
		for k := 0; k < size; k++ {
			switch a.DType() {
			case ir.Bool:
				if a.Bool(k) {
					wa.Data[k] = 1
				}
			case ir.Int64:
				wa.Data[k] = uint64(a.Int(k))
			default:
				wa.Data[k] = math.Float64bits(a.Float(k))
			}
		}
		w.Array = wa
	default:
		return w, tree.Errorf(tree.TypeMismatch, "a %s cannot be sent to another locality", v.Kind())
	}
	if ann := v.Annotation(); ann != nil {
		w.Ann = &wireAnnotation{Name: ann.Name, Locality: ann.Locality, Tiles: ann.Tiles}
	}
	return w, nil
}

func fromWire(w wireValue) (tree.Value, error) {
	var v tree.Value
	switch w.Kind {
	case "nil":
		v = tree.NewNil()
	case "bool":
		v = tree.NewBool(w.Num != 0)
	case "int":
		v = tree.NewInt(int64(w.Num))
	case "float":
		v = tree.NewFloat(math.Float64frombits(w.Num))
	case "string":
		v = tree.NewString(w.Str)
	case "list":
		l := make([]tree.Value, len(w.List))
		for i, e := range w.List {
			var err error
			if l[i], err = fromWire(e); err != nil {
				return v, err
			}
		}
		v = tree.NewList(l)
	case "array":
		if w.Array == nil {
			return v, fmt.Errorf("array without data")
		}
		dtype, err := ir.ParseDType(w.Array.DType)
		if err != nil {
			return v, err
		}
		a := ir.Zeros(dtype, w.Array.Shape)
		if a.Size() != len(w.Array.Data) {
			return v, fmt.Errorf("%w: %d elements for shape %v", ir.ErrShape, len(w.Array.Data), w.Array.Shape)
		}
		for k, x := range w.Array.Data {
			switch dtype {
			case ir.Bool:
				a.SetBool(k, x != 0)
			case ir.Int64:
				a.SetInt(k, int64(x))
			default:
				a.SetFloat(k, math.Float64frombits(x))
			}
		}
		v = tree.NewArray(a)
	default:
		return v, fmt.Errorf("unknown value kind %q", w.Kind)
	}
	if w.Ann != nil {
		v = v.WithAnnotation(ir.NewAnnotation(w.Ann.Name, w.Ann.Locality, w.Ann.Tiles))
	}
	return v, nil
}

// frame serializes msg as JSON and compresses it when it is large
func frame(msg any) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	limit := CompressAbove.Load()
	if limit <= 0 || int64(len(payload)) < limit {
		return append([]byte{framePlain}, payload...), nil
	}
	var buf bytes.Buffer
	buf.WriteByte(frameLZ4)
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unframe(b []byte, msg any) error {
	if len(b) == 0 {
		return fmt.Errorf("empty message")
	}
	payload := b[1:]
	switch b[0] {
	case framePlain:
	case frameLZ4:
		var err error
		payload, err = io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown frame type %q", b[0])
	}
	return json.Unmarshal(payload, msg)
}

// Encode serializes a value including its annotation
func Encode(v tree.Value) ([]byte, error) {
	w, err := toWire(v)
	if err != nil {
		return nil, err
	}
	return frame(w)
}

func Decode(b []byte) (tree.Value, error) {
	var w wireValue
	if err := unframe(b, &w); err != nil {
		return tree.NewNil(), err
	}
	return fromWire(w)
}

func encodeArgs(args []tree.Value) ([]wireValue, error) {
	result := make([]wireValue, len(args))
	for i, a := range args {
		var err error
		if result[i], err = toWire(a); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeArgs(args []wireValue) ([]tree.Value, error) {
	result := make([]tree.Value, len(args))
	for i, a := range args {
		var err error
		if result[i], err = fromWire(a); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func toWireError(err error) *wireError {
	if err == nil {
		return nil
	}
	if e, ok := err.(*tree.Error); ok {
		return &wireError{Kind: uint8(e.Kind), Primitive: e.Primitive, Message: e.Message}
	}
	return &wireError{Kind: uint8(tree.KindOf(err)), Message: err.Error()}
}

func fromWireError(w *wireError) error {
	if w == nil {
		return nil
	}
	kind := tree.ErrorKind(w.Kind)
	if kind == 0 {
		kind = tree.RemoteEvaluationError
	}
	return &tree.Error{Kind: kind, Primitive: w.Primitive, Message: w.Message}
}
