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
package tree

import (
	"math"
	"strconv"
	"strings"

	"github.com/launix-de/arraytree/ir"
)

type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindList
	KindNode
	KindFuture
)

var kindNames = [...]string{"nil", "bool", "int", "float", "string", "array", "list", "func", "future"}

func (k Kind) String() string { return kindNames[k] }

// Callable is the handle a Node value holds: a closure or a primitive
type Callable interface {
	Name() string
	Call(ctx EvalContext, args []Value) *Future
}

/*
Value is the tagged union flowing through the execution tree.

Scalars live in num (floats as IEEE bits), everything else in ptr.
The annotation is the tile descriptor of an array and travels with the
value; Values are immutable, WithAnnotation returns a copy.
*/
type Value struct {
	kind Kind
	num  uint64
	ptr  any
	ann  *ir.Annotation
}

func NewNil() Value { return Value{} }

func NewBool(b bool) Value {
	if b {
		return Value{kind: KindBool, num: 1}
	}
	return Value{kind: KindBool}
}

func NewInt(i int64) Value     { return Value{kind: KindInt, num: uint64(i)} }
func NewFloat(f float64) Value { return Value{kind: KindFloat, num: math.Float64bits(f)} }
func NewString(s string) Value { return Value{kind: KindString, ptr: s} }

func NewArray(a *ir.NodeData) Value {
	if a == nil {
		return NewNil()
	}
	return Value{kind: KindArray, ptr: a}
}

func NewList(l []Value) Value       { return Value{kind: KindList, ptr: l} }
func NewFunc(c Callable) Value      { return Value{kind: KindNode, ptr: c} }
func NewFuture(f *Future) Value     { return Value{kind: KindFuture, ptr: f} }
func NewIntList(l ...int64) Value {
	r := make([]Value, len(l))
	for i, v := range l {
		r[i] = NewInt(v)
	}
	return NewList(r)
}

func (v Value) Kind() Kind                  { return v.kind }
func (v Value) IsNil() bool                 { return v.kind == KindNil }
func (v Value) Annotation() *ir.Annotation { return v.ann }

func (v Value) WithAnnotation(a *ir.Annotation) Value {
	v.ann = a
	return v
}

// raw accessors: only valid for the matching kind
func (v Value) Bool() bool              { return v.num != 0 }
func (v Value) Int() int64              { return int64(v.num) }
func (v Value) Float() float64          { return math.Float64frombits(v.num) }
func (v Value) Str() string             { return v.ptr.(string) }
func (v Value) Array() *ir.NodeData     { return v.ptr.(*ir.NodeData) }
func (v Value) List() []Value           { return v.ptr.([]Value) }
func (v Value) Callable() Callable      { return v.ptr.(Callable) }
func (v Value) Future() *Future         { return v.ptr.(*Future) }

func (v Value) IsNumber() bool {
	return v.kind == KindInt || v.kind == KindFloat || v.kind == KindBool
}

func mismatch(want string, v Value) *Error {
	return Errorf(TypeMismatch, "expected %s, found %s", want, v.kind)
}

func (v Value) AsBool() (bool, error) {
	switch v.kind {
	case KindBool, KindInt:
		return v.num != 0, nil
	case KindFloat:
		return v.Float() != 0, nil
	case KindArray:
		if a := v.Array(); a.Rank() == 0 {
			return a.Bool(0), nil
		}
	}
	return false, mismatch("bool", v)
}

func (v Value) AsInt() (int64, error) {
	switch v.kind {
	case KindBool, KindInt:
		return int64(v.num), nil
	case KindFloat:
		f := v.Float()
		if f == math.Trunc(f) {
			return int64(f), nil
		}
		return 0, Errorf(TypeMismatch, "expected int, found non-integral float %v", f)
	case KindArray:
		if a := v.Array(); a.Rank() == 0 {
			return NewArray(a).scalar().AsInt()
		}
	}
	return 0, mismatch("int", v)
}

func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case KindBool, KindInt:
		return float64(int64(v.num)), nil
	case KindFloat:
		return v.Float(), nil
	case KindArray:
		if a := v.Array(); a.Rank() == 0 {
			return a.Float(0), nil
		}
	}
	return 0, mismatch("float", v)
}

func (v Value) AsString() (string, error) {
	if v.kind == KindString {
		return v.Str(), nil
	}
	return "", mismatch("string", v)
}

// AsArray accepts arrays, scalars (rank 0) and lists of scalars (vectors)
func (v Value) AsArray() (*ir.NodeData, error) {
	switch v.kind {
	case KindArray:
		return v.Array(), nil
	case KindBool:
		return ir.ScalarBool(v.Bool()), nil
	case KindInt:
		return ir.ScalarInt(v.Int()), nil
	case KindFloat:
		return ir.ScalarFloat(v.Float()), nil
	case KindList:
		return listToArray(v.List())
	}
	return nil, mismatch("array", v)
}

func (v Value) AsList() ([]Value, error) {
	if v.kind == KindList {
		return v.List(), nil
	}
	return nil, mismatch("list", v)
}

func (v Value) AsCallable() (Callable, error) {
	if v.kind == KindNode {
		return v.Callable(), nil
	}
	return nil, mismatch("func", v)
}

// scalar unpacks a rank 0 array
func (v Value) scalar() Value {
	a := v.Array()
	switch a.DType() {
	case ir.Bool:
		return NewBool(a.Bool(0))
	case ir.Int64:
		return NewInt(a.Int(0))
	default:
		return NewFloat(a.Float(0))
	}
}

func listToArray(l []Value) (*ir.NodeData, error) {
	dtype := ir.Bool
	for _, e := range l {
		switch e.kind {
		case KindBool:
		case KindInt:
			dtype = ir.Promote(dtype, ir.Int64)
		case KindFloat:
			dtype = ir.Float64
		default:
			return nil, Errorf(TypeMismatch, "list element of kind %s cannot form an array", e.kind)
		}
	}
	if len(l) == 0 {
		dtype = ir.Float64
	}
	a := ir.Zeros(dtype, []int{len(l)})
	for i, e := range l {
		switch e.kind {
		case KindBool:
			a.SetBool(i, e.Bool())
		case KindInt:
			a.SetInt(i, e.Int())
		default:
			a.SetFloat(i, e.Float())
		}
	}
	return a, nil
}

// ToBool, ToInt, ... are the panicking variants for kernels
func ToBool(v Value) bool {
	b, err := v.AsBool()
	if err != nil {
		panic(err)
	}
	return b
}

func ToInt(v Value) int64 {
	i, err := v.AsInt()
	if err != nil {
		panic(err)
	}
	return i
}

func ToFloat(v Value) float64 {
	f, err := v.AsFloat()
	if err != nil {
		panic(err)
	}
	return f
}

func ToString(v Value) string {
	s, err := v.AsString()
	if err != nil {
		panic(err)
	}
	return s
}

func ToArray(v Value) *ir.NodeData {
	a, err := v.AsArray()
	if err != nil {
		panic(err)
	}
	return a
}

func ToList(v Value) []Value {
	l, err := v.AsList()
	if err != nil {
		panic(err)
	}
	return l
}

// Equal is structural: recursive into lists, elementwise and shape sensitive for arrays
func Equal(a, b Value) bool {
	if a.kind == KindFuture || b.kind == KindFuture {
		return false
	}
	if a.IsNumber() && b.IsNumber() {
		if a.kind == KindFloat || b.kind == KindFloat {
			x, _ := a.AsFloat()
			y, _ := b.AsFloat()
			return x == y
		}
		return a.num == b.num
	}
	if a.kind == KindArray || b.kind == KindArray {
		if a.kind == KindList || b.kind == KindList || a.kind == KindNil || b.kind == KindNil {
			return false
		}
		x, err1 := a.AsArray()
		y, err2 := b.AsArray()
		return err1 == nil && err2 == nil && x.Equal(y)
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindString:
		return a.Str() == b.Str()
	case KindList:
		x, y := a.List(), b.List()
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case KindNode:
		return a.ptr == b.ptr
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.Bool())
	case KindInt:
		return strconv.FormatInt(v.Int(), 10)
	case KindFloat:
		return ir.FormatFloat(v.Float())
	case KindString:
		return strconv.Quote(v.Str())
	case KindArray:
		return v.Array().String()
	case KindList:
		var b strings.Builder
		b.WriteString("list(")
		for i, e := range v.List() {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(e.String())
		}
		b.WriteByte(')')
		return b.String()
	case KindNode:
		return "func " + v.Callable().Name()
	case KindFuture:
		if v.Future().IsReady() {
			r, err := v.Future().Get()
			if err == nil {
				return r.String()
			}
		}
		return "future"
	}
	return "?"
}
