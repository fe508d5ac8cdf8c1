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
package ir

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxRank is the highest supported rank (quaternion arrays)
const MaxRank = 4

var ErrShape = errors.New("shape mismatch")
var ErrDType = errors.New("unsupported dtype")

type DType uint8

const (
	Bool DType = iota
	Int64
	Float64
)

func (d DType) String() string {
	switch d {
	case Bool:
		return "bool"
	case Int64:
		return "int"
	default:
		return "float"
	}
}

func ParseDType(s string) (DType, error) {
	switch s {
	case "bool":
		return Bool, nil
	case "int", "int64":
		return Int64, nil
	case "float", "float64", "double":
		return Float64, nil
	}
	return Float64, fmt.Errorf("%w: %q", ErrDType, s)
}

// Promote returns the wider of two element types (bool < int < float)
func Promote(a, b DType) DType {
	if a > b {
		return a
	}
	return b
}

/*
NodeData is a dense array of rank 0..4.

An owning NodeData holds its buffer exclusively and is laid out row-major
starting at offset 0. A reference (view) shares the buffer of another NodeData
and addresses it through offset and strides; views are produced by Slice and
Index and are only written through by Assign.
*/
type NodeData struct {
	dtype   DType
	shape   []int
	strides []int
	offset  int
	ref     bool

	b []bool
	i []int64
	f []float64
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func rowMajor(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = s
		s *= shape[d]
	}
	return strides
}

func checkShape(shape []int, n int) {
	if len(shape) > MaxRank {
		panic(fmt.Sprintf("rank %d exceeds maximum rank %d", len(shape), MaxRank))
	}
	if product(shape) != n {
		panic(fmt.Sprintf("shape %v does not match %d elements", shape, n))
	}
}

func NewFloat64(shape []int, data []float64) *NodeData {
	checkShape(shape, len(data))
	shape = append([]int(nil), shape...)
	return &NodeData{dtype: Float64, shape: shape, strides: rowMajor(shape), f: data}
}

func NewInt64(shape []int, data []int64) *NodeData {
	checkShape(shape, len(data))
	shape = append([]int(nil), shape...)
	return &NodeData{dtype: Int64, shape: shape, strides: rowMajor(shape), i: data}
}

func NewBool(shape []int, data []bool) *NodeData {
	checkShape(shape, len(data))
	shape = append([]int(nil), shape...)
	return &NodeData{dtype: Bool, shape: shape, strides: rowMajor(shape), b: data}
}

// Zeros allocates an owning array filled with the zero value of dtype
func Zeros(dtype DType, shape []int) *NodeData {
	n := product(shape)
	switch dtype {
	case Bool:
		return NewBool(shape, make([]bool, n))
	case Int64:
		return NewInt64(shape, make([]int64, n))
	default:
		return NewFloat64(shape, make([]float64, n))
	}
}

func ScalarFloat(v float64) *NodeData { return NewFloat64(nil, []float64{v}) }
func ScalarInt(v int64) *NodeData     { return NewInt64(nil, []int64{v}) }
func ScalarBool(v bool) *NodeData     { return NewBool(nil, []bool{v}) }

func (n *NodeData) DType() DType { return n.dtype }
func (n *NodeData) Rank() int    { return len(n.shape) }
func (n *NodeData) IsRef() bool  { return n.ref }
func (n *NodeData) Size() int    { return product(n.shape) }

func (n *NodeData) Shape() []int {
	return append([]int(nil), n.shape...)
}

func (n *NodeData) Dim(axis int) int {
	return n.shape[axis]
}

// pos maps a logical row-major element index to a buffer position
func (n *NodeData) pos(k int) int {
	if !n.ref {
		return k
	}
	p := n.offset
	for d := len(n.shape) - 1; d >= 0; d-- {
		if n.shape[d] == 0 {
			return p
		}
		p += (k % n.shape[d]) * n.strides[d]
		k /= n.shape[d]
	}
	return p
}

func (n *NodeData) Float(k int) float64 {
	p := n.pos(k)
	switch n.dtype {
	case Bool:
		if n.b[p] {
			return 1
		}
		return 0
	case Int64:
		return float64(n.i[p])
	default:
		return n.f[p]
	}
}

func (n *NodeData) Int(k int) int64 {
	p := n.pos(k)
	switch n.dtype {
	case Bool:
		if n.b[p] {
			return 1
		}
		return 0
	case Int64:
		return n.i[p]
	default:
		return int64(n.f[p])
	}
}

func (n *NodeData) Bool(k int) bool {
	p := n.pos(k)
	switch n.dtype {
	case Bool:
		return n.b[p]
	case Int64:
		return n.i[p] != 0
	default:
		return n.f[p] != 0
	}
}

func (n *NodeData) SetFloat(k int, v float64) {
	p := n.pos(k)
	switch n.dtype {
	case Bool:
		n.b[p] = v != 0
	case Int64:
		n.i[p] = int64(v)
	default:
		n.f[p] = v
	}
}

func (n *NodeData) SetInt(k int, v int64) {
	p := n.pos(k)
	switch n.dtype {
	case Bool:
		n.b[p] = v != 0
	case Int64:
		n.i[p] = v
	default:
		n.f[p] = float64(v)
	}
}

func (n *NodeData) SetBool(k int, v bool) {
	p := n.pos(k)
	switch n.dtype {
	case Bool:
		n.b[p] = v
	case Int64:
		if v {
			n.i[p] = 1
		} else {
			n.i[p] = 0
		}
	default:
		if v {
			n.f[p] = 1
		} else {
			n.f[p] = 0
		}
	}
}

// copyElem copies element k of src into element k of n, converting types
func (n *NodeData) copyElem(k int, src *NodeData, sk int) {
	switch n.dtype {
	case Bool:
		n.SetBool(k, src.Bool(sk))
	case Int64:
		n.SetInt(k, src.Int(sk))
	default:
		n.SetFloat(k, src.Float(sk))
	}
}

// Slice returns a view restricted to [start, stop) on axis
func (n *NodeData) Slice(axis, start, stop int) (*NodeData, error) {
	if axis < 0 || axis >= len(n.shape) {
		return nil, fmt.Errorf("%w: axis %d out of range for rank %d", ErrShape, axis, len(n.shape))
	}
	if start < 0 || stop > n.shape[axis] || start > stop {
		return nil, fmt.Errorf("%w: range [%d, %d) out of bounds for extent %d", ErrShape, start, stop, n.shape[axis])
	}
	v := n.view()
	v.shape[axis] = stop - start
	v.offset += start * n.strides[axis]
	return v, nil
}

// Index returns a view of rank-1 that fixes axis to i
func (n *NodeData) Index(axis, i int) (*NodeData, error) {
	if axis < 0 || axis >= len(n.shape) {
		return nil, fmt.Errorf("%w: axis %d out of range for rank %d", ErrShape, axis, len(n.shape))
	}
	if i < 0 || i >= n.shape[axis] {
		return nil, fmt.Errorf("%w: index %d out of bounds for extent %d", ErrShape, i, n.shape[axis])
	}
	v := n.view()
	v.offset += i * n.strides[axis]
	v.shape = append(v.shape[:axis], v.shape[axis+1:]...)
	v.strides = append(v.strides[:axis], v.strides[axis+1:]...)
	return v, nil
}

func (n *NodeData) view() *NodeData {
	return &NodeData{
		dtype:   n.dtype,
		shape:   append([]int(nil), n.shape...),
		strides: append([]int(nil), n.strides...),
		offset:  n.offset,
		ref:     true,
		b:       n.b,
		i:       n.i,
		f:       n.f,
	}
}

// Copy returns an owning contiguous copy
func (n *NodeData) Copy() *NodeData {
	return n.AsType(n.dtype)
}

// AsType returns an owning contiguous copy converted to dtype
func (n *NodeData) AsType(dtype DType) *NodeData {
	result := Zeros(dtype, n.shape)
	size := n.Size()
	for k := 0; k < size; k++ {
		result.copyElem(k, n, k)
	}
	return result
}

// Assign writes src elementwise into n (n is usually a view)
func (n *NodeData) Assign(src *NodeData) error {
	if src.Rank() == 0 {
		// broadcast scalar
		size := n.Size()
		for k := 0; k < size; k++ {
			n.copyElem(k, src, 0)
		}
		return nil
	}
	if !sameShape(n.shape, src.shape) {
		return fmt.Errorf("%w: cannot assign shape %v to %v", ErrShape, src.shape, n.shape)
	}
	size := n.Size()
	for k := 0; k < size; k++ {
		n.copyElem(k, src, k)
	}
	return nil
}

// Reshape returns an owning copy with a new shape of equal size
func (n *NodeData) Reshape(shape []int) (*NodeData, error) {
	if product(shape) != n.Size() || len(shape) > MaxRank {
		return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrShape, n.shape, shape)
	}
	c := n.Copy()
	c.shape = append([]int(nil), shape...)
	c.strides = rowMajor(c.shape)
	return c, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func SameShape(a, b *NodeData) bool {
	return sameShape(a.shape, b.shape)
}

// Equal compares rank, shape and numeric element values
func (n *NodeData) Equal(o *NodeData) bool {
	if !sameShape(n.shape, o.shape) {
		return false
	}
	size := n.Size()
	for k := 0; k < size; k++ {
		if n.dtype == Float64 || o.dtype == Float64 {
			a, b := n.Float(k), o.Float(k)
			if a != b && !(math.IsNaN(a) && math.IsNaN(b)) {
				return false
			}
		} else if n.Int(k) != o.Int(k) {
			return false
		}
	}
	return true
}

// ComputeSize estimates the memory footprint in bytes
func (n *NodeData) ComputeSize() uint {
	sz := uint(64 + 16*len(n.shape))
	if n.ref {
		return sz // buffer is accounted by its owner
	}
	switch n.dtype {
	case Bool:
		sz += uint(len(n.b))
	case Int64:
		sz += 8 * uint(len(n.i))
	default:
		sz += 8 * uint(len(n.f))
	}
	return sz
}

func (n *NodeData) formatElem(b *strings.Builder, k int) {
	switch n.dtype {
	case Bool:
		b.WriteString(strconv.FormatBool(n.Bool(k)))
	case Int64:
		b.WriteString(strconv.FormatInt(n.Int(k), 10))
	default:
		b.WriteString(FormatFloat(n.Float(k)))
	}
}

// FormatFloat prints integral floats with a trailing .0 so they stay distinguishable from ints
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func (n *NodeData) String() string {
	var b strings.Builder
	if len(n.shape) == 0 {
		n.formatElem(&b, 0)
		return b.String()
	}
	k := 0
	var rec func(axis int)
	rec = func(axis int) {
		b.WriteByte('[')
		for i := 0; i < n.shape[axis]; i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			if axis == len(n.shape)-1 {
				n.formatElem(&b, k)
				k++
			} else {
				rec(axis + 1)
			}
		}
		b.WriteByte(']')
	}
	rec(0)
	return b.String()
}
