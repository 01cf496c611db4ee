// SPDX-License-Identifier: Apache-2.0

// Package ndarray provides the minimal "n-dimensional buffer with shape,
// dtype, and contiguous bytes" abstraction spec.md §1 assumes the numeric
// array library already provides, rather than redesigning it.
package ndarray

import (
	"errors"
	"fmt"
)

// DType identifies the element type of a buffer's contiguous bytes.
type DType uint8

const (
	Float32 DType = iota
	Float64
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Bool
)

// Size returns the size in bytes of one element of this type.
func (d DType) Size() int64 {
	switch d {
	case Float32, Int32, Uint32:
		return 4
	case Float64, Int64, Uint64:
		return 8
	case Int8, Uint8, Bool:
		return 1
	case Int16, Uint16:
		return 2
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Shape is a tensor's extent along each axis. A nil or empty Shape denotes
// a rank-0 (scalar) sample; boundary case spec.md §8 requires to round-trip
// through encode/decode to `()`.
type Shape []int64

// Rank is the number of axes.
func (s Shape) Rank() int { return len(s) }

// Elements returns the total element count (1 for rank-0).
func (s Shape) Elements() int64 {
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether two shapes describe the same extents.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// LessEqual reports whether s fits within bound in every axis — the
// sample-shape-within-max-shape constraint spec.md §3 requires of
// BackendLocation.Shape.
func (s Shape) LessEqual(bound Shape) bool {
	if len(s) != len(bound) {
		return false
	}
	for i := range s {
		if s[i] > bound[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	if len(s) == 0 {
		return "()"
	}
	out := "("
	for i, d := range s {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d", d)
	}
	return out + ")"
}

// Array is a dense, row-major (C order) tensor buffer.
type Array struct {
	Shape Shape
	DType DType
	Data  []byte
}

// ErrBufferSize is returned when Data's length does not match Shape/DType.
var ErrBufferSize = errors.New("ndarray: buffer length does not match shape and dtype")

// New allocates a zeroed array of the given shape and dtype.
func New(shape Shape, dtype DType) *Array {
	n := shape.Elements() * dtype.Size()
	return &Array{Shape: shape, DType: dtype, Data: make([]byte, n)}
}

// NewFromBytes wraps an existing buffer, validating its length.
func NewFromBytes(shape Shape, dtype DType, data []byte) (*Array, error) {
	want := shape.Elements() * dtype.Size()
	if int64(len(data)) != want {
		return nil, fmt.Errorf("%w: want %d got %d", ErrBufferSize, want, len(data))
	}
	return &Array{Shape: shape, DType: dtype, Data: data}, nil
}

// ByteSize is the size in bytes of one full sample of this array's shape
// and dtype.
func (a *Array) ByteSize() int64 {
	return a.Shape.Elements() * a.DType.Size()
}
