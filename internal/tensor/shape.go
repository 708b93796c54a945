package tensor

import (
	"fmt"
	"math"
)

// Shape represents the dimensions of an array.
type Shape []int

// NumElements returns the total number of elements in the array.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid: all dimensions > 0 and an element
// count that fits in an int.
func (s Shape) Validate() error {
	n := 1
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
		if n > math.MaxInt/dim {
			return fmt.Errorf("shape %v has more than %d elements", s, math.MaxInt)
		}
		n *= dim
	}
	return nil
}

// ByteSize returns count elements of dtype in bytes, or an error if the
// product overflows an int.
func ByteSize(count int, dtype DataType) (int, error) {
	size := dtype.Size()
	if count < 0 || count > math.MaxInt/size {
		return 0, fmt.Errorf("%d %s elements overflow the addressable size", count, dtype)
	}
	return count * size, nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// Span returns the number of elements addressed by the shape under the given
// strides, i.e. the distance from the first to the last element plus one.
// For row-major strides this equals NumElements.
func (s Shape) Span(strides []int) (int, error) {
	if len(strides) != len(s) {
		return 0, fmt.Errorf("strides %v do not match shape %v", strides, s)
	}
	last := 0
	for i, dim := range s {
		stride := strides[i]
		if stride < 0 {
			return 0, fmt.Errorf("negative stride %d at index %d", stride, i)
		}
		if dim <= 0 {
			return 0, fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
		if stride > 0 && dim-1 > (math.MaxInt-1-last)/stride {
			return 0, fmt.Errorf("layout of shape %v with strides %v overflows", s, strides)
		}
		last += (dim - 1) * stride
	}
	return last + 1, nil
}

// IsContiguous reports whether strides describe the row-major layout of s.
// Dimensions of size 1 may carry any stride.
func (s Shape) IsContiguous(strides []int) bool {
	if len(strides) != len(s) {
		return false
	}
	expected := 1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != 1 && strides[i] != expected {
			return false
		}
		expected *= s[i]
	}
	return true
}
