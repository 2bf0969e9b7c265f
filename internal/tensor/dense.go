// Package tensor provides a small dense, row-major N-dimensional array used
// for complex field archives and intensity cubes.
//
// Index errors are programming errors and panic, as gonum's mat package does.
// Shape errors that depend on caller data are returned.
package tensor

import (
	"fmt"

	"github.com/banshee-data/opticsim/internal/simerr"
)

// Elem is the set of element types a Dense can hold.
type Elem interface {
	~float64 | ~complex128
}

// Dense is a contiguous row-major array.
type Dense[T Elem] struct {
	shape []int
	data  []T
}

// New allocates a zeroed array of the given shape. A zero-length axis is
// allowed; negative lengths panic.
func New[T Elem](shape ...int) *Dense[T] {
	n := 1
	for _, s := range shape {
		if s < 0 {
			panic(fmt.Sprintf("tensor: negative dimension in shape %v", shape))
		}
		n *= s
	}
	return &Dense[T]{shape: append([]int(nil), shape...), data: make([]T, n)}
}

// FromSlice wraps data (without copying) in the given shape.
func FromSlice[T Elem](data []T, shape ...int) (*Dense[T], error) {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(data) {
		return nil, simerr.Configf("data length %d does not fill shape %v", len(data), shape)
	}
	return &Dense[T]{shape: append([]int(nil), shape...), data: data}, nil
}

// Shape returns a copy of the array's dimensions.
func (d *Dense[T]) Shape() []int { return append([]int(nil), d.shape...) }

// Dim returns the length of one axis.
func (d *Dense[T]) Dim(axis int) int { return d.shape[axis] }

// Rank returns the number of axes.
func (d *Dense[T]) Rank() int { return len(d.shape) }

// Size returns the total element count.
func (d *Dense[T]) Size() int { return len(d.data) }

// Data exposes the backing slice in row-major order.
func (d *Dense[T]) Data() []T { return d.data }

func (d *Dense[T]) offset(idx []int) int {
	if len(idx) != len(d.shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank %d", len(idx), len(d.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= d.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, d.shape))
		}
		off = off*d.shape[i] + v
	}
	return off
}

// At returns the element at idx.
func (d *Dense[T]) At(idx ...int) T { return d.data[d.offset(idx)] }

// Set stores v at idx.
func (d *Dense[T]) Set(v T, idx ...int) { d.data[d.offset(idx)] = v }

// Clone returns a deep copy.
func (d *Dense[T]) Clone() *Dense[T] {
	return &Dense[T]{shape: d.Shape(), data: append([]T(nil), d.data...)}
}

// Layout splits the array around axis into the number of outer blocks, the
// axis length and the contiguous inner stride. Element k of lane (o, i) lives
// at o*n*inner + k*inner + i.
func (d *Dense[T]) Layout(axis int) (outer, n, inner int) {
	if axis < 0 || axis >= len(d.shape) {
		panic(fmt.Sprintf("tensor: axis %d out of range for rank %d", axis, len(d.shape)))
	}
	outer, inner = 1, 1
	for _, s := range d.shape[:axis] {
		outer *= s
	}
	for _, s := range d.shape[axis+1:] {
		inner *= s
	}
	return outer, d.shape[axis], inner
}

// Index returns a copy of the sub-array at position i along axis, with that
// axis removed.
func (d *Dense[T]) Index(axis, i int) *Dense[T] {
	outer, n, inner := d.Layout(axis)
	if i < 0 || i >= n {
		panic(fmt.Sprintf("tensor: index %d out of range for axis %d of length %d", i, axis, n))
	}
	shape := make([]int, 0, len(d.shape)-1)
	shape = append(shape, d.shape[:axis]...)
	shape = append(shape, d.shape[axis+1:]...)
	out := New[T](shape...)
	for o := 0; o < outer; o++ {
		copy(out.data[o*inner:(o+1)*inner], d.data[(o*n+i)*inner:(o*n+i+1)*inner])
	}
	return out
}

// Slice returns a copy of rows [start, end) of the leading axis.
func (d *Dense[T]) Slice(start, end int) *Dense[T] {
	if len(d.shape) == 0 || start < 0 || end > d.shape[0] || start > end {
		panic(fmt.Sprintf("tensor: slice [%d:%d] out of range for shape %v", start, end, d.shape))
	}
	_, _, inner := d.Layout(0)
	shape := d.Shape()
	shape[0] = end - start
	return &Dense[T]{shape: shape, data: append([]T(nil), d.data[start*inner:end*inner]...)}
}

// Append grows the leading axis by one, copying row in as the new last entry.
// row must have the array's shape without its leading axis.
func (d *Dense[T]) Append(row *Dense[T]) error {
	if len(d.shape) == 0 {
		return simerr.Configf("cannot append to a rank-0 array")
	}
	if !sameShape(d.shape[1:], row.shape) {
		return simerr.Configf("append row shape %v does not match %v", row.shape, d.shape[1:])
	}
	d.data = append(d.data, row.data...)
	d.shape[0]++
	return nil
}

// SumAxis collapses axis by summation.
func (d *Dense[T]) SumAxis(axis int) *Dense[T] {
	outer, n, inner := d.Layout(axis)
	shape := make([]int, 0, len(d.shape)-1)
	shape = append(shape, d.shape[:axis]...)
	shape = append(shape, d.shape[axis+1:]...)
	out := New[T](shape...)
	for o := 0; o < outer; o++ {
		dst := out.data[o*inner : (o+1)*inner]
		for k := 0; k < n; k++ {
			src := d.data[(o*n+k)*inner : (o*n+k+1)*inner]
			for i, v := range src {
				dst[i] += v
			}
		}
	}
	return out
}

// Stack joins equally shaped arrays along a new leading axis.
func Stack[T Elem](rows []*Dense[T]) (*Dense[T], error) {
	if len(rows) == 0 {
		return nil, simerr.Configf("cannot stack zero arrays")
	}
	out := New[T](append([]int{0}, rows[0].shape...)...)
	for _, r := range rows {
		if err := out.Append(r); err != nil {
			return nil, err
		}
	}
	return out, nil
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
