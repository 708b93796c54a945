package tensor

import (
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"unsafe"
)

// View is the user-facing array: a shape, strides and element type laid over
// a Storage, bound to a device.
//
// Every View holds exactly one storage reference. Release drops it; a View
// that is never released drops it from the GC cleanup goroutine instead.
// Storage reference counting, not View lifetime, governs the buffer.
type View struct {
	storage  *Storage
	shape    Shape
	stride   []int
	dtype    DataType
	device   Device
	offset   int // in elements
	span     int // elements addressed under stride, checked against storage
	released atomic.Bool
	cleanup  runtime.Cleanup
}

// NewView allocates an ordinary (non-unified) host array with row-major
// layout. Memory is zeroed.
func NewView(shape Shape, dtype DataType) (*View, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	size, err := ByteSize(shape.NumElements(), dtype)
	if err != nil {
		return nil, err
	}
	storage := NewOrdinaryStorage(size)
	return WrapStorage(storage, shape, nil, dtype, Host, 0)
}

// WrapStorage builds a View over storage and takes over one reference the
// caller already holds. strides defaults to row-major when nil.
func WrapStorage(storage *Storage, shape Shape, strides []int, dtype DataType, device Device, offset int) (*View, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if strides == nil {
		strides = shape.ComputeStrides()
	}
	span, err := shape.Span(strides)
	if err != nil {
		return nil, err
	}
	// end*size <= storage size, evaluated without overflowing.
	if offset < 0 || offset > math.MaxInt-span || offset+span > storage.Size()/dtype.Size() {
		return nil, fmt.Errorf("view of %d elements at offset %d exceeds storage of %d bytes",
			span, offset, storage.Size())
	}

	v := &View{
		storage: storage,
		shape:   shape.Clone(),
		stride:  append([]int(nil), strides...),
		dtype:   dtype,
		device:  device,
		offset:  offset,
		span:    span,
	}
	v.cleanup = runtime.AddCleanup(v, func(s *Storage) { s.Release() }, storage)
	return v, nil
}

// Storage returns the storage behind the view.
func (v *View) Storage() *Storage {
	return v.storage
}

// Shape returns the view's shape.
func (v *View) Shape() Shape {
	return v.shape
}

// Strides returns the view's strides in elements.
func (v *View) Strides() []int {
	return v.stride
}

// DType returns the element type.
func (v *View) DType() DataType {
	return v.dtype
}

// Device returns the device the view is bound to.
func (v *View) Device() Device {
	return v.device
}

// Offset returns the element offset into the storage.
func (v *View) Offset() int {
	return v.offset
}

// NumElements returns the total number of elements.
func (v *View) NumElements() int {
	return v.shape.NumElements()
}

// ByteSize returns NumElements times the element size.
func (v *View) ByteSize() int {
	return v.NumElements() * v.dtype.Size()
}

// Extent returns the number of bytes between the first and one past the last
// addressed element. It equals ByteSize for contiguous views.
func (v *View) Extent() int {
	return v.span * v.dtype.Size()
}

// IsContiguous reports whether the view has row-major layout.
func (v *View) IsContiguous() bool {
	return v.shape.IsContiguous(v.stride)
}

// HostPointer returns the host-accessible address of the first element.
func (v *View) HostPointer() unsafe.Pointer {
	return unsafe.Add(v.storage.HostPointer(), v.offset*v.dtype.Size())
}

// DevicePointer returns the device-visible address of the first element.
func (v *View) DevicePointer() uintptr {
	return v.storage.DevicePointer() + uintptr(v.offset*v.dtype.Size()) //nolint:gosec // offset is validated non-negative
}

// Data returns the bytes covered by the view's extent.
// WARNING: Direct access to underlying memory. Use with caution.
func (v *View) Data() []byte {
	b := v.storage.Bytes()
	start := v.offset * v.dtype.Size()
	return b[start : start+v.Extent()]
}

// AsFloat32 interprets the data as []float32.
// Panics if the view's dtype is not Float32.
func (v *View) AsFloat32() []float32 {
	return asSlice[float32](v, Float32)
}

// AsFloat64 interprets the data as []float64.
// Panics if the view's dtype is not Float64.
func (v *View) AsFloat64() []float64 {
	return asSlice[float64](v, Float64)
}

// AsInt32 interprets the data as []int32.
// Panics if the view's dtype is not Int32.
func (v *View) AsInt32() []int32 {
	return asSlice[int32](v, Int32)
}

// AsInt64 interprets the data as []int64.
// Panics if the view's dtype is not Int64.
func (v *View) AsInt64() []int64 {
	return asSlice[int64](v, Int64)
}

// AsUint8 interprets the data as []uint8.
// Panics if the view's dtype is not Uint8.
func (v *View) AsUint8() []uint8 {
	if v.dtype != Uint8 {
		panic(fmt.Sprintf("view dtype is %s, not uint8", v.dtype))
	}
	return v.Data()
}

// AsBool interprets the data as []bool.
// Panics if the view's dtype is not Bool.
func (v *View) AsBool() []bool {
	return asSlice[bool](v, Bool)
}

// Slice returns the view's elements as []T over the storage (zero-copy).
// The slice spans the view's extent, so strided views include the gaps.
func Slice[T DType](v *View) []T {
	var dummy T
	return asSlice[T](v, inferDataType(dummy))
}

func asSlice[T DType](v *View, want DataType) []T {
	if v.dtype != want {
		panic(fmt.Sprintf("view dtype is %s, not %s", v.dtype, want))
	}
	data := v.Data()
	if len(data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounded by Extent()
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), len(data)/want.Size())
}

// Clone returns another view of the same storage with the same layout and
// device. The storage gains a reference; no bytes are copied.
func (v *View) Clone() *View {
	v.storage.Retain()
	c := &View{
		storage: v.storage,
		shape:   v.shape.Clone(),
		stride:  append([]int(nil), v.stride...),
		dtype:   v.dtype,
		device:  v.device,
		offset:  v.offset,
		span:    v.span,
	}
	c.cleanup = runtime.AddCleanup(c, func(s *Storage) { s.Release() }, v.storage)
	return c
}

// Release drops the view's storage reference. Calling it more than once is a
// no-op.
func (v *View) Release() {
	if !v.released.CompareAndSwap(false, true) {
		return
	}
	v.cleanup.Stop()
	v.storage.Release()
}

// Released reports whether Release has been called on this view.
func (v *View) Released() bool {
	return v.released.Load()
}

// String returns a human-readable description of the view.
func (v *View) String() string {
	return fmt.Sprintf("View[%s]%v on %s (%s)", v.dtype, v.shape, v.device, v.storage.Kind())
}
