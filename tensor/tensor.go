// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/unimem/internal/tensor"
)

// View is a shaped, strided window over a reference-counted storage.
//
// Example:
//
//	v, _ := tensor.NewView(tensor.Shape{4}, tensor.Int32)
//	c := v.Clone()  // shares the storage
//	c.Release()
//	v.Release()     // storage is freed here
type View = tensor.View

// Storage is the reference-counted memory behind one or more views.
type Storage = tensor.Storage

// StorageKind tags who owns the release authority for a storage.
type StorageKind = tensor.StorageKind

// Storage kinds.
const (
	Ordinary      = tensor.Ordinary
	DeviceManaged = tensor.DeviceManaged
	HostMapped    = tensor.HostMapped
	Indirect      = tensor.Indirect
)

// Shape is the size of each dimension.
type Shape = tensor.Shape

// DataType is the runtime element type of a view.
type DataType = tensor.DataType

// DType is the constraint for supported element types.
type DType = tensor.DType

// Supported data types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
	Int32   = tensor.Int32
	Int64   = tensor.Int64
	Uint8   = tensor.Uint8
	Bool    = tensor.Bool
)

// Device identifies where a view is bound.
type Device = tensor.Device

// DeviceType is the family of a Device.
type DeviceType = tensor.DeviceType

// Device types.
const (
	CPU  = tensor.CPU
	CUDA = tensor.CUDA
)

// Host is the host (CPU) device.
var Host = tensor.Host

// CUDADevice returns the CUDA device with the given ordinal.
func CUDADevice(index int) Device {
	return tensor.CUDADevice(index)
}

// NewView allocates an ordinary, zero-filled host view.
func NewView(shape Shape, dtype DataType) (*View, error) {
	return tensor.NewView(shape, dtype)
}

// Slice returns v's elements as []T without copying.
// Panics if T does not match v's data type.
func Slice[T DType](v *View) []T {
	return tensor.Slice[T](v)
}
