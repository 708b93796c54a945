// Package driver defines the device runtime API that unified memory is
// built on, and the scoped current-device guard every call goes through.
package driver

import (
	"fmt"
	"unsafe"
)

// CPUDeviceID is the pseudo device ordinal naming the host in advice and
// prefetch calls.
const CPUDeviceID = -1

// Stream is an opaque handle to a runtime compute stream. Zero is the
// default stream.
type Stream uintptr

// RegisterFlags control HostRegister.
type RegisterFlags uint

// Host registration flags.
const (
	// RegisterPortable makes the registration visible to every device.
	RegisterPortable RegisterFlags = 1 << iota
	// RegisterMapped maps the region into the device address space.
	RegisterMapped
)

// Advice is a memory usage hint for managed allocations.
type Advice int

// Advice kinds.
const (
	SetReadMostly Advice = iota + 1
	UnsetReadMostly
	SetPreferredLocation
	UnsetPreferredLocation
	SetAccessedBy
	UnsetAccessedBy
)

// String returns the advice name.
func (a Advice) String() string {
	switch a {
	case SetReadMostly:
		return "SetReadMostly"
	case UnsetReadMostly:
		return "UnsetReadMostly"
	case SetPreferredLocation:
		return "SetPreferredLocation"
	case UnsetPreferredLocation:
		return "UnsetPreferredLocation"
	case SetAccessedBy:
		return "SetAccessedBy"
	case UnsetAccessedBy:
		return "UnsetAccessedBy"
	default:
		return fmt.Sprintf("Advice(%d)", int(a))
	}
}

// Valid reports whether a is one of the recognized advice kinds.
func (a Advice) Valid() bool {
	return a >= SetReadMostly && a <= UnsetAccessedBy
}

// Runtime is the device API. Like the CUDA runtime it has a per-OS-thread
// current device that allocation, free and advice calls implicitly use;
// callers go through Activate to make that explicit.
type Runtime interface {
	// Name identifies the runtime implementation.
	Name() string
	// DeviceCount returns the number of devices.
	DeviceCount() (int, error)
	// GetDevice returns the calling thread's current device.
	GetDevice() (int, error)
	// SetDevice makes id the calling thread's current device.
	SetDevice(id int) error

	// MallocManaged allocates size bytes addressable from host and devices.
	MallocManaged(size int) (unsafe.Pointer, error)
	// Free releases a managed allocation.
	Free(ptr unsafe.Pointer) error

	// HostRegister page-locks a host range for direct device access.
	HostRegister(ptr unsafe.Pointer, size int, flags RegisterFlags) error
	// HostUnregister undoes HostRegister.
	HostUnregister(ptr unsafe.Pointer) error
	// HostGetDevicePointer returns the device-visible address of registered
	// host memory.
	HostGetDevicePointer(ptr unsafe.Pointer) (uintptr, error)

	// MemAdvise applies advice to a managed range. device is an ordinal or
	// CPUDeviceID.
	MemAdvise(ptr unsafe.Pointer, size int, advice Advice, device int) error
	// MemPrefetchAsync enqueues migration of a managed range to device on
	// stream and returns without waiting.
	MemPrefetchAsync(ptr unsafe.Pointer, size int, device int, stream Stream) error
	// CurrentStream returns the stream work for device is issued on.
	CurrentStream(device int) Stream
}
