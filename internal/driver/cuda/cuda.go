//go:build cuda

// Package cuda binds the CUDA runtime API to driver.Runtime.
//
// Build with -tags cuda and a CUDA toolkit on the include and library paths.
package cuda

/*
#cgo LDFLAGS: -lcudart
#include <stdint.h>
#include <cuda_runtime.h>

static cudaError_t memAdvise(const void *ptr, size_t n, int advice, int device) {
	return cudaMemAdvise(ptr, n, (enum cudaMemoryAdvise)advice, device);
}

static cudaError_t memPrefetch(const void *ptr, size_t n, int device, uintptr_t stream) {
	return cudaMemPrefetchAsync(ptr, n, device, (cudaStream_t)stream);
}

static uintptr_t perThreadStream(void) {
	return (uintptr_t)cudaStreamPerThread;
}
*/
import "C"

import (
	"unsafe"

	"github.com/born-ml/unimem/internal/driver"
)

// Runtime calls the CUDA runtime.
type Runtime struct{}

var _ driver.Runtime = (*Runtime)(nil)

// New returns the CUDA runtime. It fails when no device is visible.
func New() (*Runtime, error) {
	r := &Runtime{}
	n, err := r.DeviceCount()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &driver.Error{Op: "cudaGetDeviceCount", Code: driver.CodeInvalidDevice, Msg: "no CUDA devices"}
	}
	return r, nil
}

func check(op string, rc C.cudaError_t) error {
	if rc == C.cudaSuccess {
		return nil
	}
	// Clear the sticky last-error slot so the next call starts clean.
	C.cudaGetLastError()
	return &driver.Error{Op: op, Code: int(rc), Msg: C.GoString(C.cudaGetErrorString(rc))}
}

// Name returns "cuda".
func (r *Runtime) Name() string {
	return "cuda"
}

// DeviceCount wraps cudaGetDeviceCount.
func (r *Runtime) DeviceCount() (int, error) {
	var n C.int
	if err := check("cudaGetDeviceCount", C.cudaGetDeviceCount(&n)); err != nil {
		return 0, err
	}
	return int(n), nil
}

// GetDevice wraps cudaGetDevice.
func (r *Runtime) GetDevice() (int, error) {
	var dev C.int
	if err := check("cudaGetDevice", C.cudaGetDevice(&dev)); err != nil {
		return 0, err
	}
	return int(dev), nil
}

// SetDevice wraps cudaSetDevice.
func (r *Runtime) SetDevice(id int) error {
	return check("cudaSetDevice", C.cudaSetDevice(C.int(id)))
}

// MallocManaged wraps cudaMallocManaged with global attachment.
func (r *Runtime) MallocManaged(size int) (unsafe.Pointer, error) {
	var ptr unsafe.Pointer
	if err := check("cudaMallocManaged", C.cudaMallocManaged(&ptr, C.size_t(size), C.cudaMemAttachGlobal)); err != nil {
		return nil, err
	}
	return ptr, nil
}

// Free wraps cudaFree.
func (r *Runtime) Free(ptr unsafe.Pointer) error {
	return check("cudaFree", C.cudaFree(ptr))
}

// HostRegister wraps cudaHostRegister.
func (r *Runtime) HostRegister(ptr unsafe.Pointer, size int, flags driver.RegisterFlags) error {
	var cflags C.uint
	if flags&driver.RegisterPortable != 0 {
		cflags |= C.cudaHostRegisterPortable
	}
	if flags&driver.RegisterMapped != 0 {
		cflags |= C.cudaHostRegisterMapped
	}
	return check("cudaHostRegister", C.cudaHostRegister(ptr, C.size_t(size), cflags))
}

// HostUnregister wraps cudaHostUnregister.
func (r *Runtime) HostUnregister(ptr unsafe.Pointer) error {
	return check("cudaHostUnregister", C.cudaHostUnregister(ptr))
}

// HostGetDevicePointer wraps cudaHostGetDevicePointer.
func (r *Runtime) HostGetDevicePointer(ptr unsafe.Pointer) (uintptr, error) {
	var dptr unsafe.Pointer
	if err := check("cudaHostGetDevicePointer", C.cudaHostGetDevicePointer(&dptr, ptr, 0)); err != nil {
		return 0, err
	}
	return uintptr(dptr), nil
}

// MemAdvise wraps cudaMemAdvise.
func (r *Runtime) MemAdvise(ptr unsafe.Pointer, size int, advice driver.Advice, device int) error {
	return check("cudaMemAdvise", C.memAdvise(ptr, C.size_t(size), C.int(cudaAdvice(advice)), C.int(device)))
}

// MemPrefetchAsync wraps cudaMemPrefetchAsync.
func (r *Runtime) MemPrefetchAsync(ptr unsafe.Pointer, size int, device int, stream driver.Stream) error {
	return check("cudaMemPrefetchAsync", C.memPrefetch(ptr, C.size_t(size), C.int(device), C.uintptr_t(stream)))
}

// CurrentStream returns the per-thread default stream, so prefetches issued
// from different goroutines do not serialize on the legacy stream.
func (r *Runtime) CurrentStream(int) driver.Stream {
	return driver.Stream(C.perThreadStream())
}

func cudaAdvice(a driver.Advice) int {
	switch a {
	case driver.SetReadMostly:
		return int(C.cudaMemAdviseSetReadMostly)
	case driver.UnsetReadMostly:
		return int(C.cudaMemAdviseUnsetReadMostly)
	case driver.SetPreferredLocation:
		return int(C.cudaMemAdviseSetPreferredLocation)
	case driver.UnsetPreferredLocation:
		return int(C.cudaMemAdviseUnsetPreferredLocation)
	case driver.SetAccessedBy:
		return int(C.cudaMemAdviseSetAccessedBy)
	case driver.UnsetAccessedBy:
		return int(C.cudaMemAdviseUnsetAccessedBy)
	default:
		return 0
	}
}
