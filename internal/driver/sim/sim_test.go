package sim

import (
	"errors"
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unimem/internal/driver"
)

func codeOf(t *testing.T, err error) int {
	t.Helper()
	var derr *driver.Error
	require.True(t, errors.As(err, &derr), "want *driver.Error, got %v", err)
	return derr.Code
}

func TestManagedAllocFree(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rt := New(Options{Devices: 2})
	require.NoError(t, rt.SetDevice(1))

	ptr, err := rt.MallocManaged(4096)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	// Managed memory is host-accessible.
	data := unsafe.Slice((*byte)(ptr), 4096)
	data[4095] = 9

	loc, err := rt.Location(ptr)
	require.NoError(t, err)
	assert.Equal(t, 1, loc)

	require.NoError(t, rt.Free(ptr))
	assert.Equal(t, driver.CodeInvalidValue, codeOf(t, rt.Free(ptr)), "double free")

	frees := rt.Calls("cudaFree")
	require.Len(t, frees, 1)
	assert.Equal(t, 1, frees[0].Current)
	assert.Zero(t, rt.ImplicitContexts())
}

func TestManagedInvalidSizeAndCapacity(t *testing.T) {
	rt := New(Options{Capacity: 8192})

	_, err := rt.MallocManaged(0)
	assert.Equal(t, driver.CodeInvalidValue, codeOf(t, err))

	_, err = rt.MallocManaged(8193)
	assert.Equal(t, driver.CodeMemoryAllocation, codeOf(t, err))

	managed, _ := rt.Live()
	assert.Zero(t, managed)
}

func TestHostRegistration(t *testing.T) {
	rt := New(Options{DeviceAperture: 1 << 40})
	buf := make([]byte, 64)
	ptr := unsafe.Pointer(&buf[0])

	require.NoError(t, rt.HostRegister(ptr, len(buf), driver.RegisterPortable|driver.RegisterMapped))
	assert.Equal(t, driver.CodeHostMemoryAlreadyRegistered,
		codeOf(t, rt.HostRegister(ptr, len(buf), driver.RegisterMapped)))

	dptr, err := rt.HostGetDevicePointer(ptr)
	require.NoError(t, err)
	assert.Equal(t, uintptr(ptr)+1<<40, dptr)

	require.NoError(t, rt.HostUnregister(ptr))
	assert.Equal(t, driver.CodeHostMemoryNotRegistered, codeOf(t, rt.HostUnregister(ptr)))
}

func TestHostGetDevicePointerRequiresMapped(t *testing.T) {
	rt := New(Options{})
	buf := make([]byte, 16)
	ptr := unsafe.Pointer(&buf[0])

	require.NoError(t, rt.HostRegister(ptr, len(buf), driver.RegisterPortable))
	_, err := rt.HostGetDevicePointer(ptr)
	assert.Equal(t, driver.CodeInvalidValue, codeOf(t, err))
}

func TestAdviseAndPrefetch(t *testing.T) {
	rt := New(Options{Devices: 2})
	ptr, err := rt.MallocManaged(1 << 16)
	require.NoError(t, err)
	defer func() { require.NoError(t, rt.Free(ptr)) }()

	require.NoError(t, rt.MemAdvise(ptr, 1<<16, driver.SetReadMostly, 0))
	require.NoError(t, rt.MemAdvise(ptr, 128, driver.SetPreferredLocation, driver.CPUDeviceID))
	assert.Equal(t, driver.CodeInvalidDevice, codeOf(t, rt.MemAdvise(ptr, 128, driver.SetAccessedBy, 7)))
	assert.Equal(t, driver.CodeInvalidValue, codeOf(t, rt.MemAdvise(ptr, 1<<17, driver.SetReadMostly, 0)))
	assert.Equal(t, driver.CodeInvalidValue, codeOf(t, rt.MemAdvise(ptr, 16, driver.Advice(99), 0)))

	require.NoError(t, rt.MemPrefetchAsync(ptr, 1<<16, driver.CPUDeviceID, rt.CurrentStream(0)))
	loc, err := rt.Location(ptr)
	require.NoError(t, err)
	assert.Equal(t, driver.CPUDeviceID, loc)

	prefetches := rt.Calls("cudaMemPrefetchAsync")
	require.Len(t, prefetches, 1)
	assert.Equal(t, rt.CurrentStream(0), prefetches[0].Stream)
}

func TestFailNextIsOneShot(t *testing.T) {
	rt := New(Options{})
	rt.FailNext("cudaMallocManaged", driver.CodeMemoryAllocation)

	_, err := rt.MallocManaged(64)
	assert.Equal(t, driver.CodeMemoryAllocation, codeOf(t, err))

	ptr, err := rt.MallocManaged(64)
	require.NoError(t, err)
	require.NoError(t, rt.Free(ptr))
}

func TestImplicitContextCounted(t *testing.T) {
	rt := New(Options{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		// The thread is fresh to this runtime: no SetDevice was ever issued.
		ptr, err := rt.MallocManaged(64)
		if err == nil {
			_ = rt.Free(ptr)
		}
	}()
	<-done
	assert.GreaterOrEqual(t, rt.ImplicitContexts(), 1)
}
