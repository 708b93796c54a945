package unified

import (
	"errors"
	"math"
	"runtime"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/born-ml/unimem/internal/driver"
	"github.com/born-ml/unimem/internal/driver/sim"
	"github.com/born-ml/unimem/internal/parallel"
	"github.com/born-ml/unimem/internal/tensor"
)

type fixture struct {
	alloc *Allocator
	rt    *sim.Runtime
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T, opts sim.Options, mods ...func(*Config)) *fixture {
	t.Helper()
	rt := sim.New(opts)
	core, logs := observer.New(zapcore.DebugLevel)

	cfg := DefaultConfig(rt)
	cfg.Logger = zap.New(core, zap.WithFatalHook(zapcore.WriteThenPanic))
	cfg.Parallel = parallel.Config{Enabled: true, NumWorkers: 2, MinChunkSize: 2}
	for _, m := range mods {
		m(&cfg)
	}

	a, err := New(cfg)
	require.NoError(t, err)
	return &fixture{alloc: a, rt: rt, logs: logs}
}

func (f *fixture) frees() []sim.Call {
	return f.rt.Calls("cudaFree", "cudaHostUnregister")
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err, "missing runtime")

	rt := sim.New(sim.Options{Devices: 2})
	cfg := DefaultConfig(rt)
	cfg.Device = 2
	_, err = New(cfg)
	assert.Error(t, err, "default device out of range")

	cfg.Device = 1
	cfg.Logger = nil
	a, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, a.DeviceCount())
	assert.Same(t, rt, a.Runtime())
}

// Allocating a 4KB managed buffer, moving it to the host and on to a second
// device, then dropping references in order frees the buffer exactly once,
// only after the last view is gone.
func TestUnifiedLifecycleScenario(t *testing.T) {
	f := newFixture(t, sim.Options{Devices: 3})

	v, err := f.alloc.AllocateBytes(4096, false)
	require.NoError(t, err)
	assert.True(t, IsUnified(v))
	assert.True(t, IsUnifiedAndOnDevice(v))
	assert.Equal(t, tensor.CUDADevice(0), v.Device())

	h, err := f.alloc.ToHost(v)
	require.NoError(t, err)
	assert.Equal(t, tensor.Host, h.Device())
	assert.True(t, IsUnified(h))
	assert.False(t, IsUnifiedAndOnDevice(h))

	d2, err := f.alloc.ToDevice(h, 2)
	require.NoError(t, err)
	assert.Equal(t, tensor.CUDADevice(2), d2.Device())
	assert.Equal(t, v.DevicePointer(), d2.DevicePointer())

	v.Release()
	h.Release()
	assert.Empty(t, f.frees(), "device 2 view still holds the buffer")
	managed, _ := f.rt.Live()
	assert.Equal(t, 1, managed)

	d2.Release()
	frees := f.frees()
	require.Len(t, frees, 1)
	assert.Equal(t, "cudaFree", frees[0].Op)
	assert.Equal(t, 0, frees[0].Current, "freed in the allocating device's context")
	managed, _ = f.rt.Live()
	assert.Zero(t, managed)
}

func TestManagedBufferIsWrappedIndirectly(t *testing.T) {
	f := newFixture(t, sim.Options{})

	v, err := f.alloc.Allocate(tensor.Shape{4, 4}, tensor.Float32)
	require.NoError(t, err)
	defer v.Release()

	s := v.Storage()
	assert.Equal(t, tensor.Indirect, s.Kind())
	assert.Equal(t, tensor.DeviceManaged, s.Root().Kind())
	assert.Equal(t, tensor.CUDADevice(0), s.Root().Device())
	assert.Equal(t, int64(1), s.Root().RefCount(), "only the indirect storage holds the root")
	assert.Equal(t, uintptr(v.HostPointer()), v.DevicePointer(), "managed memory has one address")

	allocs := f.rt.Calls("cudaMallocManaged")
	require.Len(t, allocs, 1)
	assert.Equal(t, 64, allocs[0].Size)
}

func TestRoundTripPreservesDeviceAddress(t *testing.T) {
	for _, hostMapped := range []bool{false, true} {
		name := "managed"
		if hostMapped {
			name = "host-mapped"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, sim.Options{Devices: 2, DeviceAperture: 1 << 32})

			opts := []AllocOption{WithDevice(1)}
			if hostMapped {
				opts = append(opts, WithHostMapped())
			}
			v, err := f.alloc.Allocate(tensor.Shape{3, 5}, tensor.Int32, opts...)
			require.NoError(t, err)
			defer v.Release()

			h, err := f.alloc.ToHost(v)
			require.NoError(t, err)
			defer h.Release()

			back, err := f.alloc.ToDevice(h, 1)
			require.NoError(t, err)
			defer back.Release()

			assert.Equal(t, v.DevicePointer(), back.DevicePointer())
			assert.Equal(t, v.Device(), back.Device())
		})
	}
}

func TestMigrationDoesNotCopy(t *testing.T) {
	f := newFixture(t, sim.Options{})

	v, err := f.alloc.Allocate(tensor.Shape{8}, tensor.Float32)
	require.NoError(t, err)
	defer v.Release()

	// Managed memory: the device-visible address is dereferenceable.
	//nolint:govet // the address is managed memory, not Go heap
	dev := unsafe.Slice((*float32)(unsafe.Pointer(v.DevicePointer())), 8)
	dev[5] = 3.25

	h, err := f.alloc.ToHost(v)
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, float32(3.25), h.AsFloat32()[5])
	assert.Equal(t, v.HostPointer(), h.HostPointer())
	assert.Len(t, f.rt.Calls("cudaMallocManaged"), 1, "migration must not allocate")
}

func TestHostMappedAllocation(t *testing.T) {
	const aperture = 1 << 36
	f := newFixture(t, sim.Options{Devices: 2, DeviceAperture: aperture})

	v, err := f.alloc.Allocate(tensor.Shape{1000}, tensor.Float64, WithHostMapped(), WithDevice(1))
	require.NoError(t, err)

	assert.True(t, IsUnifiedAndOnDevice(v))
	assert.Equal(t, tensor.HostMapped, v.Storage().Root().Kind())
	assert.Equal(t, tensor.Host, v.Storage().Root().Device())
	assert.Equal(t, uintptr(v.HostPointer())+aperture, v.DevicePointer())

	regs := f.rt.Calls("cudaHostRegister")
	require.Len(t, regs, 1)
	assert.Equal(t, 1, regs[0].Current)
	assert.Equal(t, uintptr(v.HostPointer()), regs[0].Ptr)

	v.AsFloat64()[999] = 1.5
	v.Release()

	unregs := f.rt.Calls("cudaHostUnregister")
	require.Len(t, unregs, 1)
	assert.Equal(t, uintptr(v.HostPointer()), unregs[0].Ptr, "unregister uses the host address")
	assert.Equal(t, 1, unregs[0].Current)
	_, registered := f.rt.Live()
	assert.Zero(t, registered)
}

func TestReleaseActivatesAllocatingDeviceAndRestores(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	f := newFixture(t, sim.Options{Devices: 3})
	require.NoError(t, f.rt.SetDevice(2))

	v, err := f.alloc.Allocate(tensor.Shape{16}, tensor.Uint8, WithDevice(1))
	require.NoError(t, err)

	cur, err := f.rt.GetDevice()
	require.NoError(t, err)
	assert.Equal(t, 2, cur, "allocation restores the caller's device")

	v.Release()

	frees := f.frees()
	require.Len(t, frees, 1)
	assert.Equal(t, 1, frees[0].Current)

	cur, err = f.rt.GetDevice()
	require.NoError(t, err)
	assert.Equal(t, 2, cur, "release restores the caller's device")
	assert.Zero(t, f.rt.ImplicitContexts())
}

func TestReleaseFromAnotherGoroutine(t *testing.T) {
	f := newFixture(t, sim.Options{Devices: 2})

	v, err := f.alloc.Allocate(tensor.Shape{32}, tensor.Float32, WithDevice(1))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		v.Release()
	}()
	<-done

	frees := f.frees()
	require.Len(t, frees, 1)
	assert.Equal(t, 1, frees[0].Current)
	assert.Zero(t, f.rt.ImplicitContexts(), "release never relies on an ambient context")
}

func TestUnreleasedViewIsFreedByCleanup(t *testing.T) {
	f := newFixture(t, sim.Options{Devices: 2})

	func() {
		v, err := f.alloc.Allocate(tensor.Shape{64}, tensor.Uint8, WithDevice(1))
		require.NoError(t, err)
		h, err := f.alloc.ToHost(v)
		require.NoError(t, err)
		_ = h
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return len(f.frees()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, f.frees()[0].Current)
	assert.Zero(t, f.rt.ImplicitContexts())
	assert.Equal(t, int64(0), f.alloc.Stats().LiveBuffers)
}

func TestAllocationFailures(t *testing.T) {
	tests := []struct {
		name       string
		fault      string
		code       int
		hostMapped bool
	}{
		{"managed out of memory", "cudaMallocManaged", driver.CodeMemoryAllocation, false},
		{"register rejected", "cudaHostRegister", driver.CodeHostMemoryAlreadyRegistered, true},
		{"no device pointer", "cudaHostGetDevicePointer", driver.CodeInvalidValue, true},
		{"bad device switch", "cudaSetDevice", driver.CodeInvalidDevice, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, sim.Options{})
			f.rt.FailNext(tt.fault, tt.code)

			_, err := f.alloc.AllocateBytes(4096, tt.hostMapped)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAllocation)

			var aerr *AllocationError
			require.True(t, errors.As(err, &aerr))
			assert.Equal(t, tt.hostMapped, aerr.HostMapped)

			var derr *driver.Error
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, tt.code, derr.Code)

			managed, registered := f.rt.Live()
			assert.Zero(t, managed)
			assert.Zero(t, registered)
			assert.Zero(t, f.alloc.Stats().LiveBuffers)
		})
	}
}

func TestAllocateInvalidSize(t *testing.T) {
	f := newFixture(t, sim.Options{})

	_, err := f.alloc.AllocateBytes(0, false)
	assert.ErrorIs(t, err, ErrAllocation)

	_, err = f.alloc.Allocate(tensor.Shape{2, 2}, tensor.Float32, WithStrides([]int{1}))
	assert.ErrorIs(t, err, ErrAllocation)
	assert.Empty(t, f.rt.Calls("cudaMallocManaged"))
}

func TestAllocateOverflowingLayout(t *testing.T) {
	f := newFixture(t, sim.Options{})

	tests := []struct {
		name    string
		shape   tensor.Shape
		dtype   tensor.DataType
		strides []int
	}{
		{"element count", tensor.Shape{math.MaxInt/4 + 1, 4}, tensor.Uint8, nil},
		{"strided span", tensor.Shape{math.MaxInt / 4, 2}, tensor.Uint8, []int{8, 1}},
		{"byte size", tensor.Shape{math.MaxInt/8 + 1}, tensor.Float64, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []AllocOption
			if tt.strides != nil {
				opts = append(opts, WithStrides(tt.strides))
			}
			v, err := f.alloc.Allocate(tt.shape, tt.dtype, opts...)
			require.ErrorIs(t, err, ErrAllocation)
			assert.Nil(t, v)
		})
	}
	assert.Empty(t, f.rt.Calls("cudaMallocManaged"), "nothing reaches the runtime")
}

func TestAllocateCapacityExceeded(t *testing.T) {
	f := newFixture(t, sim.Options{Capacity: 1 << 12})

	_, err := f.alloc.AllocateBytes(1<<13, false)
	require.ErrorIs(t, err, ErrAllocation)

	var derr *driver.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, driver.CodeMemoryAllocation, derr.Code)
}

func TestAllocateWithStrides(t *testing.T) {
	f := newFixture(t, sim.Options{})

	// 2x3 float32 rows padded to 4 elements.
	v, err := f.alloc.Allocate(tensor.Shape{2, 3}, tensor.Float32, WithStrides([]int{4, 1}))
	require.NoError(t, err)
	defer v.Release()

	allocs := f.rt.Calls("cudaMallocManaged")
	require.Len(t, allocs, 1)
	assert.Equal(t, 7*4, allocs[0].Size)
	assert.False(t, v.IsContiguous())
	assert.Equal(t, []int{4, 1}, v.Strides())
}

func TestStats(t *testing.T) {
	f := newFixture(t, sim.Options{})

	a, err := f.alloc.AllocateBytes(100, false)
	require.NoError(t, err)
	b, err := f.alloc.AllocateBytes(300, true)
	require.NoError(t, err)

	s := f.alloc.Stats()
	assert.Equal(t, uint64(2), s.Allocations)
	assert.Equal(t, int64(2), s.LiveBuffers)
	assert.Equal(t, int64(400), s.LiveBytes)

	a.Release()
	b.Release()

	s = f.alloc.Stats()
	assert.Equal(t, uint64(2), s.Releases)
	assert.Zero(t, s.LiveBuffers)
	assert.Zero(t, s.LiveBytes)
	assert.Equal(t, int64(400), s.PeakBytes)
}

func TestMarkNoForkAtAllocation(t *testing.T) {
	f := newFixture(t, sim.Options{}, func(c *Config) { c.MarkNoFork = true })

	v, err := f.alloc.AllocateBytes(10000, false)
	require.NoError(t, err)
	v.Release()
	assert.Len(t, f.frees(), 1)
}

func TestFatalOnReleaseFailure(t *testing.T) {
	tests := []struct {
		name       string
		hostMapped bool
		failOp     string
		message    string
	}{
		{"managed free", false, "cudaFree", "unified: release failed"},
		{"host-mapped unregister", true, "cudaHostUnregister", "unified: release failed"},
		{"activate set device", false, "cudaSetDevice", "unified: cannot activate allocating device for release"},
		{"activate get device", true, "cudaGetDevice", "unified: cannot activate allocating device for release"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			f := newFixture(t, sim.Options{Devices: 2})
			require.NoError(t, f.rt.SetDevice(0))

			opts := []AllocOption{WithDevice(1)}
			if tt.hostMapped {
				opts = append(opts, WithHostMapped())
			}
			v, err := f.alloc.Allocate(tensor.Shape{16}, tensor.Uint8, opts...)
			require.NoError(t, err)
			root := v.Storage().Root()

			f.rt.FailNext(tt.failOp, driver.CodeInvalidValue)
			require.Panics(t, v.Release, "release failure must abort")

			entries := f.logs.FilterMessage(tt.message).All()
			require.Len(t, entries, 1)
			assert.Equal(t, zapcore.FatalLevel, entries[0].Level)
			assert.Equal(t, int64(1), entries[0].ContextMap()["device"])

			cur, err := f.rt.GetDevice()
			require.NoError(t, err)
			assert.Equal(t, 0, cur, "caller's device is current after the fatal path")

			// Failed calls are not recorded, so a free that ran after a failed
			// activation, in the caller's context, would show up here.
			assert.Empty(t, f.frees(), "no free completed")
			assert.Zero(t, f.alloc.Stats().Releases)

			// The buffer leaked in the simulator; reclaim it so the test is clean.
			switch owner := root.Owner().(type) {
			case *deviceManagedContext:
				require.NoError(t, f.rt.Free(owner.ptr))
			case *hostMappedContext:
				require.NoError(t, f.rt.HostUnregister(owner.block.Pointer()))
				require.NoError(t, owner.block.Free())
			default:
				t.Fatalf("unexpected owner %T", owner)
			}
		})
	}
}
