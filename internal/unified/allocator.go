// Package unified allocates arrays in memory that host and devices share,
// and re-exposes one allocation as views bound to other devices without
// copying.
//
// Every unified buffer has one authoritative storage that owns its release
// record, wrapped in at least one indirect storage from the start. Views
// hand out further indirect storages; the buffer is freed, from its
// allocating device's context, when the last of them is dropped.
package unified

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/born-ml/unimem/internal/driver"
	"github.com/born-ml/unimem/internal/hostmem"
	"github.com/born-ml/unimem/internal/tensor"
)

// Allocator creates unified views on one runtime. It holds no locks; all
// methods are safe for concurrent use.
type Allocator struct {
	rt      driver.Runtime
	log     *zap.Logger
	cfg     Config
	devices int
	stats   memoryStats
}

// New validates cfg and returns an Allocator.
func New(cfg Config) (*Allocator, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("unified: config has no runtime")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	n, err := cfg.Runtime.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("unified: count devices: %w", err)
	}
	if cfg.Device < 0 || cfg.Device >= n {
		return nil, fmt.Errorf("unified: default device %d out of range [0, %d)", cfg.Device, n)
	}

	return &Allocator{
		rt:      cfg.Runtime,
		log:     cfg.Logger,
		cfg:     cfg,
		devices: n,
	}, nil
}

// Runtime returns the allocator's device runtime.
func (a *Allocator) Runtime() driver.Runtime {
	return a.rt
}

// DeviceCount returns the number of devices on the runtime.
func (a *Allocator) DeviceCount() int {
	return a.devices
}

// Stats returns a snapshot of allocation counters.
func (a *Allocator) Stats() Stats {
	return a.stats.snapshot()
}

// AllocateBytes allocates a one-dimensional uint8 view of size bytes on the
// default device.
func (a *Allocator) AllocateBytes(size int, hostMapped bool) (*tensor.View, error) {
	var opts []AllocOption
	if hostMapped {
		opts = append(opts, WithHostMapped())
	}
	return a.Allocate(tensor.Shape{size}, tensor.Uint8, opts...)
}

// Allocate creates a unified buffer large enough for shape and dtype under
// the given (or row-major) strides and returns a view of it bound to the
// allocating device.
func (a *Allocator) Allocate(shape tensor.Shape, dtype tensor.DataType, opts ...AllocOption) (*tensor.View, error) {
	o := allocOptions{device: a.cfg.Device}
	for _, opt := range opts {
		opt(&o)
	}
	fail := func(size int, err error) error {
		return &AllocationError{Size: size, HostMapped: o.hostMapped, Device: o.device, Err: err}
	}

	if err := shape.Validate(); err != nil {
		return nil, fail(0, fmt.Errorf("invalid shape: %w", err))
	}
	strides := o.strides
	if strides == nil {
		strides = shape.ComputeStrides()
	}
	span, err := shape.Span(strides)
	if err != nil {
		return nil, fail(0, err)
	}
	size, err := tensor.ByteSize(span, dtype)
	if err != nil {
		return nil, fail(0, err)
	}

	var root *tensor.Storage
	if o.hostMapped {
		root, err = a.allocHostMapped(size, o.device)
	} else {
		root, err = a.allocManaged(size, o.device)
	}
	if err != nil {
		return nil, fail(size, err)
	}
	a.stats.allocated(size)

	dev := tensor.CUDADevice(o.device)
	indirect := tensor.NewIndirectStorage(root, dev)
	root.Release() // the indirect storage now holds the only root reference

	v, err := tensor.WrapStorage(indirect, shape, strides, dtype, dev, 0)
	if err != nil {
		indirect.Release()
		return nil, fail(size, err)
	}

	if a.cfg.MarkNoFork {
		if err := hostmem.DontFork(v.HostPointer(), v.Extent()); err != nil {
			v.Release()
			return nil, fail(size, err)
		}
	}

	a.log.Debug("unified: allocated buffer",
		zap.Stringer("kind", root.Kind()),
		zap.Int("device", o.device),
		zap.Int("size", size))
	return v, nil
}

func (a *Allocator) allocManaged(size, device int) (*tensor.Storage, error) {
	g, err := driver.Activate(a.rt, device)
	if err != nil {
		return nil, err
	}
	defer a.restore(g)

	ptr, err := a.rt.MallocManaged(size)
	if err != nil {
		return nil, err
	}

	owner := &deviceManagedContext{
		ownershipContext: a.newContext(device, size),
		ptr:              ptr,
	}
	return tensor.NewOwnedStorage(tensor.DeviceManaged, tensor.CUDADevice(device), ptr, uintptr(ptr), size, owner), nil
}

// allocHostMapped faults in every page before registering, so registration
// does not fault pages in under the runtime's global lock.
func (a *Allocator) allocHostMapped(size, device int) (*tensor.Storage, error) {
	block, err := hostmem.Alloc(size)
	if err != nil {
		return nil, err
	}
	hostmem.TouchPages(block.Bytes(), a.cfg.Parallel)

	devPtr, err := a.register(block, device)
	if err != nil {
		if ferr := block.Free(); ferr != nil {
			a.log.Error("unified: free host memory after failed registration", zap.Error(ferr))
		}
		return nil, err
	}

	owner := &hostMappedContext{
		ownershipContext: a.newContext(device, size),
		block:            block,
	}
	return tensor.NewOwnedStorage(tensor.HostMapped, tensor.Host, block.Pointer(), devPtr, size, owner), nil
}

func (a *Allocator) register(block *hostmem.Block, device int) (uintptr, error) {
	g, err := driver.Activate(a.rt, device)
	if err != nil {
		return 0, err
	}
	defer a.restore(g)

	ptr := block.Pointer()
	if err := a.rt.HostRegister(ptr, block.Size(), driver.RegisterPortable|driver.RegisterMapped); err != nil {
		return 0, err
	}
	devPtr, err := a.rt.HostGetDevicePointer(ptr)
	if err != nil {
		if uerr := a.rt.HostUnregister(ptr); uerr != nil {
			a.log.Error("unified: unregister after failed device mapping", zap.Error(uerr))
		}
		return 0, err
	}
	return devPtr, nil
}

func (a *Allocator) newContext(device, size int) *ownershipContext {
	return &ownershipContext{
		rt:     a.rt,
		log:    a.log,
		stats:  &a.stats,
		device: device,
		size:   size,
	}
}

func (a *Allocator) restore(g *driver.Guard) {
	if err := g.Restore(); err != nil {
		a.log.Error("unified: restore current device", zap.Error(err))
	}
}
