package unified

import (
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/born-ml/unimem/internal/driver"
	"github.com/born-ml/unimem/internal/hostmem"
	"github.com/born-ml/unimem/internal/tensor"
)

// ownershipContext is the release record of one buffer. It runs on whatever
// goroutine drops the last reference, so it always activates the allocating
// device itself instead of trusting the thread's current device.
//
// A failed release is fatal: a buffer that cannot be freed or unregistered
// leaves a dangling device mapping, which is worse than stopping.
type ownershipContext struct {
	rt       driver.Runtime
	log      *zap.Logger
	stats    *memoryStats
	device   int
	size     int
	released atomic.Bool
}

// AllocatingDevice returns the device the buffer was allocated on.
func (c *ownershipContext) AllocatingDevice() int {
	return c.device
}

func (c *ownershipContext) release(kind tensor.StorageKind, free func() error) {
	fields := []zap.Field{
		zap.Stringer("kind", kind),
		zap.Int("device", c.device),
		zap.Int("size", c.size),
	}
	if !c.released.CompareAndSwap(false, true) {
		c.log.Fatal("unified: buffer released twice", fields...)
		return
	}

	g, err := driver.Activate(c.rt, c.device)
	if err != nil {
		c.log.Fatal("unified: cannot activate allocating device for release", append(fields, zap.Error(err))...)
		return
	}
	defer func() {
		if rerr := g.Restore(); rerr != nil {
			c.log.Error("unified: restore device after release", append(fields, zap.Error(rerr))...)
		}
	}()

	if err := free(); err != nil {
		c.log.Fatal("unified: release failed", append(fields, zap.Error(err))...)
		return
	}

	c.stats.released(c.size)
	c.log.Debug("unified: released buffer", fields...)
}

// deviceManagedContext frees a managed allocation.
type deviceManagedContext struct {
	*ownershipContext
	ptr unsafe.Pointer
}

func (c *deviceManagedContext) Release() {
	c.release(tensor.DeviceManaged, func() error {
		return c.rt.Free(c.ptr)
	})
}

// hostMappedContext unregisters host memory, then unmaps it. It keeps the
// host address; the device address is only ever dereferenced on-device.
type hostMappedContext struct {
	*ownershipContext
	block *hostmem.Block
}

func (c *hostMappedContext) Release() {
	c.release(tensor.HostMapped, func() error {
		if err := c.rt.HostUnregister(c.block.Pointer()); err != nil {
			return err
		}
		return c.block.Free()
	})
}

// allocatingDevice returns the device recorded by the buffer's release
// context, reached through the root of the storage chain.
func allocatingDevice(s *tensor.Storage) (int, bool) {
	owner, ok := s.Root().Owner().(interface{ AllocatingDevice() int })
	if !ok {
		return 0, false
	}
	return owner.AllocatingDevice(), true
}
