package unified

import (
	"go.uber.org/zap"

	"github.com/born-ml/unimem/internal/driver"
	"github.com/born-ml/unimem/internal/hostmem"
	"github.com/born-ml/unimem/internal/tensor"
)

// Advice is a usage hint for unified memory.
type Advice = driver.Advice

// Advice kinds accepted by SetAdvice.
const (
	SetReadMostly          = driver.SetReadMostly
	UnsetReadMostly        = driver.UnsetReadMostly
	SetPreferredLocation   = driver.SetPreferredLocation
	UnsetPreferredLocation = driver.UnsetPreferredLocation
	SetAccessedBy          = driver.SetAccessedBy
	UnsetAccessedBy        = driver.UnsetAccessedBy
)

// contextDevice returns the device whose context hints about v are issued
// in. Host-bound unified memory still belongs to the device that allocated
// it.
func contextDevice(v *tensor.View) int {
	if !v.Device().IsHost() {
		return v.Device().Index
	}
	dev, ok := allocatingDevice(v.Storage())
	if !ok {
		// Callers check IsUnified first, which requires an owning root.
		panic("unified: host view has no allocating device")
	}
	return dev
}

func (a *Allocator) deviceArg(op string, d tensor.Device) (int, error) {
	if d.IsHost() {
		return driver.CPUDeviceID, nil
	}
	if d.Index < 0 || d.Index >= a.devices {
		return 0, precondition(op, "device %s out of range [0, %d)", d, a.devices)
	}
	return d.Index, nil
}

// SetAdvice applies advice over v's extent, naming v's own device (or the
// host) as the advice target.
func (a *Allocator) SetAdvice(v *tensor.View, advice Advice) error {
	if v == nil {
		return precondition("set advice", "nil view")
	}
	return a.SetAdviceFor(v, advice, v.Device())
}

// SetAdviceFor applies advice over v's extent with target as the preferred
// location or accessing device. Read-mostly advice ignores target.
func (a *Allocator) SetAdviceFor(v *tensor.View, advice Advice, target tensor.Device) error {
	const op = "set advice"
	if !IsUnified(v) {
		return precondition(op, "view is not unified")
	}
	if !advice.Valid() {
		return precondition(op, "unknown advice %s", advice)
	}
	arg, err := a.deviceArg(op, target)
	if err != nil {
		return err
	}

	dev := contextDevice(v)
	g, err := driver.Activate(a.rt, dev)
	if err != nil {
		return &RuntimeError{Op: op, Device: dev, Err: err}
	}
	defer a.restore(g)

	if err := a.rt.MemAdvise(v.HostPointer(), v.Extent(), advice, arg); err != nil {
		return &RuntimeError{Op: op, Device: dev, Err: err}
	}
	a.log.Debug("unified: applied advice",
		zap.Stringer("advice", advice),
		zap.Int("device", dev),
		zap.Stringer("target", target))
	return nil
}

// Prefetch asynchronously migrates v's extent to v's device. v must be bound
// to a device; use PrefetchTo for host-bound views.
func (a *Allocator) Prefetch(v *tensor.View) error {
	if !IsUnified(v) {
		return precondition("prefetch", "view is not unified")
	}
	if v.Device().IsHost() {
		return precondition("prefetch", "host view needs an explicit target device")
	}
	return a.PrefetchTo(v, v.Device())
}

// PrefetchTo asynchronously migrates v's extent to target, which may be the
// host. It is issued on the current stream of v's context device and
// returns without waiting; synchronize that stream to observe completion.
func (a *Allocator) PrefetchTo(v *tensor.View, target tensor.Device) error {
	const op = "prefetch"
	if !IsUnified(v) {
		return precondition(op, "view is not unified")
	}
	if v.Storage().Root().Kind() != tensor.DeviceManaged {
		return precondition(op, "host-mapped memory cannot migrate")
	}
	arg, err := a.deviceArg(op, target)
	if err != nil {
		return err
	}

	dev := contextDevice(v)
	g, err := driver.Activate(a.rt, dev)
	if err != nil {
		return &RuntimeError{Op: op, Device: dev, Err: err}
	}
	defer a.restore(g)

	if err := a.rt.MemPrefetchAsync(v.HostPointer(), v.Extent(), arg, a.rt.CurrentStream(dev)); err != nil {
		return &RuntimeError{Op: op, Device: dev, Err: err}
	}
	return nil
}

// MarkNoFork excludes the pages under v from processes forked later, which
// otherwise pay for remapping unified memory in the child.
func (a *Allocator) MarkNoFork(v *tensor.View) error {
	const op = "mark no-fork"
	if !IsUnified(v) {
		return precondition(op, "view is not unified")
	}
	if err := hostmem.DontFork(v.HostPointer(), v.Extent()); err != nil {
		return &RuntimeError{Op: op, Device: contextDevice(v), Err: err}
	}
	return nil
}
