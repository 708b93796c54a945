package unified

import (
	"go.uber.org/zap"

	"github.com/born-ml/unimem/internal/tensor"
)

// IsUnified reports whether v is backed by a unified buffer: its storage is
// an indirect storage whose root is a device-managed or host-mapped owner.
func IsUnified(v *tensor.View) bool {
	if v == nil || v.Released() {
		return false
	}
	s := v.Storage()
	if s.Kind() != tensor.Indirect {
		return false
	}
	switch s.Root().Kind() {
	case tensor.DeviceManaged, tensor.HostMapped:
		return true
	default:
		return false
	}
}

// IsUnifiedAndOnDevice reports whether v is unified and bound to a device
// rather than the host.
func IsUnifiedAndOnDevice(v *tensor.View) bool {
	return IsUnified(v) && !v.Device().IsHost()
}

// ToHost returns a host-bound view sharing v's buffer. v must be a unified
// view bound to a device. No bytes move; v stays valid.
func (a *Allocator) ToHost(v *tensor.View) (*tensor.View, error) {
	const op = "to host"
	if !IsUnified(v) {
		return nil, precondition(op, "view is not unified")
	}
	if v.Device().IsHost() {
		return nil, precondition(op, "view is already on the host")
	}
	return a.rebind(v, tensor.Host)
}

// ToDevice returns a view of v's buffer bound to device id. v may be bound
// to the host or to another device. No bytes move; v stays valid.
func (a *Allocator) ToDevice(v *tensor.View, id int) (*tensor.View, error) {
	const op = "to device"
	if !IsUnified(v) {
		return nil, precondition(op, "view is not unified")
	}
	if id < 0 || id >= a.devices {
		return nil, precondition(op, "device %d out of range [0, %d)", id, a.devices)
	}
	target := tensor.CUDADevice(id)
	if v.Device() == target {
		return nil, precondition(op, "view is already on %s", target)
	}
	return a.rebind(v, target)
}

func (a *Allocator) rebind(v *tensor.View, device tensor.Device) (*tensor.View, error) {
	s := tensor.NewIndirectStorage(v.Storage(), device)
	out, err := tensor.WrapStorage(s, v.Shape(), v.Strides(), v.DType(), device, v.Offset())
	if err != nil {
		s.Release()
		return nil, err
	}
	a.log.Debug("unified: rebound view",
		zap.Stringer("from", v.Device()),
		zap.Stringer("to", device))
	return out, nil
}
