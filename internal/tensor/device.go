package tensor

import "fmt"

// DeviceType is the kind of processor a view is bound to.
type DeviceType int

// Supported device types.
const (
	CPU DeviceType = iota
	CUDA
)

// String returns a human-readable device type name.
func (t DeviceType) String() string {
	switch t {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	default:
		return "unknown"
	}
}

// Device identifies where a view is logically resident: the host, or a
// specific accelerator by ordinal.
type Device struct {
	Type  DeviceType
	Index int
}

// Host is the host processor.
var Host = Device{Type: CPU, Index: -1}

// CUDADevice returns the accelerator with the given ordinal.
func CUDADevice(index int) Device {
	return Device{Type: CUDA, Index: index}
}

// IsHost reports whether d is the host.
func (d Device) IsHost() bool {
	return d.Type == CPU
}

// String returns "cpu" or "cuda:N".
func (d Device) String() string {
	if d.IsHost() {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", d.Type, d.Index)
}
