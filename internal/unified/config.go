package unified

import (
	"go.uber.org/zap"

	"github.com/born-ml/unimem/internal/driver"
	"github.com/born-ml/unimem/internal/parallel"
)

// Config controls an Allocator.
type Config struct {
	// Runtime is the device API. Required.
	Runtime driver.Runtime
	// Logger receives debug events and fatal teardown failures. Nil means a
	// no-op logger; teardown failures still terminate the process.
	Logger *zap.Logger
	// Device is the default allocating device.
	Device int
	// MarkNoFork applies the no-fork hint to every new allocation.
	MarkNoFork bool
	// Parallel controls page touching and host copies.
	Parallel parallel.Config
}

// DefaultConfig returns a configuration for rt with device 0, no logging
// and CPU-count parallelism.
func DefaultConfig(rt driver.Runtime) Config {
	return Config{
		Runtime:  rt,
		Logger:   zap.NewNop(),
		Parallel: parallel.DefaultConfig(),
	}
}

// AllocOption customizes a single allocation.
type AllocOption func(*allocOptions)

type allocOptions struct {
	device     int
	hostMapped bool
	strides    []int
}

// WithDevice allocates on device id instead of the configured default.
func WithDevice(id int) AllocOption {
	return func(o *allocOptions) { o.device = id }
}

// WithHostMapped selects host-mapped instead of device-managed memory.
func WithHostMapped() AllocOption {
	return func(o *allocOptions) { o.hostMapped = true }
}

// WithStrides sets explicit element strides. The allocation is sized to
// cover the strided layout.
func WithStrides(strides []int) AllocOption {
	return func(o *allocOptions) { o.strides = append([]int(nil), strides...) }
}
