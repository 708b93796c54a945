// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package unified

import (
	"github.com/born-ml/unimem/internal/driver"
	"github.com/born-ml/unimem/internal/parallel"
	"github.com/born-ml/unimem/internal/unified"
	"github.com/born-ml/unimem/tensor"
)

// Runtime is the device API an Allocator runs on. See backend/sim and
// backend/cuda for implementations.
type Runtime = driver.Runtime

// Allocator creates unified views on one runtime.
type Allocator = unified.Allocator

// Config controls an Allocator.
type Config = unified.Config

// ParallelConfig controls page touching and host copies.
type ParallelConfig = parallel.Config

// AllocOption customizes a single allocation.
type AllocOption = unified.AllocOption

// Stats is a snapshot of allocator activity.
type Stats = unified.Stats

// Advice is a usage hint for unified memory.
type Advice = unified.Advice

// Advice kinds accepted by SetAdvice.
const (
	SetReadMostly          = unified.SetReadMostly
	UnsetReadMostly        = unified.UnsetReadMostly
	SetPreferredLocation   = unified.SetPreferredLocation
	UnsetPreferredLocation = unified.UnsetPreferredLocation
	SetAccessedBy          = unified.SetAccessedBy
	UnsetAccessedBy        = unified.UnsetAccessedBy
)

// Error classes.
var (
	ErrAllocation   = unified.ErrAllocation
	ErrPrecondition = unified.ErrPrecondition
	ErrRuntime      = unified.ErrRuntime
)

// Typed errors carrying the failed operation.
type (
	AllocationError   = unified.AllocationError
	PreconditionError = unified.PreconditionError
	RuntimeError      = unified.RuntimeError
)

// DriverError is a failed runtime call, wrapped by the typed errors.
type DriverError = driver.Error

// New validates cfg and returns an Allocator.
func New(cfg Config) (*Allocator, error) {
	return unified.New(cfg)
}

// DefaultConfig returns a configuration for rt with device 0, no logging
// and CPU-count parallelism.
func DefaultConfig(rt Runtime) Config {
	return unified.DefaultConfig(rt)
}

// WithDevice allocates on device id instead of the configured default.
func WithDevice(id int) AllocOption {
	return unified.WithDevice(id)
}

// WithHostMapped selects host-mapped instead of device-managed memory.
func WithHostMapped() AllocOption {
	return unified.WithHostMapped()
}

// WithStrides sets explicit element strides.
func WithStrides(strides []int) AllocOption {
	return unified.WithStrides(strides)
}

// IsUnified reports whether v is backed by a unified buffer.
func IsUnified(v *tensor.View) bool {
	return unified.IsUnified(v)
}

// IsUnifiedAndOnDevice reports whether v is unified and bound to a device.
func IsUnifiedAndOnDevice(v *tensor.View) bool {
	return unified.IsUnifiedAndOnDevice(v)
}
