package unified

import (
	"errors"
	"fmt"
)

// Error classes. Use errors.Is to classify a returned error.
var (
	// ErrAllocation reports a failed allocation or host registration. The
	// caller may retry with a smaller size or fall back to ordinary memory.
	ErrAllocation = errors.New("unified: allocation failed")
	// ErrPrecondition reports an operation applied to a view that does not
	// qualify for it. Nothing was changed.
	ErrPrecondition = errors.New("unified: precondition failed")
	// ErrRuntime reports a failed advice, prefetch or no-fork call.
	ErrRuntime = errors.New("unified: runtime call failed")
)

// AllocationError describes a failed allocation.
type AllocationError struct {
	Size       int
	HostMapped bool
	Device     int
	Err        error
}

func (e *AllocationError) Error() string {
	kind := "managed"
	if e.HostMapped {
		kind = "host-mapped"
	}
	return fmt.Sprintf("unified: allocate %d %s bytes on device %d: %v", e.Size, kind, e.Device, e.Err)
}

// Is matches ErrAllocation.
func (e *AllocationError) Is(target error) bool {
	return target == ErrAllocation
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// PreconditionError describes a rejected operation.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("unified: %s: %s", e.Op, e.Reason)
}

// Is matches ErrPrecondition.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

// RuntimeError wraps a failed runtime call made on an existing allocation.
type RuntimeError struct {
	Op     string
	Device int
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("unified: %s on device %d: %v", e.Op, e.Device, e.Err)
}

// Is matches ErrRuntime.
func (e *RuntimeError) Is(target error) bool {
	return target == ErrRuntime
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func precondition(op, format string, args ...any) error {
	return &PreconditionError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
