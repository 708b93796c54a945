// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cuda provides the CUDA runtime for unified memory.
//
// The binding uses cgo and links libcudart; it is compiled only with the
// cuda build tag. Without the tag New returns ErrNotBuilt.
//
// Example:
//
//	import (
//	    "github.com/born-ml/unimem/backend/cuda"
//	    "github.com/born-ml/unimem/backend/sim"
//	    "github.com/born-ml/unimem/unified"
//	)
//
//	func main() {
//	    var rt unified.Runtime = sim.New(sim.Options{})
//	    if gpu, err := cuda.New(); err == nil {
//	        rt = gpu
//	    }
//	    alloc, _ := unified.New(unified.DefaultConfig(rt))
//	}
package cuda

import (
	internalcuda "github.com/born-ml/unimem/internal/driver/cuda"
	"github.com/born-ml/unimem/unified"
)

// Runtime is the CUDA device runtime.
type Runtime = internalcuda.Runtime

// ErrNotBuilt is returned by New when the cuda build tag is absent.
var ErrNotBuilt = internalcuda.ErrNotBuilt

// Compile-time check that Runtime implements unified.Runtime.
var _ unified.Runtime = (*Runtime)(nil)

// New returns the CUDA runtime.
//
// Returns an error if the binary was built without CUDA support or no
// device is visible.
func New() (*Runtime, error) {
	return internalcuda.New()
}

// IsAvailable reports whether a CUDA device can be used.
//
// Example:
//
//	if cuda.IsAvailable() {
//	    rt, _ := cuda.New()
//	    alloc, _ = unified.New(unified.DefaultConfig(rt))
//	}
func IsAvailable() bool {
	_, err := internalcuda.New()
	return err == nil
}
