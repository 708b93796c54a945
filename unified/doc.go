// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package unified allocates arrays in memory shared by the host and
// accelerator devices.
//
// # Overview
//
// Two allocation strategies are supported:
//   - Device-managed memory (cudaMallocManaged), migrated on demand and
//     steerable with SetAdvice and Prefetch
//   - Host-mapped memory: page-aligned host pages registered with the
//     device and accessed over the bus
//
// One allocation can be viewed from the host and from any device. ToHost
// and ToDevice return new views of the same bytes; nothing is copied.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/unimem/backend/sim"
//	    "github.com/born-ml/unimem/tensor"
//	    "github.com/born-ml/unimem/unified"
//	)
//
//	func main() {
//	    alloc, _ := unified.New(unified.DefaultConfig(sim.New(sim.Options{})))
//
//	    v, _ := alloc.Allocate(tensor.Shape{1024}, tensor.Float32)
//	    h, _ := alloc.ToHost(v)   // same buffer, bound to the host
//	    h.AsFloat32()[0] = 1
//
//	    _ = alloc.SetAdvice(v, unified.SetReadMostly)
//	    h.Release()
//	    v.Release()               // buffer freed on its allocating device
//	}
//
// # Ownership
//
// Each buffer is freed exactly once, when its last view is released, from
// whichever goroutine does so. The free always runs with the allocating
// device current and restores the caller's device afterwards. A failed
// free cannot be reported to anyone and terminates the process through
// the configured logger's Fatal level.
//
// # Errors
//
// Returned errors match ErrAllocation, ErrPrecondition or ErrRuntime with
// errors.Is. A precondition error means nothing was changed.
package unified
