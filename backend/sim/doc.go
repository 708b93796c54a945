// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package sim provides an in-process device runtime for unified memory.
//
// # Overview
//
// The simulated runtime stands in for a CUDA driver:
//   - Any number of virtual devices, with a per-thread current device
//   - Managed and registered memory backed by ordinary host pages
//   - A call log recording the device current at each call
//   - One-shot fault injection per runtime entry point
//
// It makes programs that use the unified package runnable, and testable,
// on machines without a GPU.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/unimem/backend/sim"
//	    "github.com/born-ml/unimem/unified"
//	)
//
//	func main() {
//	    rt := sim.New(sim.Options{Devices: 2})
//	    alloc, err := unified.New(unified.DefaultConfig(rt))
//	    if err != nil {
//	        panic(err)
//	    }
//	    v, _ := alloc.AllocateBytes(1<<20, false)
//	    defer v.Release()
//	}
package sim
