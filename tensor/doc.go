// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the array views that unified memory is exposed
// through.
//
// # Overview
//
// A View is a shaped, strided window over a reference-counted Storage:
//   - Shape, strides, element type and byte offset describe the layout
//   - Device names where the view is bound (host or a CUDA device)
//   - Clone shares the storage; Release drops the view's reference
//
// Views created with NewView are ordinary host arrays on the Go heap. Views
// over unified memory come from the unified package and share one buffer
// across devices without copying.
//
// # Basic Usage
//
//	v, err := tensor.NewView(tensor.Shape{2, 3}, tensor.Float32)
//	if err != nil {
//	    return err
//	}
//	defer v.Release()
//
//	data := v.AsFloat32() // zero-copy access
//	data[0] = 1
//
// # Memory Management
//
// Every view holds one storage reference. Call Release when done; a view
// that is never released is released by a GC cleanup, but the timing of
// that is not defined.
package tensor
