// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package sim

import (
	internalsim "github.com/born-ml/unimem/internal/driver/sim"
	"github.com/born-ml/unimem/unified"
)

// Runtime is the simulated device runtime.
type Runtime = internalsim.Runtime

// Options configures a simulated runtime.
type Options = internalsim.Options

// Call is one recorded runtime call.
type Call = internalsim.Call

// Compile-time check that Runtime implements unified.Runtime.
var _ unified.Runtime = (*Runtime)(nil)

// New creates a simulated runtime. Zero Options give two devices with
// unlimited capacity.
func New(opts Options) *Runtime {
	return internalsim.New(opts)
}
