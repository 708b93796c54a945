//go:build !cuda

// Package cuda binds the CUDA runtime API to driver.Runtime.
//
// This build has no CUDA support; rebuild with -tags cuda.
package cuda

import (
	"errors"

	"github.com/born-ml/unimem/internal/driver"
)

// ErrNotBuilt is returned by New when the cuda build tag is absent.
var ErrNotBuilt = errors.New("cuda: built without the cuda tag")

// Runtime is unavailable in this build.
type Runtime struct {
	driver.Runtime
}

// New always fails in this build.
func New() (*Runtime, error) {
	return nil, ErrNotBuilt
}
