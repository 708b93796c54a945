package unified

import (
	"github.com/born-ml/unimem/internal/parallel"
	"github.com/born-ml/unimem/internal/tensor"
)

// CloneToHostContiguous copies a contiguous view into a new ordinary host
// array. This is the only operation here that copies bytes; use it when the
// result must not alias the source.
func (a *Allocator) CloneToHostContiguous(v *tensor.View) (*tensor.View, error) {
	const op = "clone to host"
	if v == nil || v.Released() {
		return nil, precondition(op, "view is released")
	}
	if !v.IsContiguous() {
		return nil, precondition(op, "view is not contiguous")
	}

	out, err := tensor.NewView(v.Shape(), v.DType())
	if err != nil {
		return nil, err
	}
	parallel.Copy(out.Data(), v.Data(), a.cfg.Parallel)
	return out, nil
}
