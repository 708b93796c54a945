package driver

import "fmt"

// Error codes shared by runtime implementations. They follow the CUDA
// runtime's numbering so logs read the same on either runtime.
const (
	CodeInvalidValue                = 1
	CodeMemoryAllocation            = 2
	CodeInvalidDevice               = 101
	CodeHostMemoryAlreadyRegistered = 712
	CodeHostMemoryNotRegistered     = 713
)

// Error is a failed runtime call.
type Error struct {
	Op   string // runtime entry point, e.g. "cudaMallocManaged"
	Code int
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s failed: code %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s failed: %s (code %d)", e.Op, e.Msg, e.Code)
}
