//go:build !unix

package hostmem

import "unsafe"

// PageSize returns the conventional 4KB page size.
func PageSize() int {
	return 4096
}

func mapAnon(int) ([]byte, error) {
	return nil, ErrUnsupported
}

func unmap([]byte) error {
	return ErrUnsupported
}

// DontFork is unsupported on this platform.
func DontFork(unsafe.Pointer, int) error {
	return ErrUnsupported
}
