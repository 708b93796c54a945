//go:build unix

package hostmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSize = unix.Getpagesize()

// PageSize returns the process page size.
func PageSize() int {
	return pageSize
}

func mapAnon(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmap(data []byte) error {
	return unix.Munmap(data)
}

// DontFork excludes the pages covering [ptr, ptr+size) from the address
// space of children created by fork.
func DontFork(ptr unsafe.Pointer, size int) error {
	aligned, alignedSize := Align(uintptr(ptr), uintptr(size)) //nolint:gosec // size is a validated byte count
	//nolint:gosec // the range covers pages of a live mapping owned by the caller
	region := unsafe.Slice((*byte)(unsafe.Pointer(aligned)), alignedSize)
	if err := unix.Madvise(region, madvDontFork); err != nil {
		return fmt.Errorf("hostmem: madvise dontfork %#x+%d: %w", aligned, alignedSize, err)
	}
	return nil
}
