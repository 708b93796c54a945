// Package hostmem allocates ordinary host memory outside the Go heap.
//
// Addresses of these blocks are handed to device runtimes as raw pointers,
// so the memory must never move and must not be tracked by the garbage
// collector. Blocks are page-aligned anonymous mappings.
package hostmem

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/born-ml/unimem/internal/parallel"
)

// ErrUnsupported is returned on platforms without anonymous mappings.
var ErrUnsupported = errors.New("hostmem: unsupported platform")

// Block is one host allocation.
type Block struct {
	data  []byte // whole mapping, page-rounded
	size  int    // requested size
	freed atomic.Bool
}

// Pointer returns the base address.
func (b *Block) Pointer() unsafe.Pointer {
	return unsafe.Pointer(&b.data[0])
}

// Size returns the requested size in bytes.
func (b *Block) Size() int {
	return b.size
}

// Bytes returns the requested region as a byte slice.
func (b *Block) Bytes() []byte {
	return b.data[:b.size]
}

// Free returns the block to the operating system. Freeing twice is an error.
func (b *Block) Free() error {
	if !b.freed.CompareAndSwap(false, true) {
		return fmt.Errorf("hostmem: block at %p freed twice", b.Pointer())
	}
	return unmap(b.data)
}

// Alloc maps size bytes of zeroed, private, read-write host memory.
func Alloc(size int) (*Block, error) {
	if size <= 0 {
		return nil, fmt.Errorf("hostmem: invalid size %d", size)
	}
	ps := PageSize()
	rounded := (size + ps - 1) &^ (ps - 1)
	data, err := mapAnon(rounded)
	if err != nil {
		return nil, fmt.Errorf("hostmem: map %d bytes: %w", rounded, err)
	}
	return &Block{data: data, size: size}, nil
}

// TouchPages writes one byte per page so every page is physically backed
// before the region is handed to a device runtime.
func TouchPages(b []byte, cfg parallel.Config) {
	ps := PageSize()
	pages := (len(b) + ps - 1) / ps
	parallel.For(pages, func(i int) {
		b[i*ps] = 0
	}, cfg)
}

// Align returns the smallest page-aligned range containing [ptr, ptr+size).
func Align(ptr, size uintptr) (uintptr, uintptr) {
	ps := uintptr(PageSize())
	aligned := ptr &^ (ps - 1)
	end := (ptr + size + ps - 1) &^ (ps - 1)
	return aligned, end - aligned
}
