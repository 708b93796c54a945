package tensor

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// StorageKind tags who owns the release authority for a storage.
type StorageKind int

// Storage kinds.
const (
	// Ordinary storage is Go heap memory from NewView. It is never unified.
	Ordinary StorageKind = iota
	// DeviceManaged is an authoritative storage over a managed allocation.
	DeviceManaged
	// HostMapped is an authoritative storage over registered host memory.
	HostMapped
	// Indirect shares a parent storage under a different device identity.
	Indirect
)

// String returns a human-readable kind name.
func (k StorageKind) String() string {
	switch k {
	case Ordinary:
		return "ordinary"
	case DeviceManaged:
		return "device-managed"
	case HostMapped:
		return "host-mapped"
	case Indirect:
		return "indirect"
	default:
		return "unknown"
	}
}

// Releaser performs the single release action of an authoritative storage.
type Releaser interface {
	Release()
}

// Storage is a reference-counted memory region backing one or more views.
//
// An authoritative storage (DeviceManaged, HostMapped) holds the Releaser
// that frees the buffer. An Indirect storage holds one reference on its
// parent and never frees memory itself.
type Storage struct {
	kind    StorageKind
	device  Device
	host    unsafe.Pointer // host-accessible address
	devPtr  uintptr        // device-visible address
	size    int
	data    []byte // Go-owned bytes for Ordinary storage
	owner   Releaser
	parent  *Storage
	root    *Storage
	refs    atomic.Int64
	dropped atomic.Bool
}

// NewOrdinaryStorage allocates size bytes on the Go heap.
func NewOrdinaryStorage(size int) *Storage {
	data := make([]byte, size)
	s := &Storage{
		kind:   Ordinary,
		device: Host,
		data:   data,
		size:   size,
	}
	if size > 0 {
		s.host = unsafe.Pointer(&data[0])
		s.devPtr = uintptr(s.host)
	}
	s.refs.Store(1)
	return s
}

// NewOwnedStorage creates an authoritative storage over memory the caller
// does not manage through Go. owner runs once, when the last reference drops.
// The returned storage carries one reference.
func NewOwnedStorage(kind StorageKind, device Device, host unsafe.Pointer, devPtr uintptr, size int, owner Releaser) *Storage {
	if kind != DeviceManaged && kind != HostMapped {
		panic(fmt.Sprintf("tensor: %s is not an owning storage kind", kind))
	}
	s := &Storage{
		kind:   kind,
		device: device,
		host:   host,
		devPtr: devPtr,
		size:   size,
		owner:  owner,
	}
	s.refs.Store(1)
	return s
}

// NewIndirectStorage creates a storage sharing parent under device. It takes
// its own reference on parent; the returned storage carries one reference.
func NewIndirectStorage(parent *Storage, device Device) *Storage {
	parent.Retain()
	s := &Storage{
		kind:   Indirect,
		device: device,
		host:   parent.host,
		devPtr: parent.devPtr,
		size:   parent.size,
		parent: parent,
		root:   parent.Root(),
	}
	s.refs.Store(1)
	return s
}

// Kind returns the storage kind tag.
func (s *Storage) Kind() StorageKind {
	return s.kind
}

// Device returns the device identity this storage was created with.
func (s *Storage) Device() Device {
	return s.device
}

// Parent returns the storage an Indirect storage refers to, or nil.
func (s *Storage) Parent() *Storage {
	return s.parent
}

// Root returns the authoritative storage at the end of the parent chain, or
// s itself when s is not Indirect.
func (s *Storage) Root() *Storage {
	if s.root != nil {
		return s.root
	}
	return s
}

// Owner returns the release record of an authoritative storage, or nil.
func (s *Storage) Owner() Releaser {
	return s.owner
}

// Size returns the storage size in bytes.
func (s *Storage) Size() int {
	return s.size
}

// HostPointer returns the host-accessible base address.
func (s *Storage) HostPointer() unsafe.Pointer {
	return s.host
}

// DevicePointer returns the device-visible base address.
func (s *Storage) DevicePointer() uintptr {
	return s.devPtr
}

// Bytes returns the whole storage as a host-accessible byte slice.
func (s *Storage) Bytes() []byte {
	if s.data != nil {
		return s.data
	}
	if s.host == nil || s.dropped.Load() {
		return nil
	}
	//nolint:gosec // memory is off the Go heap and lives as long as the storage
	return unsafe.Slice((*byte)(s.host), s.size)
}

// RefCount returns the current number of references.
func (s *Storage) RefCount() int64 {
	return s.refs.Load()
}

// Released reports whether the last reference has been dropped.
func (s *Storage) Released() bool {
	return s.dropped.Load()
}

// Retain adds a reference.
func (s *Storage) Retain() {
	if s.refs.Add(1) <= 1 {
		panic("tensor: retain on released storage")
	}
}

// Release drops a reference. When the count reaches zero an Indirect storage
// releases its parent and an authoritative storage runs its owner.
func (s *Storage) Release() {
	n := s.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 || !s.dropped.CompareAndSwap(false, true) {
		panic("tensor: storage released more times than retained")
	}

	switch s.kind {
	case Indirect:
		s.parent.Release()
	case DeviceManaged, HostMapped:
		s.owner.Release()
	case Ordinary:
		s.data = nil
	}
}
