// Package sim is an in-process device runtime with virtual devices.
//
// Managed and registered memory is ordinary host memory, so every address
// is dereferenceable from Go. The runtime keeps CUDA's per-thread current
// device and records each call with the device that was current when it was
// issued, which lets tests check that releases run in the right context.
package sim

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/born-ml/unimem/internal/driver"
	"github.com/born-ml/unimem/internal/hostmem"
)

// Options configures a simulated runtime.
type Options struct {
	// Devices is the number of virtual devices. Zero means 2.
	Devices int
	// Capacity limits live managed bytes. Zero means unlimited.
	Capacity int64
	// DeviceAperture is added to host addresses to form device pointers of
	// registered host memory, so the two address spaces can be told apart.
	DeviceAperture uintptr
}

// Call is one recorded runtime call.
type Call struct {
	Op      string
	Ptr     uintptr
	Size    int
	Current int // device current on the calling thread
	Target  int // device argument, if any
	Advice  driver.Advice
	Stream  driver.Stream
}

type managedAlloc struct {
	block    *hostmem.Block
	device   int
	location int
}

type registration struct {
	size   int
	flags  driver.RegisterFlags
	device int
}

// Runtime is a simulated driver.Runtime. It is safe for concurrent use.
type Runtime struct {
	opts Options

	mu         sync.Mutex
	current    map[int]int // thread id -> device
	managed    map[uintptr]*managedAlloc
	registered map[uintptr]registration
	used       int64
	faults     map[string]int
	calls      []Call
	implicit   int
}

var _ driver.Runtime = (*Runtime)(nil)

// New creates a simulated runtime.
func New(opts Options) *Runtime {
	if opts.Devices <= 0 {
		opts.Devices = 2
	}
	return &Runtime{
		opts:       opts,
		current:    make(map[int]int),
		managed:    make(map[uintptr]*managedAlloc),
		registered: make(map[uintptr]registration),
		faults:     make(map[string]int),
	}
}

// Name returns "sim".
func (r *Runtime) Name() string {
	return "sim"
}

// DeviceCount returns the configured number of devices.
func (r *Runtime) DeviceCount() (int, error) {
	return r.opts.Devices, nil
}

// GetDevice returns the calling thread's current device, 0 if none was set.
func (r *Runtime) GetDevice() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.faultLocked("cudaGetDevice"); err != nil {
		return 0, err
	}
	return r.current[threadID()], nil
}

// SetDevice sets the calling thread's current device.
func (r *Runtime) SetDevice(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.faultLocked("cudaSetDevice"); err != nil {
		return err
	}
	if id < 0 || id >= r.opts.Devices {
		return &driver.Error{Op: "cudaSetDevice", Code: driver.CodeInvalidDevice, Msg: "invalid device ordinal"}
	}
	r.current[threadID()] = id
	return nil
}

// MallocManaged allocates managed memory on the current device.
func (r *Runtime) MallocManaged(size int) (unsafe.Pointer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "cudaMallocManaged"
	if err := r.faultLocked(op); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, &driver.Error{Op: op, Code: driver.CodeInvalidValue, Msg: "invalid argument"}
	}
	if r.opts.Capacity > 0 && r.used+int64(size) > r.opts.Capacity {
		return nil, &driver.Error{Op: op, Code: driver.CodeMemoryAllocation, Msg: "out of memory"}
	}
	block, err := hostmem.Alloc(size)
	if err != nil {
		return nil, &driver.Error{Op: op, Code: driver.CodeMemoryAllocation, Msg: err.Error()}
	}

	dev := r.contextLocked()
	ptr := block.Pointer()
	r.managed[uintptr(ptr)] = &managedAlloc{block: block, device: dev, location: dev}
	r.used += int64(size)
	r.record(Call{Op: op, Ptr: uintptr(ptr), Size: size, Current: dev})
	return ptr, nil
}

// Free releases managed memory.
func (r *Runtime) Free(ptr unsafe.Pointer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "cudaFree"
	if err := r.faultLocked(op); err != nil {
		return err
	}
	a, ok := r.managed[uintptr(ptr)]
	if !ok {
		return &driver.Error{Op: op, Code: driver.CodeInvalidValue, Msg: "pointer is not a managed allocation"}
	}
	dev := r.contextLocked()
	if err := a.block.Free(); err != nil {
		return &driver.Error{Op: op, Code: driver.CodeInvalidValue, Msg: err.Error()}
	}
	delete(r.managed, uintptr(ptr))
	r.used -= int64(a.block.Size())
	r.record(Call{Op: op, Ptr: uintptr(ptr), Size: a.block.Size(), Current: dev})
	return nil
}

// HostRegister registers a host range.
func (r *Runtime) HostRegister(ptr unsafe.Pointer, size int, flags driver.RegisterFlags) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "cudaHostRegister"
	if err := r.faultLocked(op); err != nil {
		return err
	}
	if ptr == nil || size <= 0 {
		return &driver.Error{Op: op, Code: driver.CodeInvalidValue, Msg: "invalid argument"}
	}
	if _, ok := r.registered[uintptr(ptr)]; ok {
		return &driver.Error{Op: op, Code: driver.CodeHostMemoryAlreadyRegistered, Msg: "part or all of the range is already registered"}
	}
	dev := r.contextLocked()
	r.registered[uintptr(ptr)] = registration{size: size, flags: flags, device: dev}
	r.record(Call{Op: op, Ptr: uintptr(ptr), Size: size, Current: dev})
	return nil
}

// HostUnregister unregisters a host range.
func (r *Runtime) HostUnregister(ptr unsafe.Pointer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "cudaHostUnregister"
	if err := r.faultLocked(op); err != nil {
		return err
	}
	reg, ok := r.registered[uintptr(ptr)]
	if !ok {
		return &driver.Error{Op: op, Code: driver.CodeHostMemoryNotRegistered, Msg: "pointer does not correspond to a registered memory region"}
	}
	dev := r.contextLocked()
	delete(r.registered, uintptr(ptr))
	r.record(Call{Op: op, Ptr: uintptr(ptr), Size: reg.size, Current: dev})
	return nil
}

// HostGetDevicePointer returns the device address of registered memory.
func (r *Runtime) HostGetDevicePointer(ptr unsafe.Pointer) (uintptr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "cudaHostGetDevicePointer"
	if err := r.faultLocked(op); err != nil {
		return 0, err
	}
	reg, ok := r.registered[uintptr(ptr)]
	if !ok || reg.flags&driver.RegisterMapped == 0 {
		return 0, &driver.Error{Op: op, Code: driver.CodeInvalidValue, Msg: "memory is not mapped"}
	}
	return uintptr(ptr) + r.opts.DeviceAperture, nil
}

// MemAdvise records advice for a managed range.
func (r *Runtime) MemAdvise(ptr unsafe.Pointer, size int, advice driver.Advice, device int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "cudaMemAdvise"
	if err := r.faultLocked(op); err != nil {
		return err
	}
	if !advice.Valid() {
		return &driver.Error{Op: op, Code: driver.CodeInvalidValue, Msg: "invalid advice"}
	}
	if r.findManagedLocked(uintptr(ptr), size) == nil {
		return &driver.Error{Op: op, Code: driver.CodeInvalidValue, Msg: "range is not managed memory"}
	}
	if advice != driver.SetReadMostly && advice != driver.UnsetReadMostly && !r.validTargetLocked(device) {
		return &driver.Error{Op: op, Code: driver.CodeInvalidDevice, Msg: "invalid device ordinal"}
	}
	dev := r.contextLocked()
	r.record(Call{Op: op, Ptr: uintptr(ptr), Size: size, Current: dev, Target: device, Advice: advice})
	return nil
}

// MemPrefetchAsync records a prefetch and moves the allocation's simulated
// residency to device.
func (r *Runtime) MemPrefetchAsync(ptr unsafe.Pointer, size int, device int, stream driver.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "cudaMemPrefetchAsync"
	if err := r.faultLocked(op); err != nil {
		return err
	}
	a := r.findManagedLocked(uintptr(ptr), size)
	if a == nil {
		return &driver.Error{Op: op, Code: driver.CodeInvalidValue, Msg: "range is not managed memory"}
	}
	if !r.validTargetLocked(device) {
		return &driver.Error{Op: op, Code: driver.CodeInvalidDevice, Msg: "invalid device ordinal"}
	}
	dev := r.contextLocked()
	a.location = device
	r.record(Call{Op: op, Ptr: uintptr(ptr), Size: size, Current: dev, Target: device, Stream: stream})
	return nil
}

// CurrentStream returns a distinct non-default stream per device.
func (r *Runtime) CurrentStream(device int) driver.Stream {
	return driver.Stream(device + 2) //nolint:gosec // device is CPUDeviceID or a small ordinal
}

// FailNext makes the next call to op fail with code.
func (r *Runtime) FailNext(op string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[op] = code
}

// Calls returns a copy of the recorded calls, optionally filtered by op.
func (r *Runtime) Calls(ops ...string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(ops) == 0 {
		return append([]Call(nil), r.calls...)
	}
	var out []Call
	for _, c := range r.calls {
		for _, op := range ops {
			if c.Op == op {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// ImplicitContexts counts context-requiring calls made on a thread that never
// selected a device, i.e. calls that would create a default context.
func (r *Runtime) ImplicitContexts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.implicit
}

// Live returns the number of managed allocations and host registrations.
func (r *Runtime) Live() (managed, registered int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managed), len(r.registered)
}

// Location returns the simulated residency of the managed allocation
// containing ptr.
func (r *Runtime) Location(ptr unsafe.Pointer) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.findManagedLocked(uintptr(ptr), 1)
	if a == nil {
		return 0, fmt.Errorf("sim: %p is not managed memory", ptr)
	}
	return a.location, nil
}

func (r *Runtime) faultLocked(op string) error {
	code, ok := r.faults[op]
	if !ok {
		return nil
	}
	delete(r.faults, op)
	return &driver.Error{Op: op, Code: code, Msg: "injected fault"}
}

// contextLocked returns the device whose context a call runs in.
func (r *Runtime) contextLocked() int {
	dev, ok := r.current[threadID()]
	if !ok {
		r.implicit++
	}
	return dev
}

func (r *Runtime) findManagedLocked(ptr uintptr, size int) *managedAlloc {
	for base, a := range r.managed {
		if ptr >= base && ptr+uintptr(size) <= base+uintptr(a.block.Size()) { //nolint:gosec // size is non-negative
			return a
		}
	}
	return nil
}

func (r *Runtime) validTargetLocked(device int) bool {
	return device == driver.CPUDeviceID || (device >= 0 && device < r.opts.Devices)
}

func (r *Runtime) record(c Call) {
	r.calls = append(r.calls, c)
}
