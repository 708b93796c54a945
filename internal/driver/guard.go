package driver

import (
	"fmt"
	"runtime"
)

// Guard is an active current-device switch on a locked OS thread.
// Restore must be called on every path, usually via defer.
type Guard struct {
	rt       Runtime
	prev     int
	target   int
	switched bool
	done     bool
}

// Activate pins the calling goroutine to its OS thread, records the thread's
// current device and makes id current. On error the thread is unpinned and
// nothing needs restoring.
func Activate(rt Runtime, id int) (*Guard, error) {
	runtime.LockOSThread()

	prev, err := rt.GetDevice()
	if err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("get current device: %w", err)
	}
	if err := rt.SetDevice(id); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("set device %d: %w", id, err)
	}
	return &Guard{rt: rt, prev: prev, target: id, switched: prev != id}, nil
}

// Device returns the device the guard made current.
func (g *Guard) Device() int {
	return g.target
}

// Restore switches back to the previous device and unpins the thread.
// A second call is a no-op.
func (g *Guard) Restore() error {
	if g.done {
		return nil
	}
	g.done = true
	defer runtime.UnlockOSThread()

	if !g.switched {
		return nil
	}
	if err := g.rt.SetDevice(g.prev); err != nil {
		return fmt.Errorf("restore device %d: %w", g.prev, err)
	}
	return nil
}
