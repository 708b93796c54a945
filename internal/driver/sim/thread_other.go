//go:build !linux

package sim

// threadID collapses every thread into one context where thread ids are not
// available without cgo.
func threadID() int {
	return 0
}
