//go:build unix && !linux

package hostmem

// Only Linux has MADV_DONTFORK. Elsewhere the hint degrades to a no-op
// advice so callers do not need platform checks.
const madvDontFork = 0 // MADV_NORMAL
