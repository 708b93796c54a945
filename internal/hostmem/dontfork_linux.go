package hostmem

import "golang.org/x/sys/unix"

const madvDontFork = unix.MADV_DONTFORK
