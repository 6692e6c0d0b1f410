//go:build !windows

package patcher

import (
	"os"

	"golang.org/x/sys/unix"
)

// platformAcquirePrivilege is a no-op outside Windows: POSIX fallocate
// needs no special privilege, so the capability probe always succeeds.
func platformAcquirePrivilege(log logger) bool {
	return true
}

// platformFastExtend resizes f to size. It first asks fallocate to reserve
// the space without necessarily zero-filling it (best-effort; an error is
// ignored), then truncates f to size, since fallocate never shrinks a file
// that is longer than size.
func platformFastExtend(f *os.File, size int64) error {
	_ = unix.Fallocate(int(f.Fd()), 0, 0, size)
	return f.Truncate(size)
}
