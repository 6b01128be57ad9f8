//go:build linux && (amd64 || arm64)

package types

import "golang.org/x/sys/unix"

// Syscall numbers the profiler has special handling for, in the running
// kernel's numbering.
const (
	SyscallRead  int32 = unix.SYS_READ
	SyscallWrite int32 = unix.SYS_WRITE
	SyscallMmap  int32 = unix.SYS_MMAP
	SyscallFutex int32 = unix.SYS_FUTEX
)
