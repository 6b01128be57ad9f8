//go:build !(linux && (amd64 || arm64))

package types

// Syscall numbers the profiler has special handling for. Without a native
// table the x86-64 numbering is used.
const (
	SyscallRead  int32 = 0
	SyscallWrite int32 = 1
	SyscallMmap  int32 = 9
	SyscallFutex int32 = 202
)
