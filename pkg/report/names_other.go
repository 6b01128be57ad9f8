//go:build !(linux && (amd64 || arm64))

package report

import "github.com/srodi/lockscope/pkg/types"

var syscallNames = map[int32]string{
	types.SyscallRead:  "read",
	types.SyscallWrite: "write",
	types.SyscallMmap:  "mmap",
	types.SyscallFutex: "futex",
}
