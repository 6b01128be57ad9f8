//go:build linux && (amd64 || arm64)

package report

import "golang.org/x/sys/unix"

// syscallNames uses the running architecture's syscall table, which is what
// raw syscall tracepoints report.
var syscallNames = map[int32]string{
	unix.SYS_READ:        "read",
	unix.SYS_WRITE:       "write",
	unix.SYS_CLOSE:       "close",
	unix.SYS_OPENAT:      "openat",
	unix.SYS_MMAP:        "mmap",
	unix.SYS_MPROTECT:    "mprotect",
	unix.SYS_MUNMAP:      "munmap",
	unix.SYS_BRK:         "brk",
	unix.SYS_IOCTL:       "ioctl",
	unix.SYS_PREAD64:     "pread64",
	unix.SYS_PWRITE64:    "pwrite64",
	unix.SYS_READV:       "readv",
	unix.SYS_WRITEV:      "writev",
	unix.SYS_SCHED_YIELD: "sched_yield",
	unix.SYS_NANOSLEEP:   "nanosleep",
	unix.SYS_GETPID:      "getpid",
	unix.SYS_CLONE:       "clone",
	unix.SYS_FUTEX:       "futex",
	unix.SYS_EPOLL_PWAIT: "epoll_pwait",
	unix.SYS_EXIT_GROUP:  "exit_group",
}
