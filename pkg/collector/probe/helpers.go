package probe

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// procReadFile allows tests to stub reading /proc/PID/comm.
var procReadFile = os.ReadFile

// attachKind says how a program is hooked into the kernel.
type attachKind int

const (
	attachNone attachKind = iota
	attachKprobe
	attachKretprobe
	attachTracepoint
	attachUprobe
	attachUretprobe
)

// target is a parsed ELF section name such as "kprobe/do_futex",
// "tracepoint/raw_syscalls/sys_enter" or
// "uprobe//usr/lib/libc.so.6:pthread_mutex_lock".
type target struct {
	kind   attachKind
	symbol string
	// group is the tracepoint category or the uprobe binary path.
	group string
}

func parseSection(section string) (target, error) {
	prefix, rest, _ := strings.Cut(section, "/")
	switch prefix {
	case "kprobe", "kretprobe":
		if rest == "" {
			return target{}, nil
		}
		kind := attachKprobe
		if prefix == "kretprobe" {
			kind = attachKretprobe
		}
		return target{kind: kind, symbol: rest}, nil
	case "tracepoint", "tp":
		group, name, ok := strings.Cut(rest, "/")
		if !ok || group == "" || name == "" {
			return target{}, fmt.Errorf("malformed tracepoint section %q", section)
		}
		return target{kind: attachTracepoint, group: group, symbol: name}, nil
	case "uprobe", "uretprobe":
		if rest == "" {
			return target{}, nil
		}
		i := strings.LastIndexByte(rest, ':')
		if i <= 0 || i == len(rest)-1 {
			return target{}, fmt.Errorf("malformed uprobe section %q", section)
		}
		kind := attachUprobe
		if prefix == "uretprobe" {
			kind = attachUretprobe
		}
		return target{kind: kind, group: rest[:i], symbol: rest[i+1:]}, nil
	default:
		return target{}, nil
	}
}

func commForPID(pid uint32, cache map[uint32]string) string {
	if pid == 0 {
		return "idle"
	}
	if name, ok := cache[pid]; ok {
		return name
	}
	path := filepath.Join("/proc", strconv.FormatUint(uint64(pid), 10), "comm")
	data, err := procReadFile(path)
	if err != nil {
		name := fmt.Sprintf("pid-%d", pid)
		cache[pid] = name
		return name
	}
	comm := strings.TrimSpace(string(data))
	if comm == "" {
		comm = fmt.Sprintf("pid-%d", pid)
	}
	cache[pid] = comm
	return comm
}

// describePIDs renders pids with their command names for logging.
func describePIDs(pids []uint32, limit int) string {
	cache := make(map[uint32]string, len(pids))
	parts := make([]string, 0, min(len(pids), limit)+1)
	for i, pid := range pids {
		if i == limit {
			parts = append(parts, fmt.Sprintf("+%d more", len(pids)-limit))
			break
		}
		parts = append(parts, fmt.Sprintf("%d(%s)", pid, commForPID(pid, cache)))
	}
	return strings.Join(parts, " ")
}
