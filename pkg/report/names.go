package report

import "strconv"

// SyscallName returns a readable name for id, or "sys_<id>" when unknown.
func SyscallName(id int32) string {
	if name, ok := syscallNames[id]; ok {
		return name
	}
	return "sys_" + strconv.Itoa(int(id))
}
