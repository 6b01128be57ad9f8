package report

import (
	"fmt"
	"sort"

	"github.com/srodi/lockscope/pkg/falseshare"
	"github.com/srodi/lockscope/pkg/types"
)

// SyscallRow condenses one syscall's latency statistics.
type SyscallRow struct {
	ID      int32
	Name    string
	Count   uint64
	TotalNs uint64
	AvgNs   uint64
	MaxNs   uint64
	MinNs   uint64
	// Share is the syscall's percentage of all recorded syscall time.
	Share float64
}

// LockRow condenses one lock's contention statistics.
type LockRow struct {
	Addr           uint64
	Contention     uint32
	TotalWaitNs    uint64
	AvgWaitUs      uint64
	MaxWaiters     uint32
	CurrentWaiters uint32
	High           bool
	Diagnosis      string
}

// SharingRow is one cache line suspected of false sharing.
type SharingRow struct {
	LineAddr    uint64
	AccessCount uint32
	CPUs        int
}

// SyscallRows orders syscalls by total time and keeps at most topK.
func SyscallRows(stats []types.SyscallStat, topK int) []SyscallRow {
	var total uint64
	for _, st := range stats {
		total += st.TotalDuration
	}
	rows := make([]SyscallRow, 0, len(stats))
	for _, st := range stats {
		if st.Count == 0 {
			continue
		}
		row := SyscallRow{
			ID:      st.SyscallID,
			Name:    SyscallName(st.SyscallID),
			Count:   st.Count,
			TotalNs: st.TotalDuration,
			AvgNs:   st.AvgDuration(),
			MaxNs:   st.MaxDuration,
			MinNs:   st.MinDuration,
		}
		if total > 0 {
			row.Share = 100 * float64(st.TotalDuration) / float64(total)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalNs == rows[j].TotalNs {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].TotalNs > rows[j].TotalNs
	})
	if topK > 0 && len(rows) > topK {
		rows = rows[:topK]
	}
	return rows
}

// LockRows orders locks by contention count. topK <= 0 keeps every lock.
func LockRows(stats []types.LockStat, topK int) []LockRow {
	rows := make([]LockRow, 0, len(stats))
	for _, st := range stats {
		if st.ContentionCount == 0 {
			continue
		}
		row := LockRow{
			Addr:           st.LockAddr,
			Contention:     st.ContentionCount,
			TotalWaitNs:    st.TotalWaitTime,
			AvgWaitUs:      st.AvgWaitUs(),
			MaxWaiters:     st.MaxWaiters,
			CurrentWaiters: st.CurrentWaiters,
			High:           st.HighContention(),
		}
		row.Diagnosis = classifyLock(row)
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Contention == rows[j].Contention {
			return rows[i].TotalWaitNs > rows[j].TotalWaitNs
		}
		return rows[i].Contention > rows[j].Contention
	})
	if topK > 0 && len(rows) > topK {
		rows = rows[:topK]
	}
	return rows
}

// SharingRows converts detector suspects into rows, keeping at most topK.
func SharingRows(suspects []falseshare.Suspect, topK int) []SharingRow {
	rows := make([]SharingRow, 0, len(suspects))
	for _, s := range suspects {
		rows = append(rows, SharingRow{LineAddr: s.LineAddr, AccessCount: s.AccessCount, CPUs: s.CPUs})
	}
	if topK > 0 && len(rows) > topK {
		rows = rows[:topK]
	}
	return rows
}

// HighContentionCount counts rows flagged as high contention.
func HighContentionCount(rows []LockRow) int {
	n := 0
	for _, row := range rows {
		if row.High {
			n++
		}
	}
	return n
}

// SelectFocusLock picks the lock most worth the operator's attention.
func SelectFocusLock(rows []LockRow) *LockRow {
	var best *LockRow
	bestScore := -1.0
	for _, row := range rows {
		severity := diagnosisSeverity(row.Diagnosis)
		if severity == 0 {
			continue
		}
		score := float64(severity)*1e9 + float64(row.TotalWaitNs)
		if best == nil || score > bestScore {
			copy := row
			best = &copy
			bestScore = score
		}
	}
	return best
}

// FocusSummary returns a short explanation for the focus line.
func FocusSummary(row LockRow) string {
	switch row.Diagnosis {
	case "Convoy":
		return fmt.Sprintf("%d acquisitions, %dus avg wait, up to %d waiters",
			row.Contention, row.AvgWaitUs, row.MaxWaiters)
	case "Long waits":
		return fmt.Sprintf("%dus avg wait over %d acquisitions",
			row.AvgWaitUs, row.Contention)
	case "Hot lock":
		return fmt.Sprintf("%d acquisitions, up to %d waiters",
			row.Contention, row.MaxWaiters)
	default:
		return fmt.Sprintf("%d acquisitions, %dus avg wait", row.Contention, row.AvgWaitUs)
	}
}

func classifyLock(row LockRow) string {
	busy := row.Contention > types.HighContentionCount
	slow := row.AvgWaitUs > types.HighContentionAvgWaitUs

	if busy && slow {
		return "Convoy"
	}
	if slow {
		return "Long waits"
	}
	if busy {
		return "Hot lock"
	}
	return "OK"
}

func diagnosisSeverity(label string) int {
	switch label {
	case "Convoy":
		return 3
	case "Long waits":
		return 2
	case "Hot lock":
		return 1
	default:
		return 0
	}
}
