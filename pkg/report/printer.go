package report

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/srodi/lockscope/pkg/falseshare"
	"github.com/srodi/lockscope/pkg/types"
)

// FormatEvent renders one derived event as a single line.
func FormatEvent(ev types.Event) string {
	switch ev.Kind {
	case types.EventLockRelease:
		return fmt.Sprintf("LOCK: pid=%d, lock=0x%x, wait=%dus", ev.PID, ev.LockAddr, ev.WaitTimeNs/1000)
	case types.EventLockWait:
		return fmt.Sprintf("LOCK_WAIT: pid=%d, tid=%d, lock=0x%x", ev.PID, ev.TID, ev.LockAddr)
	default:
		return fmt.Sprintf("SYSCALL: pid=%d, syscall=%d, duration=%dns", ev.PID, ev.SyscallID, ev.DurationNs)
	}
}

// FalseSharingSummary is the closing line of the false-sharing analysis.
func FalseSharingSummary(suspects int) string {
	if suspects > 0 {
		return fmt.Sprintf("Found %d potential false sharing cases", suspects)
	}
	return "No obvious false sharing detected"
}

// Source is the read side of the aggregation engine.
type Source interface {
	SyscallStats() []types.SyscallStat
	LockStats() []types.LockStat
	FalseSharing() []falseshare.Suspect
	Counters() types.Counters
}

// Options selects the reports Flush renders.
type Options struct {
	// Summary is set when the loop runs in summary mode; the lock table is
	// always part of a summary.
	Summary      bool
	ShowLocks    bool
	FalseSharing bool
	TopK         int
}

// Printer writes events and reports as text. It is safe for concurrent use.
type Printer struct {
	mu   sync.Mutex
	w    io.Writer
	src  Source
	opts Options
}

// NewPrinter returns a printer over src writing to w.
func NewPrinter(w io.Writer, src Source, opts Options) *Printer {
	if opts.TopK <= 0 {
		opts.TopK = types.DefaultTopK
	}
	return &Printer{w: w, src: src, opts: opts}
}

// Event writes ev on its own line.
func (p *Printer) Event(ev types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, FormatEvent(ev))
}

// Flush renders the syscall table, then the lock table and the false-sharing
// analysis when enabled.
func (p *Printer) Flush() error {
	var buf bytes.Buffer
	WriteSyscalls(&buf, SyscallRows(p.src.SyscallStats(), p.opts.TopK))
	if p.opts.ShowLocks || p.opts.Summary {
		buf.WriteString("\n")
		WriteLocks(&buf, LockRows(p.src.LockStats(), 0))
	}
	if p.opts.FalseSharing {
		buf.WriteString("\n")
		WriteFalseSharing(&buf, SharingRows(p.src.FalseSharing(), 0))
	}
	c := p.src.Counters()
	fmt.Fprintf(&buf, "\nRecords: %d processed, %d below threshold, %d unmatched, %d rejected (table full), %d lines evicted\n",
		c.Processed, c.Filtered, c.Dropped, c.CapacityExceeded, c.EvictedLines)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// WriteSyscalls renders the syscall latency table.
func WriteSyscalls(w io.Writer, rows []SyscallRow) {
	fmt.Fprintln(w, "=== Syscall Statistics ===")
	if len(rows) == 0 {
		fmt.Fprintln(w, "No syscalls recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCOUNT\tTOTAL(ns)\tAVG(ns)\tMAX(ns)\tMIN(ns)\tTIME(%)")
	for _, row := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%.1f\n",
			row.ID, row.Name, row.Count, row.TotalNs, row.AvgNs, row.MaxNs, row.MinNs, row.Share)
	}
	tw.Flush()
}

// WriteLocks renders the lock contention table and its summary lines.
func WriteLocks(w io.Writer, rows []LockRow) {
	fmt.Fprintln(w, "=== Lock Contention Statistics ===")
	if len(rows) == 0 {
		fmt.Fprintln(w, "No lock contention events recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCK ADDRESS\tCONTENTION COUNT\tAVG WAIT (us)\tMAX WAITERS\tDIAG")
	for _, row := range rows {
		fmt.Fprintf(tw, "0x%x\t%d\t%d\t%d\t%s\n", row.Addr, row.Contention, row.AvgWaitUs, row.MaxWaiters, row.Diagnosis)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nTotal locks monitored: %d\n", len(rows))
	fmt.Fprintf(w, "High contention locks: %d\n", HighContentionCount(rows))
	if focus := SelectFocusLock(rows); focus != nil {
		fmt.Fprintf(w, "[!] Focus: lock 0x%x\n", focus.Addr)
		fmt.Fprintf(w, "   Reason: %s - %s\n", focus.Diagnosis, FocusSummary(*focus))
	}
}

// WriteFalseSharing renders suspected false-sharing lines.
func WriteFalseSharing(w io.Writer, rows []SharingRow) {
	fmt.Fprintln(w, "=== False Sharing Analysis ===")
	if len(rows) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CACHE LINE\tACCESSES\tCPUS")
		for _, row := range rows {
			fmt.Fprintf(tw, "0x%x\t%d\t%d\n", row.LineAddr, row.AccessCount, row.CPUs)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, FalseSharingSummary(len(rows)))
}
