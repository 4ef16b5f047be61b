// Package cgroup writes PIDs into (and out of) cgroup tasks files. A PID
// can only exist in one cgroup in a given hierarchy, so "removing" it from
// a specialized cgroup is really writing it to the parent/default cgroup,
// which the kernel interprets as a transfer (spec.md §4.2, §9). This quirk
// of the cgroup v1 net_cls model is carried over literally, not abstracted
// away.
package cgroup

import (
	"os"
	"strconv"

	"github.com/kestrelnet/splittun/log"
	"github.com/kestrelnet/splittun/procfs"
)

// Writer writes PIDs to cgroup tasks files. It holds no state of its own;
// it is a struct rather than free functions purely so tests can hand it a
// FakeProbe (see Probe below) without touching a real /proc or cgroupfs.
type Writer struct {
	Probe procfs.Prober
}

// New returns a Writer that resolves descendants against probe.
func New(probe procfs.Prober) *Writer {
	return &Writer{Probe: probe}
}

// AddPidToCgroup writes pid into the tasks file at cgroupPath, then
// recursively applies to every descendant PID observed in /proc. The
// recursion exists because PROC_EVENT_EXEC is only delivered for the
// exec'd PID; children forked before our rule was created (e.g. during the
// initial scan) are otherwise invisible (spec.md §4.2, §9).
func (w *Writer) AddPidToCgroup(pid procfs.Pid, cgroupPath string) {
	writePidToCgroupFile(pid, cgroupPath)
	for child := range w.Probe.DescendantsOf(pid) {
		w.AddPidToCgroup(child, cgroupPath)
	}
}

// RemovePidFromCgroup writes pid into parentCgroupPath — the kernel
// interprets this as removing it from whatever specialized cgroup it was
// in — then recurses into descendants symmetrically with AddPidToCgroup.
func (w *Writer) RemovePidFromCgroup(pid procfs.Pid, parentCgroupPath string) {
	writePidToCgroupFile(pid, parentCgroupPath)
	for child := range w.Probe.DescendantsOf(pid) {
		w.RemovePidFromCgroup(child, parentCgroupPath)
	}
}

// writePidToCgroupFile writes pid as decimal ASCII to cgroupPath. Failure
// to open or write is logged and swallowed (spec.md §4.2, §7): an
// already-exited PID produces ESRCH or similar, which is not worth
// surfacing to the caller since the next reconciliation pass recomputes
// everything from /proc anyway.
func writePidToCgroupFile(pid procfs.Pid, cgroupPath string) {
	f, err := os.OpenFile(cgroupPath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		log.Debugf("cgroup: open %s for pid %d: %v", cgroupPath, pid, err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(int(pid)) + "\n"); err != nil {
		log.Debugf("cgroup: write pid %d to %s: %v", pid, cgroupPath, err)
	}
}
