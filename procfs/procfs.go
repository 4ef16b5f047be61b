// Package procfs implements stateless snapshot queries against /proc: it
// knows nothing about cgroups, routing, or the reconciler's maps — it only
// answers "what does /proc say right now". Every operation tolerates PIDs
// that disappear mid-enumeration; none of them ever return an error, since
// a vanished process is not a failure, it is the expected steady state of
// a live system (spec.md §4.1, §7 "benign races").
package procfs

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

const procRoot = "/proc"

// Prober is the read-only surface consumed by cgroup.Writer and
// splittun.Reconciler. Probe implements it against the real /proc;
// FakeProbe implements it against an in-memory fixture for tests.
type Prober interface {
	EnumeratePids() PidSet
	PathForPid(pid Pid) string
	ParentPidOf(pid Pid) (Pid, bool)
	DescendantsOf(pid Pid) PidSet
	PidsForPath(path string) PidSet
}

var (
	_ Prober = (*Probe)(nil)
)

// Pid is a process ID. It is a weak reference: the kernel may reap the
// process it names at any moment.
type Pid int

// PidSet is a plain set of PIDs.
type PidSet map[Pid]struct{}

func NewPidSet(pids ...Pid) PidSet {
	s := make(PidSet, len(pids))
	for _, p := range pids {
		s[p] = struct{}{}
	}
	return s
}

func (s PidSet) Add(p Pid)      { s[p] = struct{}{} }
func (s PidSet) Remove(p Pid)   { delete(s, p) }
func (s PidSet) Has(p Pid) bool { _, ok := s[p]; return ok }

func (s PidSet) Slice() []Pid {
	out := make([]Pid, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	return out
}

// Probe queries /proc. The zero value is ready to use; it is a struct
// rather than free functions so callers depend on Prober and tests can
// substitute FakeProbe (see fake.go), matching the way cgroup.Writer and
// shell.Executor are injected rather than global.
type Probe struct{}

// New returns a Probe reading the real /proc filesystem.
func New() *Probe { return &Probe{} }

// EnumeratePids lists numeric entries under /proc matching [1-9][0-9]*.
func (p *Probe) EnumeratePids() PidSet {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return PidSet{}
	}

	pids := make(PidSet, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if name == "" || name[0] < '1' || name[0] > '9' {
			continue
		}
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		pids.Add(Pid(n))
	}
	return pids
}

// PathForPid resolves the /proc/<pid>/exe symlink. It returns "" on any
// failure — permission denied, the process already reaped, or a kernel
// thread with no executable — per spec.md §4.1 "must not fail loudly".
func (p *Probe) PathForPid(pid Pid) string {
	link, err := os.Readlink(procRoot + "/" + strconv.Itoa(int(pid)) + "/exe")
	if err != nil {
		return ""
	}
	return link
}

// ParentPidOf reads /proc/<pid>/status and extracts the first integer
// following "PPid:\s+". It returns (0, false) on any failure.
func (p *Probe) ParentPidOf(pid Pid) (Pid, bool) {
	f, err := os.Open(procRoot + "/" + strconv.Itoa(int(pid)) + "/status")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "PPid:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, false
		}
		return Pid(n), true
	}
	return 0, false
}

// maxDescendantDepth bounds the recursion in DescendantsOf. Cycles are
// impossible in a correct /proc snapshot (spec.md §4.1), but a snapshot
// taken while processes are forking can be transiently inconsistent; this
// is a guard against that, not an expected limit in practice.
const maxDescendantDepth = 64

// DescendantsOf returns the transitive closure of children of pid under
// ParentPidOf: filter all PIDs whose parent equals pid, then recurse into
// each.
func (p *Probe) DescendantsOf(pid Pid) PidSet {
	all := p.EnumeratePids()
	out := PidSet{}
	p.collectDescendants(pid, all, out, 0)
	return out
}

func (p *Probe) collectDescendants(parent Pid, all, out PidSet, depth int) {
	if depth >= maxDescendantDepth {
		return
	}
	for pid := range all {
		if out.Has(pid) {
			continue
		}
		ppid, ok := p.ParentPidOf(pid)
		if !ok || ppid != parent {
			continue
		}
		out.Add(pid)
		p.collectDescendants(pid, all, out, depth+1)
	}
}

// PidsForPath returns every currently-alive PID whose /proc/<pid>/exe
// resolves to path. This is the initial-scan helper used by
// splittun.Reconciler.updateApps when a freshly-added rule needs to pick up
// processes that were already running (original: ProcFs::pidsForPath).
func (p *Probe) PidsForPath(path string) PidSet {
	out := PidSet{}
	for pid := range p.EnumeratePids() {
		if p.PathForPid(pid) == path {
			out.Add(pid)
		}
	}
	return out
}
