package procfs

// FakeProbe is an in-memory stand-in for /proc, used by cgroup/firewall/
// splittun tests so they never touch the real filesystem. It implements
// the same read-only Prober interface as Probe.
type FakeProbe struct {
	// Exe maps pid -> executable path. A pid absent from this map behaves
	// as if it does not exist.
	Exe map[Pid]string
	// Parent maps pid -> parent pid.
	Parent map[Pid]Pid
}

var _ Prober = (*FakeProbe)(nil)

func NewFakeProbe() *FakeProbe {
	return &FakeProbe{Exe: map[Pid]string{}, Parent: map[Pid]Pid{}}
}

func (f *FakeProbe) AddProcess(pid Pid, exe string, parent Pid) {
	f.Exe[pid] = exe
	if parent != 0 {
		f.Parent[pid] = parent
	}
}

func (f *FakeProbe) Exit(pid Pid) {
	delete(f.Exe, pid)
	delete(f.Parent, pid)
}

func (f *FakeProbe) EnumeratePids() PidSet {
	out := make(PidSet, len(f.Exe))
	for pid := range f.Exe {
		out.Add(pid)
	}
	return out
}

func (f *FakeProbe) PathForPid(pid Pid) string {
	return f.Exe[pid]
}

func (f *FakeProbe) ParentPidOf(pid Pid) (Pid, bool) {
	ppid, ok := f.Parent[pid]
	return ppid, ok
}

func (f *FakeProbe) DescendantsOf(pid Pid) PidSet {
	out := PidSet{}
	f.collectDescendants(pid, out, 0)
	return out
}

func (f *FakeProbe) collectDescendants(parent Pid, out PidSet, depth int) {
	if depth >= maxDescendantDepth {
		return
	}
	for pid, ppid := range f.Parent {
		if ppid != parent || out.Has(pid) {
			continue
		}
		out.Add(pid)
		f.collectDescendants(pid, out, depth+1)
	}
}

func (f *FakeProbe) PidsForPath(path string) PidSet {
	out := PidSet{}
	for pid, exe := range f.Exe {
		if exe == path {
			out.Add(pid)
		}
	}
	return out
}
