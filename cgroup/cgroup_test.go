package cgroup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/splittun/procfs"
)

func newTasksFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cgroup.procs")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

func readWrites(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func TestAddPidToCgroupRecursesIntoDescendants(t *testing.T) {
	probe := procfs.NewFakeProbe()
	probe.AddProcess(3000, "/usr/bin/foo", 1)
	probe.AddProcess(3001, "/bin/bash", 3000)

	tasks := newTasksFile(t)
	w := New(probe)
	w.AddPidToCgroup(3000, tasks)

	// We append-write per pid, so both show up in the file even though
	// writing to a real cgroup.procs file is idempotent per line.
	written := readWrites(t, tasks)
	require.Contains(t, written, "3000")
	require.Contains(t, written, "3001")
}

func TestAddPidToCgroupMissingFileIsSwallowed(t *testing.T) {
	probe := procfs.NewFakeProbe()
	w := New(probe)
	// Must not panic even though the path doesn't exist.
	w.AddPidToCgroup(1234, filepath.Join(t.TempDir(), "missing", "cgroup.procs"))
}

func TestRemovePidFromCgroupWritesToParent(t *testing.T) {
	probe := procfs.NewFakeProbe()
	probe.AddProcess(5, "/usr/bin/foo", 1)

	parent := newTasksFile(t)
	w := New(probe)
	w.RemovePidFromCgroup(5, parent)

	require.Contains(t, readWrites(t, parent), "5")
}
