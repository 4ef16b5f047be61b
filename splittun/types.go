// Package splittun implements the Split-Tunnel Reconciler (spec.md §4.5):
// the central state machine that owns the exclusions and vpn-only app maps,
// the last observed network scan, and the previous tunnel local address,
// and that drives cgroup.Writer and firewall.Controller in response to VPN
// state transitions and process lifecycle events.
package splittun

import "github.com/kestrelnet/splittun/procfs"

// TrackedAppMap is path -> set of live PIDs. Per spec.md §9 "Polymorphic
// map values", the exclusions map and the vpn-only map are two instances
// of this one type, distinguished only by which cgroup path and gating
// condition the Reconciler applies to them — never by a type hierarchy.
//
// Insertion order of paths is preserved alongside the map, since
// FirewallParams.ExcludeApps/VpnOnlyApps are documented as ordered
// sequences (spec.md §6) and a deterministic iteration order keeps
// reconciliation logs and test assertions reproducible across runs.
type TrackedAppMap struct {
	paths []string
	pids  map[string]procfs.PidSet
}

func NewTrackedAppMap() TrackedAppMap {
	return TrackedAppMap{pids: map[string]procfs.PidSet{}}
}

// Paths returns the tracked paths in insertion order.
func (m TrackedAppMap) Paths() []string {
	return append([]string(nil), m.paths...)
}

// Len reports how many paths are tracked.
func (m TrackedAppMap) Len() int {
	return len(m.paths)
}

// Has reports whether path is already tracked.
func (m TrackedAppMap) Has(path string) bool {
	_, ok := m.pids[path]
	return ok
}

// Pids returns the PID set tracked for path, or nil if path is untracked.
func (m TrackedAppMap) Pids(path string) procfs.PidSet {
	return m.pids[path]
}

// Ensure returns the PID set for path, creating an empty one and
// appending path to the insertion-order slice if it was absent.
func (m *TrackedAppMap) Ensure(path string) procfs.PidSet {
	if pids, ok := m.pids[path]; ok {
		return pids
	}
	pids := procfs.PidSet{}
	m.pids[path] = pids
	m.paths = append(m.paths, path)
	return pids
}

// Delete removes path and returns whatever PID set it had, preserving the
// relative order of the remaining paths.
func (m *TrackedAppMap) Delete(path string) procfs.PidSet {
	pids, ok := m.pids[path]
	if !ok {
		return nil
	}
	delete(m.pids, path)
	for i, p := range m.paths {
		if p == path {
			m.paths = append(m.paths[:i], m.paths[i+1:]...)
			break
		}
	}
	return pids
}

// RemovePidEverywhere deletes pid from every path's PID set. This is the
// forgiving double-map-scan behavior of removeTerminatedApp (spec.md §9
// Open Question): callers invoke it on both maps rather than looking up
// which one pid actually belongs to.
func (m TrackedAppMap) RemovePidEverywhere(pid procfs.Pid) {
	for _, pids := range m.pids {
		pids.Remove(pid)
	}
}

// NetworkScan is the current best information about the physical uplink
// (spec.md §3), supplied externally by a network monitor. The zero value
// is invalid.
type NetworkScan struct {
	InterfaceName string
	IPAddress     string
	GatewayIP     string
}

// Valid reports whether all three fields are populated (spec.md §3).
func (s NetworkScan) Valid() bool {
	return s.InterfaceName != "" && s.IPAddress != "" && s.GatewayIP != ""
}

// TunnelState is the tunnel manager's current view of the tunnel device
// (spec.md §3); fields may be partially empty while (re)connecting.
type TunnelState struct {
	DeviceName    string
	LocalAddress  string
	RemoteAddress string
}

// FirewallParams bundles everything initiateConnection/updateSplitTunnel
// need about the outside world in one call (spec.md §6).
type FirewallParams struct {
	NetworkScan NetworkScan
	ExcludeApps []string
	VpnOnlyApps []string
}
