//go:build linux

package splittun

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/splittun/cgroup"
	"github.com/kestrelnet/splittun/firewall"
	"github.com/kestrelnet/splittun/netlinkconn"
	"github.com/kestrelnet/splittun/procfs"
	"github.com/kestrelnet/splittun/shell"
)

type testRig struct {
	r          *Reconciler
	probe      *procfs.FakeProbe
	anchor     *firewall.FakeAnchorCommitter
	sh         *shell.FakeExecutor
	source     *FakeEventSource
	exclusions string
	vpnOnly    string
	parent     string
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	probe := procfs.NewFakeProbe()
	anchor := firewall.NewFakeAnchorCommitter()
	sh := shell.NewFakeExecutor()
	fw := firewall.New(anchor, sh, firewall.TableNames{Bypass: "pia_bypass", VpnOnly: "pia_vpnOnly"}, firewall.AnchorNames{TagPackets: firewall.AnchorTagPackets, TranslateSrc: firewall.AnchorTranslateSrc}, 101)

	dir := t.TempDir()
	exclusions := filepath.Join(dir, "exclusions")
	vpnOnly := filepath.Join(dir, "vpnonly")
	parent := filepath.Join(dir, "parent")
	for _, p := range []string{exclusions, vpnOnly, parent} {
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	cg := cgroup.New(probe)
	r := New(probe, cg, fw, CgroupPaths{Exclusions: exclusions, VpnOnly: vpnOnly, Parent: parent})

	source := NewFakeEventSource()
	r.OpenListener = func() (ProcessEventSource, error) { return source, nil }

	return &testRig{r: r, probe: probe, anchor: anchor, sh: sh, source: source, exclusions: exclusions, vpnOnly: vpnOnly, parent: parent}
}

func readWrites(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func validScan() NetworkScan {
	return NetworkScan{InterfaceName: "eth0", IPAddress: "192.168.1.50", GatewayIP: "192.168.1.1"}
}

// Scenario 1: cold start, tunnel up, one excluded app already running.
func TestColdStartTracksAlreadyRunningExcludedApp(t *testing.T) {
	rig := newTestRig(t)
	rig.probe.AddProcess(1234, "/usr/bin/foo", 1)

	params := FirewallParams{NetworkScan: validScan(), ExcludeApps: []string{"/usr/bin/foo"}}
	tunnel := TunnelState{DeviceName: "tun0", LocalAddress: "10.64.0.5", RemoteAddress: "10.64.0.1"}

	err := rig.r.InitiateConnection(context.Background(), params, tunnel)
	require.NoError(t, err)

	require.Contains(t, readWrites(t, rig.exclusions), "1234")
	require.True(t, rig.sh.Contains("ip", "route", "replace", "default", "via", "192.168.1.1", "dev", "eth0", "table", "pia_bypass"))
	require.True(t, rig.sh.Contains("ip", "rule", "add", "from", "192.168.1.50", "lookup", "pia_bypass", "pri", "101"))
}

// Scenario 2: exec after connect.
func TestExecAfterConnectAddsToExclusionsCgroup(t *testing.T) {
	rig := newTestRig(t)
	params := FirewallParams{NetworkScan: validScan(), ExcludeApps: []string{"/usr/bin/foo"}}
	require.NoError(t, rig.r.InitiateConnection(context.Background(), params, TunnelState{}))

	rig.probe.AddProcess(2000, "/usr/bin/foo", 1)
	rig.source.Emit(netlinkconn.Event{Type: netlinkconn.EventExec, Pid: 2000})
	require.True(t, rig.r.HandleNextEvent(context.Background()))

	require.Contains(t, readWrites(t, rig.exclusions), "2000")
}

// Scenario 3: exit removes from every path set without touching cgroups.
func TestExitRemovesFromEveryPathSet(t *testing.T) {
	rig := newTestRig(t)
	params := FirewallParams{NetworkScan: validScan(), ExcludeApps: []string{"/usr/bin/foo"}}
	require.NoError(t, rig.r.InitiateConnection(context.Background(), params, TunnelState{}))

	rig.probe.AddProcess(2000, "/usr/bin/foo", 1)
	rig.source.Emit(netlinkconn.Event{Type: netlinkconn.EventExec, Pid: 2000})
	require.True(t, rig.r.HandleNextEvent(context.Background()))
	require.True(t, rig.r.exclusions.Pids("/usr/bin/foo").Has(2000))

	rig.probe.Exit(2000)
	rig.source.Emit(netlinkconn.Event{Type: netlinkconn.EventExit, Pid: 2000})
	require.True(t, rig.r.HandleNextEvent(context.Background()))

	require.False(t, rig.r.exclusions.Pids("/usr/bin/foo").Has(2000))
	require.False(t, rig.r.vpnOnly.Pids("/usr/bin/foo").Has(2000))
}

// Scenario 4: tunnel disconnect evicts excluded PIDs but retains vpn-only.
func TestDisconnectEvictsExclusionsButKeepsVpnOnly(t *testing.T) {
	rig := newTestRig(t)
	rig.probe.AddProcess(1234, "/usr/bin/foo", 1)
	rig.probe.AddProcess(5678, "/usr/bin/bar", 1)

	params := FirewallParams{
		NetworkScan: validScan(),
		ExcludeApps: []string{"/usr/bin/foo"},
		VpnOnlyApps: []string{"/usr/bin/bar"},
	}
	require.NoError(t, rig.r.InitiateConnection(context.Background(), params, TunnelState{}))
	require.Contains(t, readWrites(t, rig.exclusions), "1234")
	require.Contains(t, readWrites(t, rig.vpnOnly), "5678")

	disconnected := FirewallParams{
		NetworkScan: NetworkScan{},
		ExcludeApps: []string{"/usr/bin/foo"},
		VpnOnlyApps: []string{"/usr/bin/bar"},
	}
	rig.r.UpdateSplitTunnel(context.Background(), disconnected, TunnelState{})

	require.Contains(t, readWrites(t, rig.parent), "1234")
	require.Equal(t, 0, rig.r.exclusions.Len())
	require.True(t, rig.r.vpnOnly.Has("/usr/bin/bar"))
	require.True(t, rig.r.vpnOnly.Pids("/usr/bin/bar").Has(5678))
}

// Scenario 5: interface change updates masquerade anchor and bypass route.
func TestInterfaceChangeUpdatesMasqueradeAndBypassRoute(t *testing.T) {
	rig := newTestRig(t)
	params := FirewallParams{NetworkScan: NetworkScan{InterfaceName: "eth0", IPAddress: "192.168.1.50", GatewayIP: "192.168.1.1"}}
	require.NoError(t, rig.r.InitiateConnection(context.Background(), params, TunnelState{}))
	require.Equal(t, []string{"-o eth0 -j MASQUERADE", "-o tun+ -j MASQUERADE"}, rig.anchor.Rules[firewall.AnchorTranslateSrc])

	changed := FirewallParams{NetworkScan: NetworkScan{InterfaceName: "wlan0", IPAddress: "192.168.1.50", GatewayIP: "192.168.1.1"}}
	rig.r.UpdateSplitTunnel(context.Background(), changed, TunnelState{})

	require.Equal(t, []string{"-o wlan0 -j MASQUERADE", "-o tun+ -j MASQUERADE"}, rig.anchor.Rules[firewall.AnchorTranslateSrc])
	require.True(t, rig.sh.Contains("ip", "route", "replace", "default", "via", "192.168.1.1", "dev", "wlan0", "table", "pia_bypass"))
}

// Scenario 6: descendant capture — both the exec'd PID and its pre-existing
// child land in the exclusions cgroup.
func TestDescendantCaptureTracksChildProcesses(t *testing.T) {
	rig := newTestRig(t)
	rig.probe.AddProcess(3000, "/usr/bin/foo", 1)
	rig.probe.AddProcess(3001, "/bin/bash", 3000)

	params := FirewallParams{NetworkScan: validScan(), ExcludeApps: []string{"/usr/bin/foo"}}
	require.NoError(t, rig.r.InitiateConnection(context.Background(), params, TunnelState{}))

	written := readWrites(t, rig.exclusions)
	require.Contains(t, written, "3000")
	require.Contains(t, written, "3001")
}

func TestUpdateSplitTunnelIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	rig.probe.AddProcess(1234, "/usr/bin/foo", 1)
	params := FirewallParams{NetworkScan: validScan(), ExcludeApps: []string{"/usr/bin/foo"}}
	require.NoError(t, rig.r.InitiateConnection(context.Background(), params, TunnelState{}))

	before := len(readWrites(t, rig.exclusions))
	rig.r.UpdateSplitTunnel(context.Background(), params, TunnelState{})
	after := len(readWrites(t, rig.exclusions))
	require.Equal(t, before, after)
}

func TestShutdownConnectionClearsStateAndClosesSource(t *testing.T) {
	rig := newTestRig(t)
	rig.probe.AddProcess(1234, "/usr/bin/foo", 1)
	params := FirewallParams{NetworkScan: validScan(), ExcludeApps: []string{"/usr/bin/foo"}}
	require.NoError(t, rig.r.InitiateConnection(context.Background(), params, TunnelState{}))

	err := rig.r.ShutdownConnection(context.Background())
	require.NoError(t, err)

	require.True(t, rig.source.Closed)
	require.Nil(t, rig.r.Session())
	require.Contains(t, readWrites(t, rig.parent), "1234")
	require.False(t, rig.anchor.Enabled[firewall.AnchorTagPackets])
	require.False(t, rig.anchor.Enabled[firewall.AnchorTranslateSrc])
}
