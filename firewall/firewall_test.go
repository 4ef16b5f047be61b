package firewall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/splittun/shell"
)

func newTestController() (*Controller, *FakeAnchorCommitter, *shell.FakeExecutor) {
	anchor := NewFakeAnchorCommitter()
	sh := shell.NewFakeExecutor()
	c := New(anchor, sh, TableNames{Bypass: "pia_bypass", VpnOnly: "pia_vpnOnly"}, AnchorNames{TagPackets: AnchorTagPackets, TranslateSrc: AnchorTranslateSrc}, 0)
	return c, anchor, sh
}

func TestSetupFirewallEnablesBothAnchors(t *testing.T) {
	c, anchor, _ := newTestController()
	c.SetupFirewall()
	require.True(t, anchor.Enabled[AnchorTagPackets])
	require.True(t, anchor.Enabled[AnchorTranslateSrc])
}

func TestTeardownFirewallDisablesBothAnchors(t *testing.T) {
	c, anchor, _ := newTestController()
	c.SetupFirewall()
	c.TeardownFirewall()
	require.False(t, anchor.Enabled[AnchorTagPackets])
	require.False(t, anchor.Enabled[AnchorTranslateSrc])
}

func TestUpdateMasqueradeEmptyIfaceClearsAnchor(t *testing.T) {
	c, anchor, _ := newTestController()
	c.UpdateMasquerade("eth0")
	require.Len(t, anchor.Rules[AnchorTranslateSrc], 2)

	c.UpdateMasquerade("")
	require.Empty(t, anchor.Rules[AnchorTranslateSrc])
}

func TestUpdateMasqueradeInstallsBothRules(t *testing.T) {
	c, anchor, _ := newTestController()
	c.UpdateMasquerade("wlan0")
	require.Equal(t, []string{"-o wlan0 -j MASQUERADE", "-o tun+ -j MASQUERADE"}, anchor.Rules[AnchorTranslateSrc])
}

func TestUpdateRoutesSkipsEmptyBypassInputs(t *testing.T) {
	c, _, sh := newTestController()
	c.UpdateRoutes(context.Background(), "", "", "tun0", "10.64.0.1")
	require.False(t, sh.Contains("ip", "route", "replace", "default", "via", "", "dev", "", "table", "pia_bypass"))
	require.True(t, sh.Contains("ip", "route", "replace", "default", "via", "10.64.0.1", "dev", "tun0", "table", "pia_vpnOnly"))
	require.True(t, sh.Contains("ip", "route", "flush", "cache"))
}

func TestUpdateRoutesReplacesBothTables(t *testing.T) {
	c, _, sh := newTestController()
	c.UpdateRoutes(context.Background(), "192.168.1.1", "eth0", "tun0", "10.64.0.1")
	require.True(t, sh.Contains("ip", "route", "replace", "default", "via", "192.168.1.1", "dev", "eth0", "table", "pia_bypass"))
	require.True(t, sh.Contains("ip", "route", "replace", "default", "via", "10.64.0.1", "dev", "tun0", "table", "pia_vpnOnly"))
}

func TestSourceIpRuleAddRemoveAreNoOpOnEmptyAddress(t *testing.T) {
	c, _, sh := newTestController()
	c.AddRoutingPolicyForSourceIp(context.Background(), "", "pia_bypass")
	c.RemoveRoutingPolicyForSourceIp(context.Background(), "", "pia_bypass")
	require.Empty(t, sh.Invocations)
}

func TestSourceIpRuleUsesConfiguredPriority(t *testing.T) {
	anchor := NewFakeAnchorCommitter()
	sh := shell.NewFakeExecutor()
	c := New(anchor, sh, TableNames{Bypass: "pia_bypass", VpnOnly: "pia_vpnOnly"}, AnchorNames{}, 200)
	c.AddRoutingPolicyForSourceIp(context.Background(), "10.0.0.5", "pia_bypass")
	require.True(t, sh.Contains("ip", "rule", "add", "from", "10.0.0.5", "lookup", "pia_bypass", "pri", "200"))
}

func TestRPFilterSavesAndRestoresOldValue(t *testing.T) {
	c, _, sh := newTestController()
	sh.Outputs[invocationKey("sysctl", "-n", "net.ipv4.conf.all.rp_filter")] = "1"

	c.EnableLooseRPFilter(context.Background())
	require.True(t, sh.Contains("sysctl", "-w", "net.ipv4.conf.all.rp_filter=2"))

	c.RestoreRPFilter(context.Background())
	require.True(t, sh.Contains("sysctl", "-w", "net.ipv4.conf.all.rp_filter=1"))
}

func TestRPFilterAlreadyLooseSkipsRestore(t *testing.T) {
	c, _, sh := newTestController()
	sh.Outputs[invocationKey("sysctl", "-n", "net.ipv4.conf.all.rp_filter")] = "2"

	c.EnableLooseRPFilter(context.Background())
	require.False(t, sh.Contains("sysctl", "-w", "net.ipv4.conf.all.rp_filter=2"))

	sh.Invocations = nil
	c.RestoreRPFilter(context.Background())
	require.Empty(t, sh.Invocations)
}

func invocationKey(name string, args ...string) string {
	return shell.Invocation{Name: name, Args: args}.String()
}
