//go:build linux

package splittun

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/kestrelnet/splittun/cgroup"
	"github.com/kestrelnet/splittun/common/observable"
	"github.com/kestrelnet/splittun/firewall"
	"github.com/kestrelnet/splittun/log"
	"github.com/kestrelnet/splittun/netlinkconn"
	"github.com/kestrelnet/splittun/procfs"
)

// ProcessEventSource is the subset of netlinkconn.Listener the Reconciler
// depends on. *netlinkconn.Listener satisfies it directly; tests substitute
// FakeEventSource so initiateConnection never opens a real socket.
type ProcessEventSource interface {
	Events() (observable.Subscription[netlinkconn.Event], error)
	Close() error
}

// CgroupPaths names the three cgroup tasks files the Reconciler writes PIDs
// to. It mirrors config.CgroupPaths without importing config, matching the
// decoupling firewall.TableNames/firewall.AnchorNames already follow.
type CgroupPaths struct {
	Exclusions string
	VpnOnly    string
	Parent     string
}

// Session is the per-connection state spec.md §3 describes: the open
// netlink subscription plus whatever "previous" fields a session tears
// down on shutdownConnection. The previous network scan and tunnel-local
// address live on Reconciler itself (they persist across
// updateSplitTunnel calls within one session); Session only owns the
// socket-shaped resource.
type Session struct {
	ID     uuid.UUID
	source ProcessEventSource
	sub    observable.Subscription[netlinkconn.Event]
}

// Reconciler is the Split-Tunnel Reconciler of spec.md §4.5, the central
// state machine tying the ProcFS Probe, Cgroup Writer, Rule Controller, and
// Process Event Listener together. It is effectively a singleton owned by
// the daemon (spec.md §9 "Global state") — model it as a value with
// explicit lifecycle methods, not a package-global.
type Reconciler struct {
	Probe    procfs.Prober
	Cgroup   *cgroup.Writer
	Firewall *firewall.Controller
	Cgroups  CgroupPaths

	// OpenListener opens the process event source for a new session. It
	// defaults to a real netlink connector; tests override it to avoid
	// touching the kernel.
	OpenListener func() (ProcessEventSource, error)

	exclusions  TrackedAppMap
	vpnOnly     TrackedAppMap
	scan        NetworkScan
	tunnelLocal string
	session     *Session
}

// New returns a Reconciler with no active session and empty app maps.
func New(probe procfs.Prober, cg *cgroup.Writer, fw *firewall.Controller, cgroups CgroupPaths) *Reconciler {
	return &Reconciler{
		Probe:        probe,
		Cgroup:       cg,
		Firewall:     fw,
		Cgroups:      cgroups,
		OpenListener: func() (ProcessEventSource, error) { return netlinkconn.Open() },
		exclusions:   NewTrackedAppMap(),
		vpnOnly:      NewTrackedAppMap(),
	}
}

// Session returns the active session, or nil if idle.
func (r *Reconciler) Session() *Session { return r.session }

// InitiateConnection starts a new session (spec.md §4.5 initiateConnection).
// If one is already active it is fully torn down first. On any failure to
// open/subscribe the netlink socket, the Reconciler's state is left
// untouched and the error is returned.
func (r *Reconciler) InitiateConnection(ctx context.Context, params FirewallParams, tunnel TunnelState) error {
	if r.session != nil {
		_ = r.ShutdownConnection(ctx)
	}

	source, err := r.OpenListener()
	if err != nil {
		return err
	}
	sub, err := source.Events()
	if err != nil {
		_ = source.Close()
		return err
	}

	id, _ := uuid.NewV4()
	log.Infof("splittun: starting session %s", id)
	r.session = &Session{ID: id, source: source, sub: sub}

	r.Firewall.SetupFirewall()
	r.UpdateSplitTunnel(ctx, params, tunnel)
	r.Firewall.EnableLooseRPFilter(ctx)
	return nil
}

// UpdateSplitTunnel reconfigures an active session (spec.md §4.5
// updateSplitTunnel): network state first, then app reconciliation, since
// updateApps's gating depends on whether the new scan is valid.
func (r *Reconciler) UpdateSplitTunnel(ctx context.Context, params FirewallParams, tunnel TunnelState) {
	r.updateNetwork(ctx, params.NetworkScan, tunnel)
	r.updateApps(params.ExcludeApps, params.VpnOnlyApps)
}

func (r *Reconciler) updateNetwork(ctx context.Context, scan NetworkScan, tunnel TunnelState) {
	prevScan := r.scan
	prevTunnelLocal := r.tunnelLocal

	if scan.InterfaceName != prevScan.InterfaceName {
		r.Firewall.UpdateMasquerade(scan.InterfaceName)
	}
	if scan.IPAddress != prevScan.IPAddress {
		r.Firewall.RemoveRoutingPolicyForSourceIp(ctx, prevScan.IPAddress, r.Firewall.Tables.Bypass)
		r.Firewall.AddRoutingPolicyForSourceIp(ctx, scan.IPAddress, r.Firewall.Tables.Bypass)
	}
	if tunnel.LocalAddress != prevTunnelLocal {
		r.Firewall.RemoveRoutingPolicyForSourceIp(ctx, prevTunnelLocal, r.Firewall.Tables.VpnOnly)
		r.Firewall.AddRoutingPolicyForSourceIp(ctx, tunnel.LocalAddress, r.Firewall.Tables.VpnOnly)
	}

	r.Firewall.UpdateRoutes(ctx, scan.GatewayIP, scan.InterfaceName, tunnel.DeviceName, tunnel.RemoteAddress)

	r.scan = scan
	r.tunnelLocal = tunnel.LocalAddress
}

func (r *Reconciler) updateApps(excludeApps, vpnOnlyApps []string) {
	effectiveExclude := excludeApps
	if !r.scan.Valid() {
		effectiveExclude = nil
	}
	r.reconcileMap(&r.exclusions, effectiveExclude, r.Cgroups.Exclusions)
	r.reconcileMap(&r.vpnOnly, vpnOnlyApps, r.Cgroups.VpnOnly)
}

// reconcileMap brings tracked in line with desired: paths no longer
// desired are evicted (their PIDs written back to the parent cgroup and
// the entry dropped); paths newly desired are seeded from a fresh /proc
// scan. Re-running with unchanged inputs is a no-op (spec.md §4.5
// "Idempotence"), since lo.Difference against identical slices yields
// nothing on either side.
func (r *Reconciler) reconcileMap(tracked *TrackedAppMap, desired []string, cgroupPath string) {
	removed, added := lo.Difference(tracked.Paths(), desired)

	for _, path := range removed {
		log.Infof("splittun: removing app %s, evicting pids %v", path, tracked.Pids(path).Slice())
		for pid := range tracked.Delete(path) {
			r.Cgroup.RemovePidFromCgroup(pid, r.Cgroups.Parent)
		}
	}

	for _, path := range added {
		log.Infof("splittun: adding app %s", path)
		pids := tracked.Ensure(path)
		for pid := range r.Probe.PidsForPath(path) {
			pids.Add(pid)
			r.Cgroup.AddPidToCgroup(pid, cgroupPath)
		}
	}
}

// AddLaunchedApp handles PROC_EVENT_EXEC (spec.md §4.5 addLaunchedApp).
func (r *Reconciler) AddLaunchedApp(pid procfs.Pid) {
	path := r.Probe.PathForPid(pid)
	if path == "" {
		return
	}

	switch {
	case r.exclusions.Has(path) && r.scan.Valid():
		r.exclusions.Ensure(path).Add(pid)
		r.Cgroup.AddPidToCgroup(pid, r.Cgroups.Exclusions)
	case r.vpnOnly.Has(path):
		r.vpnOnly.Ensure(path).Add(pid)
		r.Cgroup.AddPidToCgroup(pid, r.Cgroups.VpnOnly)
	}
}

// RemoveTerminatedApp handles PROC_EVENT_EXIT (spec.md §4.5
// removeTerminatedApp). It scans both maps regardless of which one pid
// actually belongs to (spec.md §9 Open Question) — the PID can only ever
// be in one, so the extra scan is harmless and avoids having to know which
// map to look in.
func (r *Reconciler) RemoveTerminatedApp(pid procfs.Pid) {
	r.exclusions.RemovePidEverywhere(pid)
	r.vpnOnly.RemovePidEverywhere(pid)
}

// ShutdownConnection reverses InitiateConnection (spec.md §4.5
// shutdownConnection): disables the read notifier, unsubscribes, closes the
// socket, tears down firewall anchors, evicts every tracked PID back to
// the parent cgroup, deletes both source-IP rules, restores rp_filter, and
// clears previous-state fields. A no-op if no session is active.
func (r *Reconciler) ShutdownConnection(ctx context.Context) error {
	if r.session == nil {
		return nil
	}

	var errs error
	if err := r.session.source.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	r.session = nil

	r.Firewall.TeardownFirewall()
	r.evictAll(&r.exclusions)
	r.evictAll(&r.vpnOnly)

	r.Firewall.RemoveRoutingPolicyForSourceIp(ctx, r.scan.IPAddress, r.Firewall.Tables.Bypass)
	r.Firewall.RemoveRoutingPolicyForSourceIp(ctx, r.tunnelLocal, r.Firewall.Tables.VpnOnly)
	r.Firewall.RestoreRPFilter(ctx)

	r.scan = NetworkScan{}
	r.tunnelLocal = ""
	return errs
}

func (r *Reconciler) evictAll(tracked *TrackedAppMap) {
	for _, path := range tracked.Paths() {
		for pid := range tracked.Delete(path) {
			r.Cgroup.RemovePidFromCgroup(pid, r.Cgroups.Parent)
		}
	}
}

// HandleNextEvent consumes exactly one process event from the active
// session and dispatches it (spec.md §4.4 "exactly one message is consumed
// per readiness edge"). It returns false if there is no active session, the
// subscription closed, or ctx was canceled while waiting — the daemon's
// event loop is expected to call this in a loop alongside its other work.
func (r *Reconciler) HandleNextEvent(ctx context.Context) bool {
	if r.session == nil {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case ev, ok := <-r.session.sub:
		if !ok {
			return false
		}
		switch ev.Type {
		case netlinkconn.EventExec:
			r.AddLaunchedApp(procfs.Pid(ev.Pid))
		case netlinkconn.EventExit:
			r.RemoveTerminatedApp(procfs.Pid(ev.Pid))
		}
		return true
	}
}
