package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/kestrelnet/splittun/cgroup"
	"github.com/kestrelnet/splittun/config"
	"github.com/kestrelnet/splittun/firewall"
	"github.com/kestrelnet/splittun/log"
	"github.com/kestrelnet/splittun/procfs"
	"github.com/kestrelnet/splittun/shell"
	"github.com/kestrelnet/splittun/splittun"
)

func main() {
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...any) {}))

	log.Debug("starting new instance")

	configFile := os.Getenv("SPLITTUND_CONFIG")
	var cfg *config.Config
	if configFile == "" {
		log.Info("SPLITTUND_CONFIG not set, using defaults")
		cfg = config.New()
	} else {
		loaded, err := config.Init(configFile)
		if err != nil {
			log.Fatalf("load config %s: %v", configFile, err)
		}
		cfg = loaded
	}
	log.SetLevel(cfg.LogLevel)

	rec := newReconciler(cfg)

	if configFile != "" {
		stop, err := config.Watch(configFile, func(updated *config.Config) {
			log.SetLevel(updated.LogLevel)
			log.Infof("config reloaded from %s", configFile)
		})
		if err != nil {
			log.Warnf("watch config %s: %v", configFile, err)
		} else {
			defer stop()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	// No network scan or app rules are known yet at startup — those arrive
	// later from the VPN tunnel manager and the user-facing daemon, both
	// out of scope here (spec.md §1). Starting the session anyway with an
	// invalid scan brings up the netlink listener and the stable
	// packet-tagging anchor immediately, per initiateConnection's own
	// handling of a disconnected steady state.
	if err := rec.InitiateConnection(ctx, splittun.FirewallParams{}, splittun.TunnelState{}); err != nil {
		log.Warnf("initiate connection: %v", err)
	} else {
		runEventLoop(ctx, rec)
	}

	if err := rec.ShutdownConnection(context.Background()); err != nil {
		log.Warnf("shutdown: %v", err)
	}
}

// newReconciler wires the ProcFS Probe, Cgroup Writer, and Rule Controller
// into a Reconciler per the daemon's loaded configuration (spec.md §2
// "Downstream signals flow: daemon -> Reconciler -> {Rule Controller,
// Cgroup Writer}").
func newReconciler(cfg *config.Config) *splittun.Reconciler {
	probe := procfs.New()
	cg := cgroup.New(probe)
	fw := firewall.New(
		firewall.LoggingAnchorCommitter{},
		shell.OSExecutor{},
		firewall.TableNames{Bypass: cfg.Routing.BypassTable, VpnOnly: cfg.Routing.VpnOnlyTable},
		firewall.AnchorNames{TagPackets: cfg.Anchor.TagPackets, TranslateSrc: cfg.Anchor.TranslateSrc},
		cfg.Routing.Priority,
	)
	return splittun.New(probe, cg, fw, splittun.CgroupPaths{
		Exclusions: cfg.Cgroup.ExclusionsTasks,
		VpnOnly:    cfg.Cgroup.VpnOnlyTasks,
		Parent:     cfg.Cgroup.ParentTasks,
	})
}

// runEventLoop drives the Reconciler's netlink subscription until ctx is
// canceled. It is intentionally minimal: initiateConnection/
// updateSplitTunnel are expected to be invoked by whatever surrounding
// component (out of scope per spec.md §1) delivers VPN state transitions;
// this loop only pumps process lifecycle events, one per readiness edge
// (spec.md §4.4).
func runEventLoop(ctx context.Context, rec *splittun.Reconciler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !rec.HandleNextEvent(ctx) {
			return
		}
	}
}
