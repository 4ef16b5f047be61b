package firewall

import (
	"context"

	"github.com/kestrelnet/splittun/log"
)

// UpdateRoutes installs a default route into each policy routing table via
// `ip route replace`, not `ip route add`, so the operation is idempotent
// (spec.md §4.3). Each table is only touched when its inputs are
// non-empty; otherwise the existing route is left in place (bypass) or
// simply absent (vpn-only). The Reconciler keeps vpn-only processes in
// their cgroup whatever the tunnel state, so while the vpn-only route is
// absent those processes have no route out.
func (c *Controller) UpdateRoutes(ctx context.Context, gatewayIP, physicalIface, tunnelIface, tunnelRemote string) {
	if gatewayIP == "" || physicalIface == "" {
		log.Infof("firewall: not updating bypass route - configuration not known - gateway:%q iface:%q", gatewayIP, physicalIface)
	} else {
		if _, err := c.Shell.Run(ctx, "ip", "route", "replace", "default", "via", gatewayIP, "dev", physicalIface, "table", c.Tables.Bypass); err != nil {
			log.Warnf("firewall: replace bypass route: %v", err)
		}
	}

	if tunnelRemote == "" || tunnelIface == "" {
		log.Warnf("firewall: tunnel configuration not known yet, can't configure vpn-only route - remote:%q iface:%q", tunnelRemote, tunnelIface)
	} else {
		if _, err := c.Shell.Run(ctx, "ip", "route", "replace", "default", "via", tunnelRemote, "dev", tunnelIface, "table", c.Tables.VpnOnly); err != nil {
			log.Warnf("firewall: replace vpn-only route: %v", err)
		}
	}

	if _, err := c.Shell.Run(ctx, "ip", "route", "flush", "cache"); err != nil {
		log.Warnf("firewall: flush route cache: %v", err)
	}
}
