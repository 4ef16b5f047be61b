package firewall

import (
	"context"
	"strconv"

	"github.com/kestrelnet/splittun/log"
)

// AddRoutingPolicyForSourceIp binds ipAddress to table at Priority. An
// empty address is a no-op (spec.md §4.3).
func (c *Controller) AddRoutingPolicyForSourceIp(ctx context.Context, ipAddress, table string) {
	if ipAddress == "" {
		return
	}
	if _, err := c.Shell.Run(ctx, "ip", "rule", "add", "from", ipAddress, "lookup", table, "pri", strconv.Itoa(c.Priority)); err != nil {
		log.Warnf("firewall: add source-ip rule for %s -> %s: %v", ipAddress, table, err)
	}
}

// RemoveRoutingPolicyForSourceIp is the symmetric removal. Called before
// AddRoutingPolicyForSourceIp whenever an address changes, so that at most
// one rule exists per (address, table) pair at rest (spec.md §5, §8
// invariant 4).
func (c *Controller) RemoveRoutingPolicyForSourceIp(ctx context.Context, ipAddress, table string) {
	if ipAddress == "" {
		return
	}
	if _, err := c.Shell.Run(ctx, "ip", "rule", "del", "from", ipAddress, "lookup", table, "pri", strconv.Itoa(c.Priority)); err != nil {
		log.Warnf("firewall: remove source-ip rule for %s -> %s: %v", ipAddress, table, err)
	}
}
