package firewall

import (
	"context"

	"github.com/kestrelnet/splittun/log"
)

// EnableLooseRPFilter reads net.ipv4.conf.all.rp_filter; if it is not
// already loose (2), the old value is saved and the sysctl is set to 2.
// Packets from excluded apps leave via the physical interface using a
// source IP that differs from the tunnel's default route, and strict RPF
// would drop them (spec.md §4.3 GLOSSARY).
func (c *Controller) EnableLooseRPFilter(ctx context.Context) {
	out, err := c.Shell.Run(ctx, "sysctl", "-n", "net.ipv4.conf.all.rp_filter")
	if err != nil {
		log.Warnf("firewall: unable to read rp_filter, not saving old value: %v", err)
		c.savedRPFilter = ""
		c.rpFilterSaved = false
		return
	}

	if out == rpFilterLoose {
		log.Infof("firewall: rp_filter already loose (2); nothing to do")
		return
	}

	log.Infof("firewall: storing old rp_filter value %q, setting loose", out)
	c.savedRPFilter = out
	c.rpFilterSaved = true
	if _, err := c.Shell.Run(ctx, "sysctl", "-w", "net.ipv4.conf.all.rp_filter="+rpFilterLoose); err != nil {
		log.Warnf("firewall: set rp_filter loose: %v", err)
	}
}

// RestoreRPFilter writes back the saved value verbatim, if one was saved.
// Per spec.md §9 Open Question, this overwrite is intentional even if the
// system value changed out-of-band during the session.
func (c *Controller) RestoreRPFilter(ctx context.Context) {
	if !c.rpFilterSaved || c.savedRPFilter == "" {
		return
	}
	log.Infof("firewall: restoring rp_filter to %q", c.savedRPFilter)
	if _, err := c.Shell.Run(ctx, "sysctl", "-w", "net.ipv4.conf.all.rp_filter="+c.savedRPFilter); err != nil {
		log.Warnf("firewall: restore rp_filter: %v", err)
	}
	c.savedRPFilter = ""
	c.rpFilterSaved = false
}
