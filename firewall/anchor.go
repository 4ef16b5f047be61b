package firewall

import (
	"github.com/kestrelnet/splittun/log"
	"github.com/kestrelnet/splittun/shell"
)

// AnchorCommitter is the external netfilter anchor-replace facility
// (spec.md §6): a named, replaceable slot within the daemon's ruleset,
// committed atomically from netfilter's viewpoint. This repository
// consumes it; it is implemented by the surrounding daemon.
type AnchorCommitter interface {
	SetAnchorEnabled(dir Direction, name string, enabled bool, table Table) error
	ReplaceAnchor(dir Direction, name string, rules []string, table Table) error
}

// Controller owns the four pieces of out-of-process state described in
// spec.md §4.3: the masquerade anchor, the two policy-routing tables, the
// source-IP rules binding an address to a table, and the rp_filter mode.
type Controller struct {
	Anchor   AnchorCommitter
	Shell    shell.Executor
	Tables   TableNames
	Anchors  AnchorNames
	Priority int

	savedRPFilter string
	rpFilterSaved bool
}

// TableNames and AnchorNames mirror config.RoutingNames/config.AnchorNames
// without importing the config package, so firewall has no dependency on
// how the daemon loads its configuration.
type TableNames struct {
	Bypass  string
	VpnOnly string
}

type AnchorNames struct {
	TagPackets   string
	TranslateSrc string
}

// New returns a Controller. priority <= 0 defaults to
// sourceIPRulePriority.
func New(anchor AnchorCommitter, sh shell.Executor, tables TableNames, anchors AnchorNames, priority int) *Controller {
	if priority <= 0 {
		priority = sourceIPRulePriority
	}
	return &Controller{Anchor: anchor, Shell: sh, Tables: tables, Anchors: anchors, Priority: priority}
}

// SetupFirewall enables the two anchors this daemon owns: the
// packet-tagging anchor (content fixed; reads cgroup membership and sets
// an fwmark) and the masquerade anchor (content filled in later by
// UpdateMasquerade). Called once per session from initiateConnection.
func (c *Controller) SetupFirewall() {
	if err := c.Anchor.SetAnchorEnabled(Both, c.Anchors.TagPackets, true, MangleTable); err != nil {
		log.Warnf("firewall: enable %s: %v", c.Anchors.TagPackets, err)
	}
	if err := c.Anchor.SetAnchorEnabled(Both, c.Anchors.TranslateSrc, true, NatTable); err != nil {
		log.Warnf("firewall: enable %s: %v", c.Anchors.TranslateSrc, err)
	}
}

// TeardownFirewall disables both anchors, in the reverse order they were
// enabled in (spec.md §4.5 shutdownConnection).
func (c *Controller) TeardownFirewall() {
	if err := c.Anchor.SetAnchorEnabled(Both, c.Anchors.TranslateSrc, false, NatTable); err != nil {
		log.Warnf("firewall: disable %s: %v", c.Anchors.TranslateSrc, err)
	}
	if err := c.Anchor.SetAnchorEnabled(Both, c.Anchors.TagPackets, false, MangleTable); err != nil {
		log.Warnf("firewall: disable %s: %v", c.Anchors.TagPackets, err)
	}
}

// UpdateMasquerade installs the masquerade anchor for the physical
// interface. An empty iface empties the anchor instead — the original's
// "not connected" case (spec.md §4.3).
func (c *Controller) UpdateMasquerade(iface string) {
	if iface == "" {
		log.Infof("firewall: clearing masquerade anchor, not connected")
		if err := c.Anchor.ReplaceAnchor(Both, c.Anchors.TranslateSrc, nil, NatTable); err != nil {
			log.Warnf("firewall: clear masquerade anchor: %v", err)
		}
		return
	}

	log.Infof("firewall: updating masquerade anchor for interface %s", iface)
	rules := []string{
		"-o " + iface + " -j MASQUERADE",
		"-o tun+ -j MASQUERADE",
	}
	if err := c.Anchor.ReplaceAnchor(Both, c.Anchors.TranslateSrc, rules, NatTable); err != nil {
		log.Warnf("firewall: replace masquerade anchor: %v", err)
	}
}
