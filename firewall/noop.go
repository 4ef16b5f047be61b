package firewall

import "github.com/kestrelnet/splittun/log"

// LoggingAnchorCommitter is a placeholder AnchorCommitter for standalone
// operation: the real anchor-replace facility is explicitly out of scope
// (spec.md §1, §6 "consumed, not defined here") and is expected to be
// supplied by whatever iptables/nftables integration the surrounding
// deployment provides. This implementation only logs what it would have
// committed, so the daemon can run and be observed without one.
type LoggingAnchorCommitter struct{}

func (LoggingAnchorCommitter) SetAnchorEnabled(dir Direction, name string, enabled bool, table Table) error {
	log.Infof("firewall: (noop) set anchor %s enabled=%v table=%s dir=%d", name, enabled, table, dir)
	return nil
}

func (LoggingAnchorCommitter) ReplaceAnchor(dir Direction, name string, rules []string, table Table) error {
	log.Infof("firewall: (noop) replace anchor %s table=%s rules=%v", name, table, rules)
	return nil
}
