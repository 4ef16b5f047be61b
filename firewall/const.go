package firewall

// Direction and Table mirror the vocabulary of the external anchor-replace
// facility (spec.md §6 "Firewall anchor interface (consumed, not defined
// here)"); this repository never implements iptables/nftables itself, it
// only calls through AnchorCommitter.
type Direction int

const (
	Inbound Direction = iota
	Outbound
	Both
)

type Table string

const (
	NatTable    Table = "nat"
	MangleTable Table = "mangle"
)

// Anchor names used by this daemon (spec.md §6). 100.tagPkts is stable —
// installed once per session and never replaced — while 100.transIp is
// replaced every time the physical interface changes.
const (
	AnchorTagPackets   = "100.tagPkts"
	AnchorTranslateSrc = "100.transIp"
)

// rpFilterLoose is net.ipv4.conf.all.rp_filter mode 2 ("loose"): the
// kernel accepts a packet if any route back to its source exists, not
// just the one matching the incoming interface (spec.md §4.3, GLOSSARY).
const rpFilterLoose = "2"

// sourceIPRulePriority is the default priority for source-IP routing
// policy rules (spec.md §4.3); Config.Routing.Priority overrides it.
const sourceIPRulePriority = 101
