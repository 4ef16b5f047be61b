package firewall

// FakeAnchorCommitter records every SetAnchorEnabled/ReplaceAnchor call
// for assertions in tests, without touching netfilter.
type FakeAnchorCommitter struct {
	Enabled map[string]bool
	Rules   map[string][]string
}

func NewFakeAnchorCommitter() *FakeAnchorCommitter {
	return &FakeAnchorCommitter{Enabled: map[string]bool{}, Rules: map[string][]string{}}
}

func (f *FakeAnchorCommitter) SetAnchorEnabled(_ Direction, name string, enabled bool, _ Table) error {
	f.Enabled[name] = enabled
	return nil
}

func (f *FakeAnchorCommitter) ReplaceAnchor(_ Direction, name string, rules []string, _ Table) error {
	f.Rules[name] = rules
	return nil
}
