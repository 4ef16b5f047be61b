//go:build linux

package splittun

import (
	"github.com/kestrelnet/splittun/common/observable"
	"github.com/kestrelnet/splittun/netlinkconn"
)

// FakeEventSource is an in-memory ProcessEventSource: tests push events
// with Emit and call Close to simulate shutdownConnection, without ever
// opening a netlink socket.
type FakeEventSource struct {
	ch     chan netlinkconn.Event
	Closed bool
}

func NewFakeEventSource() *FakeEventSource {
	return &FakeEventSource{ch: make(chan netlinkconn.Event, 64)}
}

func (f *FakeEventSource) Events() (observable.Subscription[netlinkconn.Event], error) {
	return f.ch, nil
}

func (f *FakeEventSource) Close() error {
	f.Closed = true
	close(f.ch)
	return nil
}

// Emit enqueues an event for the next HandleNextEvent call to pick up.
func (f *FakeEventSource) Emit(ev netlinkconn.Event) {
	f.ch <- ev
}
