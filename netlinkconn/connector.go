//go:build linux

// Package netlinkconn implements the Process Event Listener (spec.md
// §4.4): a NETLINK_CONNECTOR socket subscribed to CN_IDX_PROC, decoding
// PROC_EVENT_EXEC/PROC_EVENT_EXIT notifications from the kernel.
//
// Both request and response messages are packed as a netlink header
// followed, without padding inside the payload, by a connector message
// header, followed by a body. This layout is kernel ABI and is packed by
// hand with encoding/binary rather than a field-wise serialization
// library (spec.md §9) — gob/protobuf/etc would impose their own framing
// and silently produce a message the kernel cannot parse.
package netlinkconn

import (
	"encoding/binary"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/kestrelnet/splittun/common/observable"
	"github.com/kestrelnet/splittun/log"
)

// Kernel ABI constants from <linux/connector.h> and <linux/cn_proc.h>.
const (
	cnIdxProc uint32 = 1 // CN_IDX_PROC
	cnValProc uint32 = 1 // CN_VAL_PROC

	procCNMcastListen uint32 = 1 // PROC_CN_MCAST_LISTEN
	procCNMcastIgnore uint32 = 2 // PROC_CN_MCAST_IGNORE

	procEventNone uint32 = 0x00000000
	procEventExec uint32 = 0x00000002
	procEventExit uint32 = 0x80000000
)

// Byte sizes of the kernel structs this package packs/unpacks by hand.
//
//	struct cn_msg     { idx(4) val(4) seq(4) ack(4) len(2) flags(2) } = 20B
//	struct proc_event header { what(4) cpu(4) timestamp_ns(8) }      = 16B
//	struct exec_proc_event  { process_pid(4) process_tgid(4) }       =  8B
//	struct exit_proc_event  { process_pid(4) process_tgid(4) exit_code(4) exit_signal(4) } = 16B
const (
	nlMsgHdrSize   = 16 // sizeof(struct nlmsghdr)
	cnMsgSize      = 20
	procEvtHdrSize = 16
	execInfoSize   = 8
)

// EventType is the subset of proc_event.what this listener dispatches on
// (spec.md §4.4); every other event code is ignored.
type EventType int

const (
	EventNone EventType = iota
	EventExec
	EventExit
)

// Event is the decoded, address-resolved-by-caller notification handed to
// the Reconciler.
type Event struct {
	Type EventType
	Pid  int
}

// Listener owns one NETLINK_CONNECTOR socket and the goroutine reading
// from it. Events are delivered on the channel returned by Events() so the
// Reconciler can consume them serially on its own control loop, per
// spec.md §5 (the listener's read goroutine never touches Reconciler
// state directly).
type Listener struct {
	fd     int
	events *observable.Observable[Event]
	evCh   chan Event
	done   chan struct{}
}

// Open opens, binds, and subscribes a NETLINK_CONNECTOR socket. On any
// failure it returns a non-nil error and leaves no socket open — per
// spec.md §4.5 initiateConnection step 2, "On any failure, abandon without
// mutating any other state."
func Open() (*Listener, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_CONNECTOR)
	if err != nil {
		return nil, fmt.Errorf("netlinkconn: open socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: uint32(os.Getpid()), Groups: cnIdxProc}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("netlinkconn: bind: %w", err)
	}

	if err := subscribe(fd, procCNMcastListen); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("netlinkconn: subscribe: %w", err)
	}

	l := &Listener{fd: fd, evCh: make(chan Event), done: make(chan struct{})}
	l.events = observable.NewObservable[Event](l.evCh)
	go l.readLoop()
	return l, nil
}

// Fd returns the underlying socket file descriptor, for callers that
// integrate it into their own readiness-based event loop instead of
// relying on the internal read goroutine.
func (l *Listener) Fd() int { return l.fd }

// Events returns a subscription to decoded process events.
func (l *Listener) Events() (observable.Subscription[Event], error) {
	return l.events.Subscribe()
}

// Close unsubscribes from proc events and closes the socket (spec.md
// §4.5 shutdownConnection: "sends PROC_CN_MCAST_IGNORE before closing").
func (l *Listener) Close() error {
	close(l.done)
	_ = subscribe(l.fd, procCNMcastIgnore)
	return unix.Close(l.fd)
}

func (l *Listener) readLoop() {
	buf := make([]byte, 8*1024)
	for {
		n, _, err := unix.Recvfrom(l.fd, buf, 0)
		select {
		case <-l.done:
			return
		default:
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Debugf("netlinkconn: recvfrom: %v", err)
			return
		}

		// Exactly one message is consumed per readiness edge (spec.md
		// §4.4); Recvfrom above is that one read.
		event, ok := decode(buf[:n])
		if !ok {
			continue
		}
		select {
		case l.evCh <- event:
		case <-l.done:
			return
		}
	}
}

// decode extracts a proc_event from one netlink datagram. It tolerates
// truncated or foreign messages by returning ok=false — the kernel can, in
// principle, deliver other connector traffic on the same multicast group.
func decode(buf []byte) (Event, bool) {
	msgs, err := syscall.ParseNetlinkMessage(buf)
	if err != nil {
		return Event{}, false
	}

	for _, msg := range msgs {
		if msg.Header.Type == unix.NLMSG_ERROR {
			continue
		}
		if ev, ok := decodeCnMsg(msg.Data); ok {
			return ev, true
		}
	}
	return Event{}, false
}

func decodeCnMsg(data []byte) (Event, bool) {
	if len(data) < cnMsgSize+procEvtHdrSize {
		return Event{}, false
	}

	idx := binary.NativeEndian.Uint32(data[0:4])
	val := binary.NativeEndian.Uint32(data[4:8])
	if idx != cnIdxProc || val != cnValProc {
		return Event{}, false
	}

	payloadLen := int(binary.NativeEndian.Uint16(data[16:18]))
	payload := data[cnMsgSize:]
	if payloadLen > len(payload) {
		payloadLen = len(payload)
	}
	payload = payload[:payloadLen]
	if len(payload) < procEvtHdrSize {
		return Event{}, false
	}

	what := binary.NativeEndian.Uint32(payload[0:4])
	body := payload[procEvtHdrSize:]

	switch what {
	case procEventNone:
		return Event{Type: EventNone}, true
	case procEventExec:
		if len(body) < execInfoSize {
			return Event{}, false
		}
		pid := int(binary.NativeEndian.Uint32(body[0:4]))
		return Event{Type: EventExec, Pid: pid}, true
	case procEventExit:
		if len(body) < execInfoSize {
			return Event{}, false
		}
		pid := int(binary.NativeEndian.Uint32(body[0:4]))
		return Event{Type: EventExit, Pid: pid}, true
	default:
		return Event{}, false
	}
}

// subscribe sends a proc_cn_mcast_op message with the given value
// (PROC_CN_MCAST_LISTEN or PROC_CN_MCAST_IGNORE) to start or stop
// receiving process events (spec.md §4.4, §6).
func subscribe(fd int, op uint32) error {
	const opSize = 4
	total := nlMsgHdrSize + cnMsgSize + opSize
	buf := make([]byte, total)

	// nlmsghdr
	binary.NativeEndian.PutUint32(buf[0:4], uint32(total))
	binary.NativeEndian.PutUint16(buf[4:6], unix.NLMSG_DONE)
	binary.NativeEndian.PutUint16(buf[6:8], 0)
	binary.NativeEndian.PutUint32(buf[8:12], 0)
	binary.NativeEndian.PutUint32(buf[12:16], uint32(os.Getpid()))

	// cn_msg
	off := nlMsgHdrSize
	binary.NativeEndian.PutUint32(buf[off:off+4], cnIdxProc)
	binary.NativeEndian.PutUint32(buf[off+4:off+8], cnValProc)
	binary.NativeEndian.PutUint32(buf[off+8:off+12], 0)
	binary.NativeEndian.PutUint32(buf[off+12:off+16], 0)
	binary.NativeEndian.PutUint16(buf[off+16:off+18], opSize)
	binary.NativeEndian.PutUint16(buf[off+18:off+20], 0)

	// proc_cn_mcast_op body
	off += cnMsgSize
	binary.NativeEndian.PutUint32(buf[off:off+4], op)

	dst := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: 0}
	return unix.Sendto(fd, buf, 0, dst)
}
