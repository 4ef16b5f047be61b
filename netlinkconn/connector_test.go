//go:build linux

package netlinkconn

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// buildMessage assembles one netlink datagram carrying a cn_msg + proc_event
// body, mirroring what the kernel sends on CN_IDX_PROC.
func buildMessage(t *testing.T, what uint32, pid int) []byte {
	t.Helper()

	const bodySize = procEvtHdrSize + execInfoSize
	total := nlMsgHdrSize + cnMsgSize + bodySize
	buf := make([]byte, total)

	binary.NativeEndian.PutUint32(buf[0:4], uint32(total))
	binary.NativeEndian.PutUint16(buf[4:6], unix.NLMSG_DONE)
	binary.NativeEndian.PutUint16(buf[6:8], 0)
	binary.NativeEndian.PutUint32(buf[8:12], 0)
	binary.NativeEndian.PutUint32(buf[12:16], 0)

	off := nlMsgHdrSize
	binary.NativeEndian.PutUint32(buf[off:off+4], cnIdxProc)
	binary.NativeEndian.PutUint32(buf[off+4:off+8], cnValProc)
	binary.NativeEndian.PutUint32(buf[off+8:off+12], 0)
	binary.NativeEndian.PutUint32(buf[off+12:off+16], 0)
	binary.NativeEndian.PutUint16(buf[off+16:off+18], uint16(bodySize))
	binary.NativeEndian.PutUint16(buf[off+18:off+20], 0)

	off += cnMsgSize
	binary.NativeEndian.PutUint32(buf[off:off+4], what) // proc_event.what
	// cpu, timestamp_ns left zero
	off += procEvtHdrSize
	binary.NativeEndian.PutUint32(buf[off:off+4], uint32(pid)) // process_pid

	return buf
}

func TestDecodeExecEvent(t *testing.T) {
	buf := buildMessage(t, procEventExec, 4242)
	ev, ok := decode(buf)
	require.True(t, ok)
	require.Equal(t, EventExec, ev.Type)
	require.Equal(t, 4242, ev.Pid)
}

func TestDecodeExitEvent(t *testing.T) {
	buf := buildMessage(t, procEventExit, 99)
	ev, ok := decode(buf)
	require.True(t, ok)
	require.Equal(t, EventExit, ev.Type)
	require.Equal(t, 99, ev.Pid)
}

func TestDecodeIgnoresForeignConnector(t *testing.T) {
	buf := buildMessage(t, procEventExec, 1)
	// Corrupt cn_msg.idx so it no longer matches CN_IDX_PROC.
	binary.NativeEndian.PutUint32(buf[nlMsgHdrSize:nlMsgHdrSize+4], 99)
	_, ok := decode(buf)
	require.False(t, ok)
}

func TestDecodeTruncatedMessage(t *testing.T) {
	_, ok := decode([]byte{1, 2, 3})
	require.False(t, ok)
}

func TestDecodeNoneEvent(t *testing.T) {
	buf := buildMessage(t, procEventNone, 0)
	ev, ok := decode(buf)
	require.True(t, ok)
	require.Equal(t, EventNone, ev.Type)
}
