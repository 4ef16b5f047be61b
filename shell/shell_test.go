package shell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeExecutorRecordsInvocations(t *testing.T) {
	f := NewFakeExecutor()
	_, err := f.Run(context.Background(), "ip", "rule", "add", "from", "10.0.0.1", "lookup", "pia_bypass", "pri", "101")
	require.NoError(t, err)

	require.True(t, f.Contains("ip", "rule", "add", "from", "10.0.0.1", "lookup", "pia_bypass", "pri", "101"))
	require.False(t, f.Contains("ip", "rule", "del"))
}

func TestFakeExecutorReturnsProgrammedOutput(t *testing.T) {
	f := NewFakeExecutor()
	f.Outputs[Invocation{Name: "sysctl", Args: []string{"-n", "net.ipv4.conf.all.rp_filter"}}.String()] = "1"

	out, err := f.Run(context.Background(), "sysctl", "-n", "net.ipv4.conf.all.rp_filter")
	require.NoError(t, err)
	require.Equal(t, "1", out)
}
