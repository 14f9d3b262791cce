package profiler

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushprof/agent-go/profiler/logger"
)

func TestNewMetricsClient_Names(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "metrics.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()

	cfg := DefaultConfig("http://ingester:4040", "fib")
	cfg.MetricsAddress = sock
	c := newMetricsClient(cfg, &logger.NoopLogger{})
	c.Start()
	require.NoError(t, c.EmitCounter("upload.success", 1, nil))
	c.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 8192)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	packet := buf[:n]

	// type byte, then the length prefixed name
	require.Greater(t, len(packet), 2)
	nameLen := int(packet[1])
	require.GreaterOrEqual(t, len(packet), 2+nameLen)
	assert.Equal(t, "pushprof.upload.success", string(packet[2:2+nameLen]))
}
