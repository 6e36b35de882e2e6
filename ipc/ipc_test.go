package ipc

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChannelEndpointRoundTrip(t *testing.T) {
	ep := NewChannelEndpoint(4)
	defer ep.Close()

	require.NoError(t, ep.SendCommand("JOIN alice 9000"))
	cmd, err := ep.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, "JOIN alice 9000", cmd)

	require.NoError(t, ep.WriteNotification("JOIN bob"))
	select {
	case n := <-ep.Notifications():
		assert.Equal(t, "JOIN bob", n)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestChannelEndpointCloseUnblocksReaders(t *testing.T) {
	ep := NewChannelEndpoint(1)
	done := make(chan error, 1)
	go func() {
		_, err := ep.ReadCommand()
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ep.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock ReadCommand")
	}
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return l.Sugar()
}

func TestUnixEndpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "bymy.sock")

	ep, err := ListenUnix(sockPath, testLogger(t))
	require.NoError(t, err)
	defer ep.Close()

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		conn, err := net.Dial("unix", sockPath)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("WHO\n"))
		r := bufio.NewReader(conn)
		line, _ := r.ReadString('\n')
		if line != "KNOWNUSERS\n" {
			t.Errorf("unexpected notification: %q", line)
		}
	}()

	cmd, err := ep.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, "WHO", cmd)

	require.NoError(t, ep.WriteNotification("KNOWNUSERS"))
	<-clientDone
}
