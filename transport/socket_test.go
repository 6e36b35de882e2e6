package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yusufCakir61/BYMY/roster"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return l.Sugar()
}

func TestSendToLoopback(t *testing.T) {
	log := testLogger(t)

	a, err := Bind(0, log)
	require.NoError(t, err)
	defer a.Close()

	b, err := Bind(0, log)
	require.NoError(t, err)
	defer b.Close()

	addr, err := roster.NewPeerAddress("127.0.0.1", b.LocalPort())
	require.NoError(t, err)

	require.NoError(t, a.SendTo(addr, []byte("MSG alice hello")))

	buf := make([]byte, 2048)
	done := make(chan Datagram, 1)
	go func() {
		dg, err := b.Receive(buf)
		require.NoError(t, err)
		done <- dg
	}()

	select {
	case dg := <-done:
		require.Equal(t, "MSG alice hello", string(dg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}
