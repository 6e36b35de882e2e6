package bymy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yusufCakir61/BYMY/config"
	"github.com/yusufCakir61/BYMY/ipc"
	"github.com/yusufCakir61/BYMY/roster"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return l.Sugar()
}

func testConfig(t *testing.T, handle string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Handle:          roster.Handle(handle),
		Port:            0,
		WhoisPort:       0,
		ImagePath:       filepath.Join(dir, "receive"),
		AutoReply:       "away right now",
		TransferTimeout: 30,
		AwayFlagPath:    filepath.Join(dir, "away.flag"),
	}
}

// TestEngineStartAndShutdown exercises the full wiring a cmd/ entry
// point drives: Start with an embedded Discovery Engine, then a clean
// Shutdown — spec.md §5's graceful-shutdown sequence.
func TestEngineStartAndShutdown(t *testing.T) {
	ep := ipc.NewChannelEndpoint(4)
	eng, err := Start(testConfig(t, "alice"), ep, true, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, eng.Shutdown(context.Background()))
}

// TestEngineRoutesMessageEndToEnd exercises scenario 2 of spec.md §8
// through the public Engine surface two cmd/bymy-peer processes would
// use, with discovery not embedded to keep the test deterministic
// (discovery's own JOIN/WHO/KNOWNUSERS behavior is covered in
// discovery/engine_test.go).
func TestEngineRoutesMessageEndToEnd(t *testing.T) {
	aliceEP := ipc.NewChannelEndpoint(4)
	alice, err := Start(testConfig(t, "alice"), aliceEP, false, testLogger(t))
	require.NoError(t, err)
	defer alice.Shutdown(context.Background())

	bobEP := ipc.NewChannelEndpoint(4)
	bob, err := Start(testConfig(t, "bob"), bobEP, false, testLogger(t))
	require.NoError(t, err)
	defer bob.Shutdown(context.Background())

	bobPeerAddr := peerAddressOf(t, bob)
	alicePeerAddr := peerAddressOf(t, alice)
	alice.Router.Roster().Upsert("bob", bobPeerAddr)
	bob.Router.Roster().Upsert("alice", alicePeerAddr)

	require.NoError(t, aliceEP.SendCommand("SEND_MSG bob hello world"))

	select {
	case n := <-bobEP.Notifications():
		assert.Equal(t, "MSG alice hello world", n)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for MSG notification")
	}
}

func peerAddressOf(t *testing.T, eng *Engine) roster.PeerAddress {
	t.Helper()
	addr, err := roster.NewPeerAddress("127.0.0.1", eng.Router.LocalPort())
	require.NoError(t, err)
	return addr
}
