package router

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/yusufCakir61/BYMY/config"
	"github.com/yusufCakir61/BYMY/ipc"
	"github.com/yusufCakir61/BYMY/roster"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return l.Sugar()
}

type testPeer struct {
	rt       *Router
	endpoint *ipc.ChannelEndpoint
	imageDir string
}

func newTestRouter(t *testing.T, handle string) *testPeer {
	t.Helper()
	dir := t.TempDir()
	imageDir := filepath.Join(dir, "receive")
	cfg := &config.Config{
		Handle:          roster.Handle(handle),
		Port:            0,
		WhoisPort:       0,
		ImagePath:       imageDir,
		AutoReply:       "away right now",
		TransferTimeout: 30,
		AwayFlagPath:    filepath.Join(dir, "away.flag"),
	}
	ep := ipc.NewChannelEndpoint(8)
	rt, err := New(cfg, ep, testLogger(t))
	require.NoError(t, err)
	rt.Start()
	t.Cleanup(func() { rt.Close() })
	return &testPeer{rt: rt, endpoint: ep, imageDir: imageDir}
}

func (p *testPeer) address(t *testing.T) roster.PeerAddress {
	t.Helper()
	addr, err := roster.NewPeerAddress("127.0.0.1", p.rt.sock.LocalPort())
	require.NoError(t, err)
	return addr
}

func (p *testPeer) waitNotification(t *testing.T) string {
	t.Helper()
	select {
	case n := <-p.endpoint.Notifications():
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return ""
	}
}

func introduce(t *testing.T, a, b *testPeer) {
	t.Helper()
	a.rt.Roster().Upsert(b.rt.own, b.address(t))
	b.rt.Roster().Upsert(a.rt.own, a.address(t))
}

func TestSendMsgToUnknownRecipientNotifiesFrontEnd(t *testing.T) {
	alice := newTestRouter(t, "alice")
	require.NoError(t, alice.endpoint.SendCommand("SEND_MSG bob hello"))

	n := alice.waitNotification(t)
	assert.Contains(t, n, "unknown recipient")
}

func TestMsgDeliveredWhenOnline(t *testing.T) {
	alice := newTestRouter(t, "alice")
	bob := newTestRouter(t, "bob")
	introduce(t, alice, bob)

	require.NoError(t, alice.endpoint.SendCommand("SEND_MSG bob hello there"))

	n := bob.waitNotification(t)
	assert.Equal(t, "MSG alice hello there", n)
}

func TestOfflineMessageTriggersSingleAutoReplyPerInterval(t *testing.T) {
	alice := newTestRouter(t, "alice")
	bob := newTestRouter(t, "bob")
	introduce(t, alice, bob)

	require.NoError(t, bob.endpoint.SendCommand("offline"))
	// Going offline sends the autoreply text to every roster entry.
	announce := alice.waitNotification(t)
	assert.Equal(t, "MSG bob away right now", announce)

	require.NoError(t, alice.endpoint.SendCommand("SEND_MSG bob are you there"))
	reply := alice.waitNotification(t)
	assert.Equal(t, "MSG bob away right now", reply)

	require.NoError(t, alice.endpoint.SendCommand("SEND_MSG bob still there?"))
	select {
	case n := <-alice.endpoint.Notifications():
		t.Fatalf("expected no second autoreply, got %q", n)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestOnlineDrainsOfflineLogToFrontEnd(t *testing.T) {
	alice := newTestRouter(t, "alice")
	bob := newTestRouter(t, "bob")
	introduce(t, alice, bob)

	require.NoError(t, bob.endpoint.SendCommand("offline"))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, alice.endpoint.SendCommand("SEND_MSG bob hi"))
	alice.waitNotification(t) // bob's offline announcement
	alice.waitNotification(t) // the autoreply, sent once bob has logged "hi"

	require.NoError(t, bob.endpoint.SendCommand("online"))
	// bob's own front-end receives the drained offline log line.
	n := bob.waitNotification(t)
	assert.Equal(t, "alice: hi", n)
}

func TestSendImageRoundTrip(t *testing.T) {
	alice := newTestRouter(t, "alice")
	bob := newTestRouter(t, "bob")
	introduce(t, alice, bob)

	srcDir := t.TempDir()
	imgPath := filepath.Join(srcDir, "pic.bin")
	content := []byte("binary-image-content")
	require.NoError(t, os.WriteFile(imgPath, content, 0o644))

	cmd := "SEND_IMAGE bob " + imgPath + " " + strconv.Itoa(len(content))
	require.NoError(t, alice.endpoint.SendCommand(cmd))

	n := bob.waitNotification(t)
	assert.Equal(t, "IMG alice pic.bin", n)

	written, err := os.ReadFile(filepath.Join(bob.imageDir, "pic.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, written)
}

func TestLeaveAcksFrontEndBeforeTeardown(t *testing.T) {
	alice := newTestRouter(t, "alice")

	// LEAVE broadcasts to the Discovery Engine (a separate component,
	// not exercised here) and immediately acks the front-end.
	require.NoError(t, alice.endpoint.SendCommand("LEAVE alice"))

	ack := alice.waitNotification(t)
	assert.Equal(t, "LEAVE_ACK alice", ack)
}

func TestCloseBroadcastsLeaveToKnownPeers(t *testing.T) {
	alice := newTestRouter(t, "alice")
	bob := newTestRouter(t, "bob")
	introduce(t, alice, bob)

	require.NoError(t, alice.rt.Close())

	n := bob.waitNotification(t)
	assert.Equal(t, "LEAVE alice", n)
}
