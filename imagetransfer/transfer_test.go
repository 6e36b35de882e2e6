package imagetransfer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yusufCakir61/BYMY/frame"
	"github.com/yusufCakir61/BYMY/roster"
)

func testAddr(t *testing.T, port uint16) roster.PeerAddress {
	t.Helper()
	addr, err := roster.NewPeerAddress("127.0.0.1", port)
	require.NoError(t, err)
	return addr
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return l.Sugar()
}

func TestFullTransferIsWrittenAndReported(t *testing.T) {
	dir := t.TempDir()
	var gotSender roster.Handle
	var gotFilename string
	m := NewManager(dir, time.Minute, testLogger(t), func(sender roster.Handle, filename string) {
		gotSender = sender
		gotFilename = filename
	})

	addr := testAddr(t, 9000)
	data := []byte("hello world")
	chunks := []frame.Chunk{
		{Index: 0, Data: data[:5]},
		{Index: 1, Data: data[5:]},
	}

	m.HandleStart(addr, frame.ImgStart{Sender: "alice", Filename: "greeting.bin", TotalChunks: 2})
	for _, c := range chunks {
		m.HandleChunk(addr, c)
	}
	m.HandleEnd(addr)

	assert.Equal(t, roster.Handle("alice"), gotSender)
	assert.Equal(t, "greeting.bin", gotFilename)

	written, err := os.ReadFile(filepath.Join(dir, "greeting.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, written)
	assert.Equal(t, 0, m.Pending())
}

func TestImgEndBeforeAllChunksLeavesTransferPending(t *testing.T) {
	dir := t.TempDir()
	called := false
	m := NewManager(dir, time.Minute, testLogger(t), func(roster.Handle, string) { called = true })

	addr := testAddr(t, 9001)
	m.HandleStart(addr, frame.ImgStart{Sender: "bob", Filename: "partial.bin", TotalChunks: 3})
	m.HandleChunk(addr, frame.Chunk{Index: 0, Data: []byte("a")})
	m.HandleEnd(addr)

	assert.False(t, called, "a transfer missing chunks must not finalize")
	assert.Equal(t, 1, m.Pending())
}

func TestOutOfOrderChunksReassembleCorrectly(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, time.Minute, testLogger(t), nil)

	addr := testAddr(t, 9002)
	m.HandleStart(addr, frame.ImgStart{Sender: "carol", Filename: "shuffled.bin", TotalChunks: 3})
	m.HandleChunk(addr, frame.Chunk{Index: 2, Data: []byte("C")})
	m.HandleChunk(addr, frame.Chunk{Index: 0, Data: []byte("A")})
	m.HandleChunk(addr, frame.Chunk{Index: 1, Data: []byte("B")})
	m.HandleEnd(addr)

	written, err := os.ReadFile(filepath.Join(dir, "shuffled.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ABC"), written)
}

func TestZeroByteImageProducesZeroChunkTransfer(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, time.Minute, testLogger(t), nil)

	addr := testAddr(t, 9003)
	m.HandleStart(addr, frame.ImgStart{Sender: "dave", Filename: "empty.bin", TotalChunks: 0})
	m.HandleEnd(addr)

	written, err := os.ReadFile(filepath.Join(dir, "empty.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{}, written)
}

func TestInactivityTimeoutEvictsIncompleteTransfer(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 30*time.Millisecond, testLogger(t), nil)

	addr := testAddr(t, 9004)
	m.HandleStart(addr, frame.ImgStart{Sender: "erin", Filename: "stalled.bin", TotalChunks: 2})
	m.HandleChunk(addr, frame.Chunk{Index: 0, Data: []byte("x")})

	require.Eventually(t, func() bool { return m.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestChunkForUnknownTransferIsDropped(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, time.Minute, testLogger(t), nil)

	addr := testAddr(t, 9005)
	m.HandleChunk(addr, frame.Chunk{Index: 0, Data: []byte("x")})
	assert.Equal(t, 0, m.Pending())
}

func TestRestartingTransferResetsState(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, time.Minute, testLogger(t), nil)

	addr := testAddr(t, 9006)
	m.HandleStart(addr, frame.ImgStart{Sender: "frank", Filename: "retry.bin", TotalChunks: 1})
	m.HandleChunk(addr, frame.Chunk{Index: 0, Data: []byte("first")})

	// Sender restarted the same transfer before completing it; the new
	// IMG_START must discard the stale partial state.
	m.HandleStart(addr, frame.ImgStart{Sender: "frank", Filename: "retry.bin", TotalChunks: 1})
	m.HandleChunk(addr, frame.Chunk{Index: 0, Data: []byte("second")})
	m.HandleEnd(addr)

	written, err := os.ReadFile(filepath.Join(dir, "retry.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), written)
}
