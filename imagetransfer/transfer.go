// Package imagetransfer implements the chunked image-reassembly
// subsystem (spec.md §4.5): a send-side chunker and a per-sender,
// per-filename receive-side reassembly buffer.
package imagetransfer

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yusufCakir61/BYMY/frame"
	"github.com/yusufCakir61/BYMY/roster"
	"github.com/yusufCakir61/BYMY/transport"
)

// DefaultChunkSize matches the original protocol's fixed chunk size and
// sits within spec.md §4.1's recommended 1024-4000 byte range.
const DefaultChunkSize = 4000

// ErrIncomplete is returned by finalize when a transfer is missing chunks
// (spec.md §7's TransferIncomplete kind).
var ErrIncomplete = errors.New("image transfer incomplete")

// key identifies one in-flight transfer: spec.md §3 keys transfer state by
// (sender PeerAddress, filename).
type key struct {
	addr     roster.PeerAddress
	filename string
}

// transferState is spec.md §3's ImageTransferState record.
type transferState struct {
	sender   roster.Handle
	filename string
	total    int
	chunks   map[int][]byte
	timer    *time.Timer
}

func (t *transferState) receivedCount() int { return len(t.chunks) }

// finalize concatenates chunk bytes in ascending index order. It succeeds
// only when every index in [0, total) is present (spec.md §3 invariant).
func (t *transferState) finalize() ([]byte, error) {
	if t.receivedCount() != t.total {
		return nil, errors.Wrapf(ErrIncomplete, "%s: received %d/%d chunks", t.filename, t.receivedCount(), t.total)
	}
	var buf bytes.Buffer
	for i := 0; i < t.total; i++ {
		chunk, ok := t.chunks[i]
		if !ok {
			return nil, errors.Wrapf(ErrIncomplete, "%s: missing chunk %d", t.filename, i)
		}
		buf.Write(chunk)
	}
	return buf.Bytes(), nil
}

// FinalizedHandler is called once a transfer completes: it is expected to
// emit the IMG front-end notification (spec.md §4.5/§6).
type FinalizedHandler func(sender roster.Handle, filename string)

// Manager holds every active inbound transfer. SPEC_FULL.md §4.5 resolves
// the "incomplete transfers are never garbage-collected" open question
// with a per-transfer inactivity timeout: a transfer untouched for
// `timeout` is evicted, bounding memory under a lossy network.
type Manager struct {
	mu        sync.Mutex
	transfers map[key]*transferState
	imageDir  string
	timeout   time.Duration
	log       *zap.SugaredLogger
	onDone    FinalizedHandler
}

// NewManager creates a Manager that writes finalized images under
// imageDir (created on demand) and evicts transfers idle longer than
// timeout.
func NewManager(imageDir string, timeout time.Duration, log *zap.SugaredLogger, onDone FinalizedHandler) *Manager {
	return &Manager{
		transfers: make(map[key]*transferState),
		imageDir:  imageDir,
		timeout:   timeout,
		log:       log,
		onDone:    onDone,
	}
}

// HandleStart processes an IMG_START frame, creating or replacing the
// transfer state for (addr, filename) (spec.md §4.5: "create/replace the
// entry").
func (m *Manager) HandleStart(addr roster.PeerAddress, s frame.ImgStart) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{addr: addr, filename: s.Filename}
	if existing, ok := m.transfers[k]; ok && existing.timer != nil {
		existing.timer.Stop()
	}
	state := &transferState{
		sender:   s.Sender,
		filename: s.Filename,
		total:    s.TotalChunks,
		chunks:   make(map[int][]byte, s.TotalChunks),
	}
	m.transfers[k] = state
	m.armTimeoutLocked(k)
}

// HandleChunk processes a CHUNK frame, storing its bytes under its index
// in an active transfer from addr. Start order is not tracked: when more
// than one transfer from addr is active, which of them receives the chunk
// is not defined. A CHUNK for an address with no active transfer is
// dropped.
func (m *Manager) HandleChunk(addr roster.PeerAddress, c frame.Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, state := range m.transfers {
		if k.addr.Equal(addr) {
			state.chunks[c.Index] = c.Data
			m.armTimeoutLocked(k)
			return
		}
	}
}

// HandleEnd processes an IMG_END frame from addr: every transfer from
// that address whose received count equals its total is finalized,
// written to disk, reported via onDone, and removed. A transfer observed
// incomplete at IMG_END is left pending: a later IMG_END from the same
// address finalizes it once its missing chunks have arrived (a CHUNK on
// its own never finalizes), otherwise it is evicted by the timeout.
func (m *Manager) HandleEnd(addr roster.PeerAddress) {
	m.mu.Lock()
	ready := make(map[key]*transferState)
	for k, state := range m.transfers {
		if k.addr.Equal(addr) && state.receivedCount() == state.total {
			ready[k] = state
		}
	}
	for k := range ready {
		if m.transfers[k].timer != nil {
			m.transfers[k].timer.Stop()
		}
		delete(m.transfers, k)
	}
	m.mu.Unlock()

	for _, state := range ready {
		m.writeAndNotify(state)
	}
}

func (m *Manager) writeAndNotify(state *transferState) {
	data, err := state.finalize()
	if err != nil {
		m.log.Warnw("image transfer failed to finalize", "filename", state.filename, "error", err)
		return
	}
	if err := os.MkdirAll(m.imageDir, 0o755); err != nil {
		m.log.Errorw("could not create image directory", "dir", m.imageDir, "error", err)
		return
	}
	savePath := filepath.Join(m.imageDir, state.filename)
	if err := os.WriteFile(savePath, data, 0o644); err != nil {
		m.log.Errorw("could not write received image", "path", savePath, "error", err)
		return
	}
	if m.onDone != nil {
		m.onDone(state.sender, state.filename)
	}
}

// armTimeoutLocked (re)schedules eviction of the transfer at k after
// m.timeout of inactivity. Must be called with m.mu held.
func (m *Manager) armTimeoutLocked(k key) {
	if m.timeout <= 0 {
		return
	}
	state := m.transfers[k]
	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(m.timeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if current, ok := m.transfers[k]; ok && current == state {
			delete(m.transfers, k)
			m.log.Infow("evicted incomplete image transfer after inactivity timeout",
				"filename", state.filename, "received", state.receivedCount(), "total", state.total)
		}
	})
}

// Pending reports how many transfers are currently in flight, for tests
// and diagnostics.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfers)
}

// Send chunks data and transmits IMG_START, sequential CHUNKs, and
// IMG_END to target (spec.md §4.5 send side). chunkSize <= 0 selects
// DefaultChunkSize.
func Send(sock *transport.Socket, own roster.Handle, target roster.PeerAddress, filePath string, data []byte, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	total := (len(data) + chunkSize - 1) / chunkSize

	start := frame.ImgStart{Sender: own, Filename: filepath.Base(filePath), TotalChunks: total}
	if err := sock.SendTo(target, start.Encode()); err != nil {
		return errors.Wrap(err, "sending IMG_START")
	}

	for i := 0; i < total; i++ {
		lo := i * chunkSize
		hi := lo + chunkSize
		if hi > len(data) {
			hi = len(data)
		}
		chunk := frame.Chunk{Index: i, Data: data[lo:hi]}
		if err := sock.SendTo(target, chunk.Encode()); err != nil {
			return errors.Wrapf(err, "sending CHUNK %d", i)
		}
	}

	if err := sock.SendTo(target, frame.ImgEnd{}.Encode()); err != nil {
		return errors.Wrap(err, "sending IMG_END")
	}
	return nil
}
