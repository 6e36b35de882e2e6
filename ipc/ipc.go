// Package ipc implements the Front-end IPC surface (spec.md §4.7/§6): a
// pair of unidirectional line streams between the core and a UI. Two
// Endpoint implementations share the same interface: an in-process
// channel pair (the default, modeled on the teacher's cmd/event channel
// split in gyre.go) and a Unix-domain-socket line server for an
// out-of-process front-end.
package ipc

import (
	"bufio"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrClosed is returned by ReadCommand/WriteNotification once the
// endpoint has been closed.
var ErrClosed = errors.New("ipc: endpoint closed")

// Endpoint is the core's only outward surface (spec.md §2). Commands
// flow UI -> core via ReadCommand; notifications flow core -> UI via
// WriteNotification. Implementations must be safe for one reader and
// one writer to use concurrently.
type Endpoint interface {
	ReadCommand() (string, error)
	WriteNotification(line string) error
	Close() error
}

// ChannelEndpoint is the in-process implementation: two buffered Go
// channels standing in for the original's pair of named pipes. It is
// the endpoint cmd/bymy-peer drives directly, with no socket involved.
type ChannelEndpoint struct {
	commands      chan string
	notifications chan string
	closeOnce     sync.Once
	closed        chan struct{}
}

// NewChannelEndpoint creates a ChannelEndpoint with the given buffer
// depth for each direction.
func NewChannelEndpoint(buffer int) *ChannelEndpoint {
	return &ChannelEndpoint{
		commands:      make(chan string, buffer),
		notifications: make(chan string, buffer),
		closed:        make(chan struct{}),
	}
}

// SendCommand is the UI side's call: push one command line to the core.
func (c *ChannelEndpoint) SendCommand(line string) error {
	select {
	case c.commands <- line:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

// Notifications exposes the UI side's read channel.
func (c *ChannelEndpoint) Notifications() <-chan string {
	return c.notifications
}

// ReadCommand is the core side's call: block for the next command line.
func (c *ChannelEndpoint) ReadCommand() (string, error) {
	select {
	case line := <-c.commands:
		return line, nil
	case <-c.closed:
		return "", ErrClosed
	}
}

// WriteNotification is the core side's call: push one notification line
// to the UI.
func (c *ChannelEndpoint) WriteNotification(line string) error {
	select {
	case c.notifications <- line:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

// Close releases both channels. Safe to call more than once.
func (c *ChannelEndpoint) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// UnixEndpoint is a net.Listen("unix", path) line server: the idiomatic
// Go replacement for the original's cli_to_network.pipe /
// network_to_cli.pipe named FIFOs. Exactly one accepted connection is
// treated as the active front-end at a time. A write failure closes that
// connection; the listener stays bound and is not recreated, and the next
// ReadCommand accepts a new front-end connection.
type UnixEndpoint struct {
	path string
	log  *zap.SugaredLogger

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	reader   *bufio.Reader
}

// ListenUnix binds a Unix-domain-socket line endpoint at path, removing
// any stale socket file left by a previous run.
func ListenUnix(path string, log *zap.SugaredLogger) (*UnixEndpoint, error) {
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrap(err, "ipc: binding unix socket")
	}
	return &UnixEndpoint{path: path, log: log, listener: l}, nil
}

// ReadCommand blocks until a line is available from the currently
// connected front-end, accepting a new connection first if none is
// active yet.
func (u *UnixEndpoint) ReadCommand() (string, error) {
	for {
		reader, err := u.activeReader()
		if err != nil {
			return "", err
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			u.log.Warnw("ipc: front-end connection lost, awaiting reconnect", "error", err)
			u.resetConn()
			continue
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}

// WriteNotification writes line to the currently connected front-end. On
// failure it closes that connection and returns the error; a new
// connection is accepted by the next ReadCommand.
func (u *UnixEndpoint) WriteNotification(line string) error {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return errors.New("ipc: no front-end connected")
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		u.log.Warnw("ipc: write failed, dropping front-end connection", "error", err)
		u.resetConn()
		return errors.Wrap(err, "ipc: writing notification")
	}
	return nil
}

func (u *UnixEndpoint) activeReader() (*bufio.Reader, error) {
	u.mu.Lock()
	if u.reader != nil {
		r := u.reader
		u.mu.Unlock()
		return r, nil
	}
	u.mu.Unlock()

	conn, err := u.listener.Accept()
	if err != nil {
		return nil, errors.Wrap(err, "ipc: accepting front-end connection")
	}
	u.mu.Lock()
	u.conn = conn
	u.reader = bufio.NewReader(conn)
	r := u.reader
	u.mu.Unlock()
	return r, nil
}

func (u *UnixEndpoint) resetConn() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		_ = u.conn.Close()
	}
	u.conn = nil
	u.reader = nil
}

// Close releases the listener and any active connection.
func (u *UnixEndpoint) Close() error {
	u.resetConn()
	err := u.listener.Close()
	_ = os.Remove(u.path)
	return errors.Wrap(err, "ipc: closing unix listener")
}
