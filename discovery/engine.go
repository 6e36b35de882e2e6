// Package discovery implements the Discovery Engine: the JOIN/LEAVE/WHO/
// KNOWNUSERS state machine that runs on the well-known discovery port and
// elects a consistent roster across peers without a central server
// (spec.md §4.3). It can run embedded as a goroutine inside a single
// peer process, or standalone (cmd/bymy-discovery) — both layouts are
// permitted by spec.md §9's design note on process architecture.
package discovery

import (
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yusufCakir61/BYMY/frame"
	"github.com/yusufCakir61/BYMY/roster"
	"github.com/yusufCakir61/BYMY/transport"
)

// receiveBackoff is the short pause before retrying a transient receive
// error, per spec.md §7's TransportTemporary handling.
const receiveBackoff = 50 * time.Millisecond

// ErrTransportFatal is reported on Fatal() when the discovery socket
// fails permanently outside of Close's own teardown (spec.md §7).
var ErrTransportFatal = errors.New("discovery: transport fatal")

// Engine owns its own roster view (the Discovery Engine and the Message
// Router do not share memory — spec.md §5) and the well-known discovery
// socket.
type Engine struct {
	sock    *transport.Socket
	roster  *roster.Roster
	port    uint16
	log     *zap.SugaredLogger
	wg      sync.WaitGroup
	closeCh chan struct{}
	fatalCh chan error
}

// New binds the discovery socket on port and returns a ready-to-run Engine.
func New(port uint16, log *zap.SugaredLogger) (*Engine, error) {
	sock, err := transport.Bind(port, log)
	if err != nil {
		return nil, err
	}
	return &Engine{
		sock:    sock,
		roster:  roster.New(""), // the engine has no own handle to filter
		port:    port,
		log:     log,
		closeCh: make(chan struct{}),
		fatalCh: make(chan error, 1),
	}, nil
}

// Fatal reports a discovery.ErrTransportFatal if the bound socket fails
// permanently outside of Close's own teardown. A cmd/ entry point should
// select on this alongside its signal channel and exit the process, per
// spec.md §7: "TransportFatal terminates the process".
func (e *Engine) Fatal() <-chan error { return e.fatalCh }

// Roster exposes the engine's current view, primarily for tests and for
// an embedding process that wants to inspect discovery state directly.
func (e *Engine) Roster() *roster.Roster {
	return e.roster
}

// Start launches the receive loop in a background goroutine. It returns
// immediately; call Close to stop the loop and release the socket.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.loop()
}

// Close stops the receive loop and releases the discovery socket.
func (e *Engine) Close() error {
	close(e.closeCh)
	err := e.sock.Close()
	e.wg.Wait()
	return err
}

func (e *Engine) loop() {
	defer e.wg.Done()
	buf := make([]byte, 65535)
	for {
		dg, err := e.sock.Receive(buf)
		if err != nil {
			select {
			case <-e.closeCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				e.log.Errorw("discovery socket closed unexpectedly, terminating", "error", err)
				e.reportFatal(err)
				return
			}
			e.log.Warnw("discovery receive error, retrying", "error", err)
			time.Sleep(receiveBackoff)
			continue
		}
		e.handle(dg)
	}
}

// reportFatal delivers a discovery.ErrTransportFatal to Fatal()'s
// channel, dropping it if one was already reported.
func (e *Engine) reportFatal(cause error) {
	select {
	case e.fatalCh <- errors.Join(ErrTransportFatal, cause):
	default:
	}
}

func (e *Engine) handle(dg transport.Datagram) {
	switch frame.Classify(dg.Payload) {
	case frame.KindJoin:
		e.handleJoin(dg)
	case frame.KindLeave:
		e.handleLeave(dg)
	case frame.KindWho:
		e.handleWho(dg)
	default:
		// any other payload is dropped silently (spec.md §4.3)
	}
}

func (e *Engine) handleJoin(dg transport.Datagram) {
	j, err := frame.ParseJoin(dg.Payload)
	if err != nil {
		e.log.Debugw("dropping malformed JOIN", "error", err)
		return
	}
	addr := roster.PeerAddress{IP: dg.Source, Port: j.Port}
	e.roster.Upsert(j.Handle, addr)

	// Fan the newcomer out to every other currently-known peer, so that
	// peer doesn't need to itself broadcast-listen (spec.md §4.3).
	fanout := frame.Join{Handle: j.Handle, Port: j.Port}.Encode()
	for _, entry := range e.roster.Snapshot() {
		if entry.Handle == j.Handle {
			continue
		}
		if err := e.sock.SendTo(entry.Address, fanout); err != nil {
			e.log.Warnw("JOIN fanout send failed", "to", entry.Handle, "error", err)
		}
	}
}

func (e *Engine) handleLeave(dg transport.Datagram) {
	l, err := frame.ParseLeave(dg.Payload)
	if err != nil {
		e.log.Debugw("dropping malformed LEAVE", "error", err)
		return
	}
	e.roster.Delete(l.Handle)

	fanout := l.Encode()
	for _, entry := range e.roster.Snapshot() {
		if err := e.sock.SendTo(entry.Address, fanout); err != nil {
			e.log.Warnw("LEAVE fanout send failed", "to", entry.Handle, "error", err)
		}
	}
}

func (e *Engine) handleWho(dg transport.Datagram) {
	if _, err := frame.ParseWho(dg.Payload); err != nil {
		e.log.Debugw("dropping malformed WHO", "error", err)
		return
	}
	handle, addr, ok := e.roster.LookupBySourceIP(dg.Source)
	// Several peers can share one IP (e.g. on loopback); prefer the entry
	// whose port is the requester's source port.
	for _, entry := range e.roster.Snapshot() {
		if entry.Address.IP.Equal(dg.Source) && int(entry.Address.Port) == dg.Port {
			handle, addr, ok = entry.Handle, entry.Address, true
			break
		}
	}
	if !ok {
		// the requester must JOIN first (spec.md §4.3)
		return
	}
	reply := frame.KnownUsers{Entries: e.roster.Snapshot()}
	if err := e.sock.SendTo(addr, reply.Encode()); err != nil {
		e.log.Warnw("KNOWNUSERS send failed", "to", handle, "error", err)
	}
}
