// Package router implements the Message Router (spec.md §4.4): a per-peer
// receive loop that classifies inbound datagrams on the peer's bound
// socket, a second loop that services front-end IPC commands, and the
// wiring between Transport, Roster, Presence, and Image Transfer. The
// datagram dispatch is grounded on the teacher's node.go handler() loop, generalized
// from the ZRE HELLO/WHISPER/SHOUT/PING message set to the spec's own
// JOIN/LEAVE/WHO/KNOWNUSERS/MSG/IMG_* frames, with no ping/reap ticker
// (the spec's discovery model has no heartbeat).
package router

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yusufCakir61/BYMY/config"
	"github.com/yusufCakir61/BYMY/frame"
	"github.com/yusufCakir61/BYMY/imagetransfer"
	"github.com/yusufCakir61/BYMY/ipc"
	"github.com/yusufCakir61/BYMY/presence"
	"github.com/yusufCakir61/BYMY/roster"
	"github.com/yusufCakir61/BYMY/transport"
)

// receiveBackoff is the short pause before retrying a transient receive
// error, per spec.md §7's TransportTemporary handling.
const receiveBackoff = 50 * time.Millisecond

// Router owns the peer's bound socket and coordinates every other core
// component. Exactly one Router exists per peer process.
type Router struct {
	own       roster.Handle
	ownPort   uint16
	whoisPort uint16

	cfg      *config.Config
	sock     *transport.Socket
	roster   *roster.Roster
	presence *presence.Controller
	images   *imagetransfer.Manager
	endpoint ipc.Endpoint

	log       *zap.SugaredLogger
	wg        sync.WaitGroup
	closeCh   chan struct{}
	closeOnce sync.Once
	fatalCh   chan error
}

// New wires a Router from a loaded Config and a front-end endpoint. The
// socket is bound immediately; Start launches the two receive loops
// (T1: transport, T2: front-end IPC) described in spec.md §5.
func New(cfg *config.Config, endpoint ipc.Endpoint, log *zap.SugaredLogger) (*Router, error) {
	sock, err := transport.Bind(cfg.Port, log)
	if err != nil {
		return nil, err
	}

	r := roster.New(cfg.Handle)
	if cfg.RosterSnapshotPath != "" {
		r.SetSnapshotPath(cfg.RosterSnapshotPath)
	}

	flagPath := cfg.AwayFlagPath
	if flagPath == "" {
		flagPath = "away.flag"
	}
	logPath := cfg.SanitizedImagePath() + "/offline_messages.txt"
	pres, err := presence.New(flagPath, logPath, cfg.AutoReply, cfg.Away, log)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}

	timeout := time.Duration(cfg.TransferTimeout) * time.Second
	if cfg.TransferTimeout == 0 {
		timeout = 30 * time.Second
	}

	rt := &Router{
		own:       cfg.Handle,
		ownPort:   cfg.Port,
		whoisPort: cfg.WhoisPort,
		cfg:       cfg,
		sock:      sock,
		roster:    r,
		presence:  pres,
		endpoint:  endpoint,
		log:       log,
		closeCh:   make(chan struct{}),
		fatalCh:   make(chan error, 1),
	}
	rt.images = imagetransfer.NewManager(cfg.SanitizedImagePath(), timeout, log, rt.onImageFinalized)
	return rt, nil
}

// Roster exposes the router's live roster view, for demos and tests.
func (rt *Router) Roster() *roster.Roster { return rt.roster }

// LocalPort reports the peer port this router's socket is bound to,
// useful when a config's Port is 0 (ephemeral) in tests and demos.
func (rt *Router) LocalPort() uint16 { return rt.sock.LocalPort() }

// Fatal reports a router.ErrTransportFatal if the bound socket fails
// permanently outside of Close's own teardown. A cmd/ entry point should
// select on this alongside its signal channel and exit the process, per
// spec.md §7: "TransportFatal terminates the process".
func (rt *Router) Fatal() <-chan error { return rt.fatalCh }

// Start launches the transport receive loop and the front-end command
// loop as background goroutines.
func (rt *Router) Start() {
	rt.wg.Add(2)
	go rt.transportLoop()
	go rt.commandLoop()
}

// Close broadcasts LEAVE on the discovery port and also sends it to every
// roster entry, closes the front-end endpoint, stops both loops, and
// releases the socket. This is the graceful-shutdown sequence from
// spec.md §5.
func (rt *Router) Close() error {
	var err error
	rt.closeOnce.Do(func() {
		leave := frame.Leave{Handle: rt.own}.Encode()
		if bErr := rt.sock.Broadcast(rt.whoisPort, leave); bErr != nil {
			rt.log.Warnw("LEAVE broadcast on shutdown failed", "error", bErr)
		}
		for _, entry := range rt.roster.Snapshot() {
			_ = rt.sock.SendTo(entry.Address, leave)
		}
		close(rt.closeCh)
		err = rt.sock.Close()
		_ = rt.endpoint.Close()
		rt.wg.Wait()
	})
	return err
}

func (rt *Router) transportLoop() {
	defer rt.wg.Done()
	buf := make([]byte, 65535)
	for {
		dg, err := rt.sock.Receive(buf)
		if err != nil {
			select {
			case <-rt.closeCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				rt.log.Errorw("transport socket closed unexpectedly, terminating", "error", err)
				rt.reportFatal(err)
				return
			}
			rt.log.Warnw("transport receive error, retrying", "error", err)
			time.Sleep(receiveBackoff)
			continue
		}
		rt.handleDatagram(dg)
	}
}

// reportFatal delivers a router.ErrTransportFatal to Fatal()'s channel,
// dropping it if a fatal error was already reported (only the first one
// matters — the process is terminating either way).
func (rt *Router) reportFatal(cause error) {
	select {
	case rt.fatalCh <- errors.Join(ErrTransportFatal, cause):
	default:
	}
}

func (rt *Router) commandLoop() {
	defer rt.wg.Done()
	for {
		line, err := rt.endpoint.ReadCommand()
		if err != nil {
			select {
			case <-rt.closeCh:
				return
			default:
				rt.log.Warnw("front-end command read error", "error", err)
				return
			}
		}
		rt.handleCommand(line)
	}
}

func (rt *Router) notify(format string, args ...interface{}) {
	if err := rt.endpoint.WriteNotification(fmt.Sprintf(format, args...)); err != nil {
		rt.log.Warnw("front-end notification failed", "error", err)
	}
}

func (rt *Router) handleDatagram(dg transport.Datagram) {
	switch frame.Classify(dg.Payload) {
	case frame.KindKnownUsers:
		rt.handleKnownUsers(dg)
	case frame.KindJoin:
		rt.handleJoin(dg)
	case frame.KindLeave:
		rt.handleLeave(dg)
	case frame.KindMsg:
		rt.handleMsg(dg)
	case frame.KindImgStart:
		rt.handleImgStart(dg)
	case frame.KindChunk:
		rt.handleChunk(dg)
	case frame.KindImgEnd:
		rt.handleImgEnd(dg)
	default:
		rt.log.Debugw("dropping unrecognized datagram", "from", dg.Source)
	}
}

func (rt *Router) sourceAddress(dg transport.Datagram) roster.PeerAddress {
	return roster.PeerAddress{IP: dg.Source, Port: uint16(dg.Port)}
}

func (rt *Router) handleKnownUsers(dg transport.Datagram) {
	ku, err := frame.ParseKnownUsers(dg.Payload)
	if err != nil {
		rt.log.Debugw("dropping malformed KNOWNUSERS", "error", err)
		return
	}
	// Merge, not Replace: SPEC_FULL.md §9 resolution of the KNOWNUSERS
	// race so entries learned via direct JOIN fanout are not clobbered
	// by a concurrent, slightly-stale KNOWNUSERS reply.
	rt.roster.Merge(ku.Entries)
	rt.notify("KNOWNUSERS %s", encodeRosterEntries(rt.roster.Snapshot()))
}

func (rt *Router) handleJoin(dg transport.Datagram) {
	j, err := frame.ParseJoin(dg.Payload)
	if err != nil {
		rt.log.Debugw("dropping malformed JOIN", "error", err)
		return
	}
	if j.Handle == rt.own {
		return
	}
	rt.roster.Upsert(j.Handle, roster.PeerAddress{IP: dg.Source, Port: j.Port})
	rt.notify("JOIN %s", j.Handle)
}

func (rt *Router) handleLeave(dg transport.Datagram) {
	l, err := frame.ParseLeave(dg.Payload)
	if err != nil {
		rt.log.Debugw("dropping malformed LEAVE", "error", err)
		return
	}
	if l.Handle == rt.own {
		return
	}
	rt.roster.Delete(l.Handle)
	rt.notify("LEAVE %s", l.Handle)
}

func (rt *Router) handleMsg(dg transport.Datagram) {
	m, err := frame.ParseMsg(dg.Payload)
	if err != nil {
		rt.log.Debugw("dropping malformed MSG", "error", err)
		return
	}
	if m.Sender == rt.own {
		return
	}
	if !rt.presence.IsAway() {
		rt.notify("MSG %s %s", m.Sender, m.Text)
		return
	}
	action, err := rt.presence.RecordInboundWhileAway(m.Sender, m.Text)
	if err != nil {
		rt.log.Errorw("failed to record offline message", "error", err)
		return
	}
	if action.ShouldAutoReply {
		reply := frame.Msg{Sender: rt.own, Text: action.AutoReplyText}.Encode()
		if err := rt.sock.SendTo(rt.sourceAddress(dg), reply); err != nil {
			rt.log.Warnw("autoreply send failed", "to", m.Sender, "error", err)
		}
	}
}

func (rt *Router) handleImgStart(dg transport.Datagram) {
	s, err := frame.ParseImgStart(dg.Payload)
	if err != nil {
		rt.log.Debugw("dropping malformed IMG_START", "error", err)
		return
	}
	rt.images.HandleStart(rt.sourceAddress(dg), s)
}

func (rt *Router) handleChunk(dg transport.Datagram) {
	c, err := frame.ParseChunk(dg.Payload)
	if err != nil {
		rt.log.Debugw("dropping malformed CHUNK", "error", err)
		return
	}
	rt.images.HandleChunk(rt.sourceAddress(dg), c)
}

func (rt *Router) handleImgEnd(dg transport.Datagram) {
	rt.images.HandleEnd(rt.sourceAddress(dg))
}

func (rt *Router) onImageFinalized(sender roster.Handle, filename string) {
	rt.notify("IMG %s %s", sender, filename)
}

// handleCommand services one line from the front-end IPC surface
// (spec.md §6).
func (rt *Router) handleCommand(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "JOIN":
		rt.cmdJoin(fields)
	case "LEAVE":
		rt.cmdLeave(fields)
	case "WHO":
		rt.cmdWho()
	case "SEND_MSG":
		rt.cmdSendMsg(line, fields)
	case "SEND_IMAGE":
		rt.cmdSendImage(fields)
	case "offline":
		rt.cmdOffline()
	case "online":
		rt.cmdOnline()
	default:
		if strings.HasPrefix(line, "/autoreply ") {
			rt.cmdSetAutoReply(strings.TrimPrefix(line, "/autoreply "))
			return
		}
		rt.log.Debugw("dropping unrecognized front-end command", "line", line)
	}
}

func (rt *Router) cmdJoin(fields []string) {
	port := rt.ownPort
	if len(fields) >= 3 {
		if p, err := strconv.ParseUint(fields[2], 10, 16); err == nil {
			port = uint16(p)
		}
	}
	payload := frame.Join{Handle: rt.own, Port: port}.Encode()
	if err := rt.sock.Broadcast(rt.whoisPort, payload); err != nil {
		rt.log.Warnw("JOIN broadcast failed", "error", err)
	}
}

func (rt *Router) cmdLeave(fields []string) {
	payload := frame.Leave{Handle: rt.own}.Encode()
	if err := rt.sock.Broadcast(rt.whoisPort, payload); err != nil {
		rt.log.Warnw("LEAVE broadcast failed", "error", err)
	}
	rt.notify("LEAVE_ACK %s", rt.own)
}

func (rt *Router) cmdWho() {
	if err := rt.sock.Broadcast(rt.whoisPort, frame.Who{}.Encode()); err != nil {
		rt.log.Warnw("WHO broadcast failed", "error", err)
	}
}

func (rt *Router) cmdSendMsg(line string, fields []string) {
	if len(fields) < 2 {
		return
	}
	handle, err := roster.NewHandle(fields[1])
	if err != nil {
		return
	}
	text := ""
	if parts := strings.SplitN(line, " ", 3); len(parts) == 3 {
		text = parts[2]
	}
	addr, ok := rt.roster.Lookup(handle)
	if !ok {
		rt.notify("MSG %s error: %s", rt.own, ErrUnknownRecipient)
		return
	}
	payload := frame.Msg{Sender: rt.own, Text: text}.Encode()
	if err := rt.sock.SendTo(addr, payload); err != nil {
		rt.log.Warnw("SEND_MSG failed", "to", handle, "error", err)
	}
}

func (rt *Router) cmdSendImage(fields []string) {
	if len(fields) < 3 {
		return
	}
	handle, err := roster.NewHandle(fields[1])
	if err != nil {
		return
	}
	addr, ok := rt.roster.Lookup(handle)
	if !ok {
		rt.notify("MSG %s error: %s", rt.own, ErrUnknownRecipient)
		return
	}
	data, err := os.ReadFile(fields[2])
	if err != nil {
		rt.log.Warnw("SEND_IMAGE could not read file", "path", fields[2], "error", err)
		return
	}
	if err := imagetransfer.Send(rt.sock, rt.own, addr, fields[2], data, 0); err != nil {
		rt.log.Warnw("SEND_IMAGE failed", "to", handle, "error", err)
	}
}

func (rt *Router) cmdOffline() {
	if err := rt.presence.GoOffline(); err != nil {
		rt.log.Errorw("GoOffline failed", "error", err)
		return
	}
	payload := frame.Msg{Sender: rt.own, Text: rt.presence.AutoReply()}.Encode()
	for _, entry := range rt.roster.Snapshot() {
		if err := rt.sock.SendTo(entry.Address, payload); err != nil {
			rt.log.Warnw("offline broadcast failed", "to", entry.Handle, "error", err)
		}
	}
}

func (rt *Router) cmdOnline() {
	lines, err := rt.presence.GoOnline()
	if err != nil {
		rt.log.Errorw("GoOnline failed", "error", err)
		return
	}
	for _, l := range lines {
		rt.notify("%s", l)
	}
	payload := frame.Msg{Sender: rt.own, Text: "I am back"}.Encode()
	for _, entry := range rt.roster.Snapshot() {
		if err := rt.sock.SendTo(entry.Address, payload); err != nil {
			rt.log.Warnw("online broadcast failed", "to", entry.Handle, "error", err)
		}
	}
}

// cmdSetAutoReply updates the in-memory autoreply text used by Presence
// and persists it back to config.toml, mirroring the original's
// update_config_value (SPEC_FULL.md §9).
func (rt *Router) cmdSetAutoReply(text string) {
	rt.presence.SetAutoReply(text)
	if rt.cfg == nil {
		return
	}
	if err := rt.cfg.SetAutoReply(text); err != nil {
		rt.log.Warnw("persisting autoreply failed", "error", err)
	}
}

func encodeRosterEntries(entries []roster.Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s %s %d", e.Handle, e.Address.IP, e.Address.Port))
	}
	return strings.Join(parts, ", ")
}
