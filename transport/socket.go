// Package transport implements the one-bound-UDP-socket-per-peer model of
// spec.md §4.2: datagram I/o with an optional broadcast permission and
// access to the per-datagram source IP via a control message, adapted from
// the teacher's beacon package (zeromq-gyre/beacon), which layers an
// ipv4.PacketConn over a raw net.PacketConn for the same reason (socket
// option access transport's net.UDPConn alone does not expose).
package transport

import (
	"net"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/yusufCakir61/BYMY/roster"
)

const readBufferBytes = 64 * 1024

// BroadcastAddress is the IPv4 limited broadcast address used for
// discovery traffic (spec.md §4.2/§6).
var BroadcastAddress = net.IPv4bcast

// Socket is one bound UDP socket, usable for both receiving and sending.
// Sends are safe for concurrent use without an additional mutex (spec.md
// §5: "All Transport send calls are thread-safe at the OS level").
type Socket struct {
	conn  *net.UDPConn
	pconn *ipv4.PacketConn
	log   *zap.SugaredLogger
}

// Bind opens a UDP socket on the given port across all local interfaces,
// raises its receive buffer, and enables the broadcast send permission.
func Bind(port uint16, log *zap.SugaredLogger) (*Socket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, errors.Wrapf(err, "binding UDP socket on port %d", port)
	}
	if err := conn.SetReadBuffer(readBufferBytes); err != nil {
		log.Warnw("could not raise socket receive buffer", "error", err)
	}
	if err := enableBroadcast(conn); err != nil {
		log.Warnw("could not enable SO_BROADCAST, outbound broadcasts may fail", "error", err)
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetControlMessage(ipv4.FlagSrc, true); err != nil {
		log.Warnw("could not enable source-address control messages", "error", err)
	}

	return &Socket{conn: conn, pconn: pconn, log: log}, nil
}

// LocalPort reports the port this socket is bound to (useful when bound
// to port 0 for an ephemeral port in tests).
func (s *Socket) LocalPort() uint16 {
	return uint16(s.conn.LocalAddr().(*net.UDPAddr).Port)
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Datagram is one received UDP payload and the address it came from.
type Datagram struct {
	Payload []byte
	Source  net.IP
	Port    int
}

// Receive blocks for the next inbound datagram. Per spec.md §4.2, receive
// failures should retry after a short backoff at the caller; a permanent
// socket error (the connection was closed) is returned so the caller can
// treat it as TransportFatal.
func (s *Socket) Receive(buf []byte) (Datagram, error) {
	n, cm, addr, err := s.pconn.ReadFrom(buf)
	if err != nil {
		return Datagram{}, errors.Wrap(err, "transport receive")
	}
	src := net.IP(nil)
	port := 0
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		src = udpAddr.IP
		port = udpAddr.Port
	}
	if cm != nil && cm.Src != nil {
		src = cm.Src
	}
	payload := make([]byte, n)
	copy(payload, buf[:n])
	return Datagram{Payload: payload, Source: src, Port: port}, nil
}

// SendTo sends payload to a specific peer. Send failures are returned
// for the caller to log; per spec.md §4.2 they never terminate the
// receive loop.
func (s *Socket) SendTo(addr roster.PeerAddress, payload []byte) error {
	_, err := s.conn.WriteToUDP(payload, addr.UDPAddr())
	if err != nil {
		return errors.Wrapf(err, "sending to %s", addr)
	}
	return nil
}

// Broadcast sends payload to the IPv4 limited broadcast address on the
// given port (used for JOIN/LEAVE/WHO discovery traffic).
func (s *Socket) Broadcast(port uint16, payload []byte) error {
	_, err := s.conn.WriteToUDP(payload, &net.UDPAddr{IP: BroadcastAddress, Port: int(port)})
	if err != nil {
		return errors.Wrap(err, "broadcasting")
	}
	return nil
}

// enableBroadcast sets SO_BROADCAST on the socket's file descriptor. The
// net package does not set this by default, and without it a send to a
// broadcast address fails with EACCES on Linux.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
