// Package roster owns the live-participant data model shared by the
// Discovery Engine, Message Router, and Presence Controller: a Handle is a
// peer's chosen identifier, a PeerAddress is where to reach it, and a
// Roster is the mutex-guarded map between the two.
package roster

import (
	"encoding/json"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"
)

// ErrEmptyHandle is returned when a Handle is constructed from a blank
// token or one containing whitespace or non-printable characters.
var ErrEmptyHandle = errors.New("handle must be a non-empty token of printable, non-whitespace characters")

// Handle is a peer's chosen identifier. It is always non-empty and free of
// whitespace, which is what lets the textual frame grammar tokenize it with
// a plain whitespace split.
type Handle string

// NewHandle validates and wraps a raw token as a Handle.
func NewHandle(raw string) (Handle, error) {
	if raw == "" || strings.IndexFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	}) >= 0 {
		return "", ErrEmptyHandle
	}
	return Handle(raw), nil
}

func (h Handle) String() string { return string(h) }

// PeerAddress is an IPv4 address and UDP port pair identifying where a
// peer can be reached.
type PeerAddress struct {
	IP   net.IP
	Port uint16
}

// NewPeerAddress parses a dotted-quad IP string and port into a PeerAddress.
func NewPeerAddress(ip string, port uint16) (PeerAddress, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return PeerAddress{}, errors.Errorf("invalid IPv4 address %q", ip)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return PeerAddress{}, errors.Errorf("address %q is not IPv4", ip)
	}
	return PeerAddress{IP: v4, Port: port}, nil
}

// Equal reports whether two addresses name the same IP and port.
func (a PeerAddress) Equal(b PeerAddress) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

func (a PeerAddress) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
}

// UDPAddr converts a PeerAddress to the stdlib net.UDPAddr used by
// transport sends.
func (a PeerAddress) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: int(a.Port)}
}

// Roster is the in-memory map of Handle to PeerAddress. All mutation and
// lookup is serialized through a single RWMutex. The invariant that the
// roster never contains its own peer's Handle is enforced centrally here,
// resolving the "own-handle filtering duplicated at three layers" design
// note: callers never need their own duplicate check.
type Roster struct {
	mu       sync.RWMutex
	self     Handle
	entries  map[Handle]PeerAddress
	snapshot string // optional path; empty disables persistence
}

// New creates an empty roster that will never accept the given own handle.
func New(self Handle) *Roster {
	return &Roster{
		self:    self,
		entries: make(map[Handle]PeerAddress),
	}
}

// SetSnapshotPath enables (or, given "", disables) writing a JSON roster
// snapshot to disk after every mutation, mirroring the original
// network_process.py's save_known_users.
func (r *Roster) SetSnapshotPath(path string) {
	r.mu.Lock()
	r.snapshot = path
	r.mu.Unlock()
}

// Upsert inserts or replaces the address for handle. A JOIN for an
// existing handle with a different address overwrites the old one
// (last-writer-wins per spec). Upserting the roster's own handle is a
// silent no-op.
func (r *Roster) Upsert(handle Handle, addr PeerAddress) {
	r.mu.Lock()
	if handle != r.self {
		r.entries[handle] = addr
	}
	r.persistLocked()
	r.mu.Unlock()
}

// Delete removes handle from the roster. Deleting an absent handle, or
// deleting twice, is a no-op (LEAVE is idempotent).
func (r *Roster) Delete(handle Handle) {
	r.mu.Lock()
	delete(r.entries, handle)
	r.persistLocked()
	r.mu.Unlock()
}

// Lookup returns the address for handle, if present.
func (r *Roster) Lookup(handle Handle) (PeerAddress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.entries[handle]
	return addr, ok
}

// LookupBySourceIP returns a handle whose current address matches ip, used
// by the Discovery Engine to authorize a WHO reply. When several entries
// share ip, which of them is returned is not defined.
func (r *Roster) LookupBySourceIP(ip net.IP) (Handle, PeerAddress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for h, addr := range r.entries {
		if addr.IP.Equal(ip) {
			return h, addr, true
		}
	}
	return "", PeerAddress{}, false
}

// Entry pairs a Handle with its PeerAddress, used for snapshot output.
type Entry struct {
	Handle  Handle
	Address PeerAddress
}

// Snapshot returns every current roster entry in no particular order.
func (r *Roster) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for h, a := range r.entries {
		out = append(out, Entry{Handle: h, Address: a})
	}
	return out
}

// Len reports the number of entries currently in the roster.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Replace discards the entire roster and installs entries in its place.
// This is the original protocol's KNOWNUSERS behavior: a full replacement
// that can transiently lose entries learned via peer JOIN fanout before
// the first WHO reply lands (the "KNOWNUSERS race" open question).
// SPEC_FULL.md resolves this by using Merge instead in the router; Replace
// is kept for callers (and tests) that want the original semantics.
func (r *Roster) Replace(entries []Entry) {
	r.mu.Lock()
	r.entries = make(map[Handle]PeerAddress, len(entries))
	for _, e := range entries {
		if e.Handle != r.self {
			r.entries[e.Handle] = e.Address
		}
	}
	r.persistLocked()
	r.mu.Unlock()
}

// Merge installs every entry from entries without discarding existing
// entries absent from the list. This is the reinterpretation SPEC_FULL.md
// adopts for inbound KNOWNUSERS, so entries this peer already learned
// about via direct JOIN fanout survive a concurrent, slightly-stale
// KNOWNUSERS reply.
func (r *Roster) Merge(entries []Entry) {
	r.mu.Lock()
	for _, e := range entries {
		if e.Handle != r.self {
			r.entries[e.Handle] = e.Address
		}
	}
	r.persistLocked()
	r.mu.Unlock()
}

type snapshotEntry struct {
	Handle string `json:"handle"`
	IP     string `json:"ip"`
	Port   uint16 `json:"port"`
}

// persistLocked writes the current roster to r.snapshot as JSON. Must be
// called with r.mu held. Failures are swallowed: the snapshot is an
// optional, best-effort convenience, never load-bearing for correctness.
func (r *Roster) persistLocked() {
	if r.snapshot == "" {
		return
	}
	out := make([]snapshotEntry, 0, len(r.entries))
	for h, a := range r.entries {
		out = append(out, snapshotEntry{Handle: string(h), IP: a.IP.String(), Port: a.Port})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	_ = os.WriteFile(r.snapshot, data, 0o644)
}
