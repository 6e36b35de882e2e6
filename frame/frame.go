// Package frame implements the wire grammar shared by every peer: the
// textual line protocol (JOIN/LEAVE/WHO/KNOWNUSERS/MSG) and the binary
// image-chunk frame (IMG_START/CHUNK/IMG_END). A UDP datagram is
// self-delimiting, so no length prefix is needed; Classify inspects the
// leading bytes to tell the two families apart before a full parse.
package frame

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformed is wrapped by every Parse* function on a grammar violation.
// Per spec.md §7 it is always logged and dropped by callers, never
// propagated out of a receive loop.
var ErrMalformed = errors.New("frame malformed")

// Kind enumerates every recognized frame on the wire.
type Kind int

const (
	KindUnknown Kind = iota
	KindJoin
	KindLeave
	KindWho
	KindKnownUsers
	KindMsg
	KindImgStart
	KindChunk
	KindImgEnd
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "JOIN"
	case KindLeave:
		return "LEAVE"
	case KindWho:
		return "WHO"
	case KindKnownUsers:
		return "KNOWNUSERS"
	case KindMsg:
		return "MSG"
	case KindImgStart:
		return "IMG_START"
	case KindChunk:
		return "CHUNK"
	case KindImgEnd:
		return "IMG_END"
	default:
		return "UNKNOWN"
	}
}

// Classify identifies which frame family a raw datagram belongs to by
// inspecting its ASCII prefix. IMG_START, CHUNK, and IMG_END are reserved
// tokens checked first since they are binary-safe and must not be run
// through UTF-8 line decoding.
func Classify(payload []byte) Kind {
	switch {
	case hasPrefix(payload, "IMG_START"):
		return KindImgStart
	case hasPrefix(payload, "CHUNK"):
		return KindChunk
	case hasPrefix(payload, "IMG_END"):
		return KindImgEnd
	}

	line := strings.ToValidUTF8(string(payload), "")
	switch {
	case hasPrefix([]byte(line), "JOIN"):
		return KindJoin
	case hasPrefix([]byte(line), "LEAVE"):
		return KindLeave
	case line == "WHO" || hasPrefix([]byte(line), "WHO "):
		return KindWho
	case hasPrefix([]byte(line), "KNOWNUSERS"):
		return KindKnownUsers
	case hasPrefix([]byte(line), "MSG"):
		return KindMsg
	default:
		return KindUnknown
	}
}

func hasPrefix(b []byte, prefix string) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == prefix
}

// fields trims surrounding whitespace from a decoded textual line and
// splits it on single spaces into at most n tokens, the last of which
// retains any embedded whitespace.
func fields(line string, n int) []string {
	return strings.SplitN(strings.TrimSpace(line), " ", n)
}

func decodeLine(payload []byte) string {
	return strings.ToValidUTF8(string(payload), "")
}
