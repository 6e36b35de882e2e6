package frame

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/yusufCakir61/BYMY/roster"
)

// Join announces a peer's presence, either peer-to-discovery (broadcast)
// or discovery-to-peer (unicast fanout).
type Join struct {
	Handle roster.Handle
	Port   uint16
}

// Encode renders the JOIN line.
func (j Join) Encode() []byte {
	return []byte(fmt.Sprintf("JOIN %s %d", j.Handle, j.Port))
}

// ParseJoin decodes a JOIN datagram.
func ParseJoin(payload []byte) (Join, error) {
	parts := fields(decodeLine(payload), 3)
	if len(parts) != 3 || parts[0] != "JOIN" {
		return Join{}, errors.Wrap(ErrMalformed, "JOIN: expected 3 tokens")
	}
	handle, err := roster.NewHandle(parts[1])
	if err != nil {
		return Join{}, errors.Wrap(ErrMalformed, "JOIN: "+err.Error())
	}
	port, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return Join{}, errors.Wrap(ErrMalformed, "JOIN: bad port")
	}
	return Join{Handle: handle, Port: uint16(port)}, nil
}
