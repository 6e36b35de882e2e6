package frame

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/yusufCakir61/BYMY/roster"
)

// Leave announces a peer's departure.
type Leave struct {
	Handle roster.Handle
}

// Encode renders the LEAVE line.
func (l Leave) Encode() []byte {
	return []byte(fmt.Sprintf("LEAVE %s", l.Handle))
}

// ParseLeave decodes a LEAVE datagram.
func ParseLeave(payload []byte) (Leave, error) {
	parts := fields(decodeLine(payload), 2)
	if len(parts) != 2 || parts[0] != "LEAVE" {
		return Leave{}, errors.Wrap(ErrMalformed, "LEAVE: expected 2 tokens")
	}
	handle, err := roster.NewHandle(parts[1])
	if err != nil {
		return Leave{}, errors.Wrap(ErrMalformed, "LEAVE: "+err.Error())
	}
	return Leave{Handle: handle}, nil
}
