package frame

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/yusufCakir61/BYMY/roster"
)

// Msg is a chat-text frame. Text extends to the end of the datagram and
// may be empty: "a MSG whose text is empty is still delivered".
type Msg struct {
	Sender roster.Handle
	Text   string
}

// Encode renders the MSG line.
func (m Msg) Encode() []byte {
	return []byte(fmt.Sprintf("MSG %s %s", m.Sender, m.Text))
}

// ParseMsg decodes a MSG datagram, splitting into at most three tokens so
// the text body keeps any internal whitespace.
func ParseMsg(payload []byte) (Msg, error) {
	line := decodeLine(payload)
	parts := fields(line, 3)
	if len(parts) < 2 || parts[0] != "MSG" {
		return Msg{}, errors.Wrap(ErrMalformed, "MSG: expected sender")
	}
	handle, err := roster.NewHandle(parts[1])
	if err != nil {
		return Msg{}, errors.Wrap(ErrMalformed, "MSG: "+err.Error())
	}
	text := ""
	if len(parts) == 3 {
		text = parts[2]
	}
	return Msg{Sender: handle, Text: text}, nil
}
