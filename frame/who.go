package frame

import "github.com/pkg/errors"

// Who is a roster request; it carries no payload beyond its own name.
type Who struct{}

// Encode renders the WHO line.
func (Who) Encode() []byte { return []byte("WHO") }

// ParseWho decodes a WHO datagram.
func ParseWho(payload []byte) (Who, error) {
	line := decodeLine(payload)
	if fields(line, 1)[0] != "WHO" {
		return Who{}, errors.Wrap(ErrMalformed, "WHO: unexpected payload")
	}
	return Who{}, nil
}
