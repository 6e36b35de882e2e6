package frame

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/yusufCakir61/BYMY/roster"
)

// KnownUsers is a discovery-to-peer roster reply: every entry the
// Discovery Engine currently knows about, including the requester.
type KnownUsers struct {
	Entries []roster.Entry
}

// Encode renders the KNOWNUSERS line, joining entries with ", " and each
// entry's fields with a single space, matching the original protocol.
func (k KnownUsers) Encode() []byte {
	parts := make([]string, 0, len(k.Entries))
	for _, e := range k.Entries {
		parts = append(parts, string(e.Handle)+" "+e.Address.IP.String()+" "+strconv.Itoa(int(e.Address.Port)))
	}
	return []byte("KNOWNUSERS " + strings.Join(parts, ", "))
}

// ParseKnownUsers decodes a KNOWNUSERS datagram. An empty entry list (no
// known peers yet) is valid.
func ParseKnownUsers(payload []byte) (KnownUsers, error) {
	line := decodeLine(payload)
	const prefix = "KNOWNUSERS"
	if !strings.HasPrefix(line, prefix) {
		return KnownUsers{}, errors.Wrap(ErrMalformed, "KNOWNUSERS: missing prefix")
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if rest == "" {
		return KnownUsers{}, nil
	}

	var entries []roster.Entry
	for _, item := range strings.Split(rest, ", ") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		tok := strings.Fields(item)
		if len(tok) != 3 {
			return KnownUsers{}, errors.Wrapf(ErrMalformed, "KNOWNUSERS: entry %q must have 3 tokens", item)
		}
		handle, err := roster.NewHandle(tok[0])
		if err != nil {
			return KnownUsers{}, errors.Wrap(ErrMalformed, "KNOWNUSERS: "+err.Error())
		}
		port, err := strconv.ParseUint(tok[2], 10, 16)
		if err != nil {
			return KnownUsers{}, errors.Wrap(ErrMalformed, "KNOWNUSERS: bad port")
		}
		addr, err := roster.NewPeerAddress(tok[1], uint16(port))
		if err != nil {
			return KnownUsers{}, errors.Wrap(ErrMalformed, "KNOWNUSERS: "+err.Error())
		}
		entries = append(entries, roster.Entry{Handle: handle, Address: addr})
	}
	return KnownUsers{Entries: entries}, nil
}
