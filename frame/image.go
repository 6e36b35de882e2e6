package frame

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/yusufCakir61/BYMY/roster"
)

// chunkSeparator is the two-byte marker between a CHUNK frame's ASCII
// header and its raw binary body.
var chunkSeparator = []byte("||")

// ImgStart opens an image transfer, fixing the total chunk count.
type ImgStart struct {
	Sender      roster.Handle
	Filename    string
	TotalChunks int
}

// Encode renders the IMG_START line.
func (s ImgStart) Encode() []byte {
	return []byte(fmt.Sprintf("IMG_START %s %s %d", s.Sender, s.Filename, s.TotalChunks))
}

// ParseImgStart decodes an IMG_START datagram.
func ParseImgStart(payload []byte) (ImgStart, error) {
	line := decodeLine(payload)
	parts := fields(line, 4)
	if len(parts) != 4 || parts[0] != "IMG_START" {
		return ImgStart{}, errors.Wrap(ErrMalformed, "IMG_START: expected 4 tokens")
	}
	handle, err := roster.NewHandle(parts[1])
	if err != nil {
		return ImgStart{}, errors.Wrap(ErrMalformed, "IMG_START: "+err.Error())
	}
	total, err := strconv.Atoi(parts[3])
	if err != nil || total < 0 {
		return ImgStart{}, errors.Wrap(ErrMalformed, "IMG_START: bad total_chunks")
	}
	return ImgStart{Sender: handle, Filename: parts[2], TotalChunks: total}, nil
}

// Chunk carries one ordered slice of a transfer's raw bytes.
type Chunk struct {
	Index int
	Data  []byte
}

// Encode renders the CHUNK frame: ASCII header, "||" separator, raw bytes.
func (c Chunk) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString("CHUNK ")
	buf.WriteString(strconv.Itoa(c.Index))
	buf.Write(chunkSeparator)
	buf.Write(c.Data)
	return buf.Bytes()
}

// ParseChunk decodes a CHUNK datagram. A malformed header or missing
// separator discards the whole datagram (spec.md §4.5).
func ParseChunk(payload []byte) (Chunk, error) {
	idx := bytes.Index(payload, chunkSeparator)
	if idx < 0 {
		return Chunk{}, errors.Wrap(ErrMalformed, "CHUNK: missing || separator")
	}
	header := strings.TrimSpace(string(payload[:idx]))
	tok := strings.Fields(header)
	if len(tok) != 2 || tok[0] != "CHUNK" {
		return Chunk{}, errors.Wrap(ErrMalformed, "CHUNK: bad header")
	}
	n, err := strconv.Atoi(tok[1])
	if err != nil || n < 0 {
		return Chunk{}, errors.Wrap(ErrMalformed, "CHUNK: non-integer index")
	}
	data := payload[idx+len(chunkSeparator):]
	body := make([]byte, len(data))
	copy(body, data)
	return Chunk{Index: n, Data: body}, nil
}

// ImgEnd closes an image transfer.
type ImgEnd struct{}

// Encode renders the fixed 7-byte IMG_END frame.
func (ImgEnd) Encode() []byte { return []byte("IMG_END") }

// ParseImgEnd decodes an IMG_END datagram.
func ParseImgEnd(payload []byte) (ImgEnd, error) {
	if !bytes.Equal(payload, []byte("IMG_END")) {
		return ImgEnd{}, errors.Wrap(ErrMalformed, "IMG_END: unexpected payload")
	}
	return ImgEnd{}, nil
}
