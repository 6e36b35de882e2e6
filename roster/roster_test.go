package roster

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(t *testing.T, ip string, port uint16) PeerAddress {
	t.Helper()
	a, err := NewPeerAddress(ip, port)
	require.NoError(t, err)
	return a
}

func TestHandleValidation(t *testing.T) {
	_, err := NewHandle("")
	assert.ErrorIs(t, err, ErrEmptyHandle)

	_, err = NewHandle("bad handle")
	assert.ErrorIs(t, err, ErrEmptyHandle)

	h, err := NewHandle("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", h.String())
}

func TestRosterNeverContainsOwnHandle(t *testing.T) {
	r := New("alice")
	r.Upsert("alice", addr(t, "10.0.0.1", 5001))
	_, ok := r.Lookup("alice")
	assert.False(t, ok, "own handle must never be inserted")
	assert.Equal(t, 0, r.Len())
}

func TestUpsertLastWriterWins(t *testing.T) {
	r := New("self")
	r.Upsert("bob", addr(t, "10.0.0.2", 5002))
	r.Upsert("bob", addr(t, "10.0.0.3", 6000))

	got, ok := r.Lookup("bob")
	require.True(t, ok)
	assert.Equal(t, uint16(6000), got.Port)
	assert.Equal(t, "10.0.0.3", got.IP.String())
}

func TestDeleteIsIdempotent(t *testing.T) {
	r := New("self")
	r.Upsert("bob", addr(t, "10.0.0.2", 5002))
	r.Delete("bob")
	r.Delete("bob") // second LEAVE is a no-op
	_, ok := r.Lookup("bob")
	assert.False(t, ok)
}

func TestLookupBySourceIP(t *testing.T) {
	r := New("self")
	r.Upsert("bob", addr(t, "10.0.0.2", 5002))

	h, a, ok := r.LookupBySourceIP(net.ParseIP("10.0.0.2"))
	require.True(t, ok)
	assert.Equal(t, Handle("bob"), h)
	assert.Equal(t, uint16(5002), a.Port)

	_, _, ok = r.LookupBySourceIP(net.ParseIP("10.0.0.99"))
	assert.False(t, ok)
}

func TestReplaceDiscardsAbsentEntries(t *testing.T) {
	r := New("self")
	r.Upsert("bob", addr(t, "10.0.0.2", 5002))
	r.Replace([]Entry{{Handle: "carol", Address: addr(t, "10.0.0.3", 5003)}})

	_, ok := r.Lookup("bob")
	assert.False(t, ok, "Replace discards entries absent from the new list")
	_, ok = r.Lookup("carol")
	assert.True(t, ok)
}

func TestMergeKeepsAbsentEntries(t *testing.T) {
	r := New("self")
	r.Upsert("bob", addr(t, "10.0.0.2", 5002))
	r.Merge([]Entry{{Handle: "carol", Address: addr(t, "10.0.0.3", 5003)}})

	_, ok := r.Lookup("bob")
	assert.True(t, ok, "Merge keeps entries absent from the incoming list")
	_, ok = r.Lookup("carol")
	assert.True(t, ok)
}

func TestReplaceAndMergeNeverInsertOwnHandle(t *testing.T) {
	r := New("self")
	r.Replace([]Entry{{Handle: "self", Address: addr(t, "10.0.0.1", 1)}})
	assert.Equal(t, 0, r.Len())

	r.Merge([]Entry{{Handle: "self", Address: addr(t, "10.0.0.1", 1)}})
	assert.Equal(t, 0, r.Len())
}

func TestApplyingSameJoinTwiceIsIdempotent(t *testing.T) {
	r := New("self")
	a := addr(t, "10.0.0.2", 5002)
	for i := 0; i < 3; i++ {
		r.Upsert("bob", a)
	}
	assert.Equal(t, 1, r.Len())
}
