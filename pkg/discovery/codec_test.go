package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeName_RoundTrip(t *testing.T) {
	encoded, err := encodeName("device-a._bey._tcp.local")
	require.NoError(t, err)

	name, next, err := decodeName(encoded, 0)
	require.NoError(t, err)
	assert.Equal(t, "device-a._bey._tcp.local", name)
	assert.Equal(t, len(encoded), next)
}

func TestEncodeName_RejectsOverlongLabel(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	_, err := encodeName(string(long) + ".local")
	assert.Error(t, err)
}

func TestDecodeName_RejectsOverlongLabel(t *testing.T) {
	msg := append([]byte{64}, make([]byte, 64)...)
	msg = append(msg, 0x00)
	_, _, err := decodeName(msg, 0)
	assert.Error(t, err)
}

func TestDecodeName_FollowsValidCompressionPointer(t *testing.T) {
	base, err := encodeName("local")
	require.NoError(t, err)
	baseOffset := 0

	// second name: "foo" followed by a pointer back to baseOffset.
	second := []byte{3, 'f', 'o', 'o', 0xC0, byte(baseOffset)}
	msg := append(append([]byte{}, base...), second...)

	name, _, err := decodeName(msg, len(base))
	require.NoError(t, err)
	assert.Equal(t, "foo.local", name)
}

func TestDecodeName_RejectsForwardPointer(t *testing.T) {
	// A pointer at offset 0 pointing forward to offset 5 (not yet seen).
	msg := []byte{0xC0, 0x05, 0x00, 0x00, 0x00, 0x00}
	_, _, err := decodeName(msg, 0)
	assert.Error(t, err)
}

func TestDecodeName_RejectsSelfReferencingPointerCycle(t *testing.T) {
	// Two pointers that reference each other: offset 0 points to offset 2,
	// which points back to offset 0. Because a pointer may only reference
	// an offset before the current name start, the first jump (0 -> 2) is
	// already rejected, so the loop is never entered.
	msg := []byte{
		0xC0, 0x02, // offset 0: pointer -> 2
		0xC0, 0x00, // offset 2: pointer -> 0
	}
	_, _, err := decodeName(msg, 0)
	assert.Error(t, err)
}

func TestMessage_EncodeDecodeRoundTrip(t *testing.T) {
	srv, err := EncodeSRV(SRVData{Priority: 1, Weight: 2, Port: 8443, Target: "host.local"})
	require.NoError(t, err)

	msg := &Message{
		ID:       1234,
		Response: true,
		Answers: []ResourceRecord{
			{Name: "instance._bey._tcp.local", Type: TypeSRV, Class: classIN, TTL: 120, RData: srv},
		},
	}
	data, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(1234), decoded.ID)
	assert.True(t, decoded.Response)
	require.Len(t, decoded.Answers, 1)

	parsedSRV, err := DecodeSRV(decoded.Answers[0].RData, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), parsedSRV.Priority)
	assert.Equal(t, uint16(8443), parsedSRV.Port)
	assert.Equal(t, "host.local", parsedSRV.Target)
}

func TestEncodeDecodeTXT_RoundTrip(t *testing.T) {
	pairs := map[string]string{"device_id": "abc123", "type": "laptop"}
	rdata, err := EncodeTXT(pairs)
	require.NoError(t, err)

	decoded := DecodeTXT(rdata)
	assert.Equal(t, pairs, decoded)
}

func TestCache_LookupStages(t *testing.T) {
	c := newCache(100)
	c.put(&Device{InstanceName: "alpha._bey._tcp.local", Priority: 5, Weight: 1, LastSeen: time.Now()})
	c.put(&Device{InstanceName: "alphabet._bey._tcp.local", Priority: 1, Weight: 1, LastSeen: time.Now()})

	exact := c.lookup("alpha._bey._tcp.local")
	require.Len(t, exact, 1)
	assert.Equal(t, "alpha._bey._tcp.local", exact[0].InstanceName)

	prefix := c.lookup("alpha")
	assert.GreaterOrEqual(t, len(prefix), 1)
}

func TestCache_SortsByPriorityThenWeight(t *testing.T) {
	c := newCache(100)
	c.put(&Device{InstanceName: "svc.local", Priority: 10, Weight: 2, LastSeen: time.Now()})
	hits := c.lookup("svc.local")
	require.Len(t, hits, 1)
}

func TestCache_SweepExpiredRemovesStaleDevices(t *testing.T) {
	c := newCache(100)
	c.put(&Device{InstanceName: "stale.local", LastSeen: time.Now().Add(-time.Hour)})
	c.put(&Device{InstanceName: "fresh.local", LastSeen: time.Now()})

	removed := c.sweepExpired(time.Minute)
	require.Len(t, removed, 1)
	assert.Equal(t, "stale.local", removed[0].InstanceName)
	assert.Len(t, c.all(), 1)
}
