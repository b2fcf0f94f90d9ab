package token

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptToken_RoundTrip(t *testing.T) {
	key := DeriveMasterKey([]byte("cert-pem-bytes"), "device-a")

	payloads := [][]byte{
		[]byte(""),
		[]byte("hello"),
		make([]byte, 4096),
	}
	rand.Read(payloads[2])

	for _, p := range payloads {
		tok := New("ping", "a", "b", append([]byte(nil), p...))
		require.NoError(t, EncryptToken(tok, key))
		assert.True(t, tok.Meta.Encrypted)
		assert.Equal(t, "aes-256-gcm", tok.Meta.Attributes["encryption"])

		require.NoError(t, DecryptToken(tok, key))
		assert.False(t, tok.Meta.Encrypted)
		assert.True(t, bytes.Equal(p, tok.Payload))
	}
}

func TestDecrypt_RejectsShortPayload(t *testing.T) {
	key := DeriveMasterKey([]byte("cert"), "device")
	_, err := Decrypt([]byte("short"), key)
	assert.Error(t, err)
}

func TestEncryptToken_NoOpWhenAlreadyEncrypted(t *testing.T) {
	key := DeriveMasterKey([]byte("cert"), "device")
	tok := New("ping", "a", "b", []byte("data"))
	require.NoError(t, EncryptToken(tok, key))
	first := append([]byte(nil), tok.Payload...)

	require.NoError(t, EncryptToken(tok, key))
	assert.Equal(t, first, tok.Payload)
}

func TestStateMachine_ValidPath(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, StateDisconnected, m.Current())

	require.NoError(t, m.Fire(EventConnect))
	require.NoError(t, m.Fire(EventConnected))
	require.NoError(t, m.Fire(EventAuthenticate))
	require.NoError(t, m.Fire(EventAuthenticated))
	assert.Equal(t, StateAuthenticated, m.Current())
	assert.NoError(t, m.RequireSendReceive())

	require.NoError(t, m.Fire(EventStartTransfer))
	assert.Equal(t, StateTransferring, m.Current())
	assert.NoError(t, m.RequireSendReceive())
}

func TestStateMachine_InvalidTransitionLeavesStateUnchanged(t *testing.T) {
	m := NewMachine()
	err := m.Fire(EventAuthenticated)
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, m.Current())
}

func TestStateMachine_SendReceiveOnlyInAuthenticatedOrTransferring(t *testing.T) {
	m := NewMachine()
	assert.Error(t, m.RequireSendReceive())

	require.NoError(t, m.Fire(EventConnect))
	assert.Error(t, m.RequireSendReceive())

	require.NoError(t, m.Fire(EventConnected))
	assert.Error(t, m.RequireSendReceive())
}

func TestRouter_DispatchByType(t *testing.T) {
	r := NewRouter()
	var got *Token
	r.Register("ping", func(tok *Token) error {
		got = tok
		return nil
	})

	tok := New("ping", "a", "b", []byte("x"))
	dispatched, err := r.Dispatch(tok)
	require.NoError(t, err)
	assert.True(t, dispatched)
	assert.Equal(t, tok, got)

	other := New("pong", "a", "b", []byte("x"))
	dispatched, err = r.Dispatch(other)
	require.NoError(t, err)
	assert.False(t, dispatched)
}
