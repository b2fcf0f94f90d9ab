package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	fb, err := openFileBackend(t.TempDir())
	require.NoError(t, err)
	return &Vault{
		backend:          fb,
		meta:             make(map[string]*Entry),
		maxAccessEntries: 10000,
	}
}

func TestFileBackend_RoundTrip(t *testing.T) {
	v := newTestVault(t)
	assert.Equal(t, BackendEncryptedFile, v.Backend())

	require.NoError(t, v.Create("k1", KeyTypeCustom, []byte("secret-value"), "", nil, nil))
	got, err := v.Get("k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret-value"), got)
}

func TestCreate_DuplicateIDFails(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Create("dup", KeyTypeCustom, []byte("a"), "", nil, nil))
	err := v.Create("dup", KeyTypeCustom, []byte("b"), "", nil, nil)
	assert.Error(t, err)
}

func TestUpdate_ChangesStoredValueAndBumpsVersion(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Create("k", KeyTypeCustom, []byte("v1"), "", nil, nil))
	require.NoError(t, v.Update("k", []byte("v2")))

	got, err := v.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	entry, ok := v.Metadata("k")
	require.True(t, ok)
	assert.Equal(t, 2, entry.Version)
}

func TestDelete_RemovesKeyAndMetadata(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Create("k", KeyTypeCustom, []byte("v"), "", nil, nil))
	require.NoError(t, v.Delete("k"))

	_, err := v.Get("k")
	assert.Error(t, err)
	_, ok := v.Metadata("k")
	assert.False(t, ok)
}

func TestListKeys_ReturnsAllCreated(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Create("a", KeyTypeCustom, []byte("1"), "", nil, nil))
	require.NoError(t, v.Create("b", KeyTypeCustom, []byte("2"), "", nil, nil))
	assert.ElementsMatch(t, []string{"a", "b"}, v.ListKeys())
}

func TestGet_RefusesExpiredKey(t *testing.T) {
	v := newTestVault(t)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, v.Create("k", KeyTypeCustom, []byte("v"), "", &past, nil))

	_, err := v.Get("k")
	assert.Error(t, err)
}

func TestGenerateAESKey_RejectsInvalidSize(t *testing.T) {
	v := newTestVault(t)
	_, err := v.GenerateAESKey("bad", 100)
	assert.Error(t, err)
}

func TestGenerateAESKey_StoresCorrectLength(t *testing.T) {
	v := newTestVault(t)
	key, err := v.GenerateAESKey("aes-1", 256)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	entry, ok := v.Metadata("aes-1")
	require.True(t, ok)
	assert.Equal(t, KeyTypeAesEncryption, entry.Type)
	assert.Equal(t, 1, entry.Version)
}

func TestGenerateHMACKey_RejectsOutOfRangeSize(t *testing.T) {
	v := newTestVault(t)
	_, err := v.GenerateHMACKey("bad", 4)
	assert.Error(t, err)
}

func TestSign_ProducesDeterministicHMAC(t *testing.T) {
	v := newTestVault(t)
	_, err := v.GenerateHMACKey("hmac-1", 32)
	require.NoError(t, err)

	sig1, err := v.Sign("hmac-1", []byte("message"))
	require.NoError(t, err)
	sig2, err := v.Sign("hmac-1", []byte("message"))
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 32)
}

func TestAccessLog_RecordsOperations(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Create("k", KeyTypeCustom, []byte("v"), "", nil, nil))
	_, _ = v.Get("k")

	log := v.AccessLog()
	require.GreaterOrEqual(t, len(log), 2)
	assert.Equal(t, AccessCreate, log[0].Operation)
}

func TestAccessLog_DropsOldestHalfWhenOverCap(t *testing.T) {
	v := newTestVault(t)
	v.maxAccessEntries = 10
	for i := 0; i < 25; i++ {
		v.record(AccessGet, "x", true)
	}
	assert.LessOrEqual(t, len(v.AccessLog()), 10)
}
