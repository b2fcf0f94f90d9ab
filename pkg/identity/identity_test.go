package identity

import (
	"testing"
	"time"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentityConfig() *config.IdentityConfig {
	cfg := &config.IdentityConfig{}
	full := config.Default()
	*cfg = *full.Identity
	cfg.KeySize = 2048
	cfg.MaxCertificateChainLen = 3
	return cfg
}

func TestCA_BootstrapAndIssue(t *testing.T) {
	dir := t.TempDir()
	ca, err := NewCA(dir, testIdentityConfig(), nil)
	require.NoError(t, err)

	root := ca.Certificate()
	assert.Equal(t, TypeRootCA, root.Type)
	assert.Len(t, root.Fingerprint, 64)
	assert.True(t, root.IsValidNow(time.Now()))

	cert, err := ca.Issue("device-a", nil)
	require.NoError(t, err)
	assert.Equal(t, "device-a", cert.SubjectDeviceID)
	assert.Equal(t, root.Fingerprint, cert.IssuerID)
	assert.True(t, cert.IsValidNow(time.Now()))

	// Reissuing with a still-valid cert returns the same certificate.
	same, err := ca.Issue("device-a", cert)
	require.NoError(t, err)
	assert.Equal(t, cert.Fingerprint, same.Fingerprint)
}

func TestCA_ReloadMatchesPersistedKey(t *testing.T) {
	dir := t.TempDir()
	cfg := testIdentityConfig()

	ca1, err := NewCA(dir, cfg, nil)
	require.NoError(t, err)
	fp1 := ca1.Certificate().Fingerprint

	ca2, err := NewCA(dir, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, fp1, ca2.Certificate().Fingerprint)
}

func TestVerify_RejectsExpired(t *testing.T) {
	dir := t.TempDir()
	ca, err := NewCA(dir, testIdentityConfig(), nil)
	require.NoError(t, err)

	cert, err := ca.Issue("device-b", nil)
	require.NoError(t, err)
	cert.ExpiresAt = time.Now().Add(-time.Hour)

	err = Verify(cert, VerifyOptions{}, time.Now())
	assert.Error(t, err)
}

func TestVerify_RejectsRevoked(t *testing.T) {
	dir := t.TempDir()
	ca, err := NewCA(dir, testIdentityConfig(), nil)
	require.NoError(t, err)

	cert, err := ca.Issue("device-c", nil)
	require.NoError(t, err)
	cert.Status = StatusRevoked

	err = Verify(cert, VerifyOptions{}, time.Now())
	assert.Error(t, err)
}

func TestVerifyChain_EnforcesLengthAndOrder(t *testing.T) {
	dir := t.TempDir()
	ca, err := NewCA(dir, testIdentityConfig(), nil)
	require.NoError(t, err)

	leaf, err := ca.Issue("device-d", nil)
	require.NoError(t, err)
	root := ca.Certificate()

	chain := []*Certificate{leaf, root}
	err = VerifyChain(chain, VerifyOptions{MaxChainLength: 3}, time.Now())
	assert.NoError(t, err)

	// Too long.
	tooLong := []*Certificate{leaf, root, root, root}
	err = VerifyChain(tooLong, VerifyOptions{MaxChainLength: 3}, time.Now())
	assert.Error(t, err)
}

func TestCheckCRL_MatchesSerialWindow(t *testing.T) {
	dir := t.TempDir()
	ca, err := NewCA(dir, testIdentityConfig(), nil)
	require.NoError(t, err)
	cert, err := ca.Issue("device-e", nil)
	require.NoError(t, err)

	ser, err := serial(cert)
	require.NoError(t, err)

	crl := append([]byte("leading-noise-"), ser...)
	crl = append(crl, []byte("-trailing-noise")...)

	revoked, err := CheckCRL(cert, crl)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = CheckCRL(cert, []byte("no match here at all"))
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestManager_VerifyUsesCache(t *testing.T) {
	dir := t.TempDir()
	cfg := testIdentityConfig()
	mgr, err := NewManager(dir, cfg, nil)
	require.NoError(t, err)

	cert, err := mgr.IssueDevice("device-f")
	require.NoError(t, err)

	err = mgr.Verify(cert, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, mgr.cache.Len())

	// Second call should hit cache and still be nil.
	err = mgr.Verify(cert, nil)
	assert.NoError(t, err)
}

func TestManager_RevokeInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	cfg := testIdentityConfig()
	mgr, err := NewManager(dir, cfg, nil)
	require.NoError(t, err)

	cert, err := mgr.IssueDevice("device-g")
	require.NoError(t, err)
	require.NoError(t, mgr.Verify(cert, nil))

	assert.True(t, mgr.Revoke("device-g"))
	err = mgr.Verify(cert, nil)
	assert.Error(t, err)
}

func TestVerificationCache_EvictsOldestHalf(t *testing.T) {
	cache := NewVerificationCache(time.Minute)
	for i := 0; i < 1000; i++ {
		cache.Put(string(rune(i)), nil)
	}
	assert.Equal(t, 1000, cache.Len())
	cache.Put("one-more", nil)
	assert.LessOrEqual(t, cache.Len(), 1000)
}
