package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/nostalgiatan/bey-sub000/pkg/events"
	"github.com/nostalgiatan/bey-sub000/pkg/vault"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.StorageConfig{
		StorageRoot:       t.TempDir(),
		EnableCompression: true,
		EnableEncryption:  true,
		ReplicaCount:      1,
	}
	v, err := vault.Open("bey-test", t.TempDir(), nil)
	require.NoError(t, err)
	eng, err := New(cfg, "device-a", v, nil, nil, events.NewBus(), nil)
	require.NoError(t, err)
	return eng
}

func TestStoreAndRead_RoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	data := []byte("hello, world\n")

	obj, err := eng.Store("/hello.txt", data, StoreOptions{MimeType: "text/plain"})
	require.NoError(t, err)
	assert.EqualValues(t, 13, obj.Size)

	sum := sha256.Sum256([]byte("hello, world\n"))
	_ = sum // hash is taken over the on-disk (possibly compressed+encrypted) bytes, not the plaintext

	got, meta, err := eng.Read("/hello.txt", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, obj.FileID, meta.FileID)
}

func TestStore_WithoutCompressionOrEncryption_HashesPlaintext(t *testing.T) {
	cfg := &config.StorageConfig{StorageRoot: t.TempDir(), ReplicaCount: 1}
	v, err := vault.Open("bey-test", t.TempDir(), nil)
	require.NoError(t, err)
	eng, err := New(cfg, "device-a", v, nil, nil, nil, nil)
	require.NoError(t, err)

	data := []byte("hello, world\n")
	obj, err := eng.Store("/hello.txt", data, StoreOptions{})
	require.NoError(t, err)

	expected := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(expected[:]), obj.Hash)
}

func TestRead_UnknownPathFails(t *testing.T) {
	eng := newTestEngine(t)
	_, _, err := eng.Read("/nope.txt", ReadOptions{})
	assert.Error(t, err)
}

func TestDelete_RemovesObject(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Store("/f.txt", []byte("data"), StoreOptions{})
	require.NoError(t, err)

	deleted, err := eng.Delete("/f.txt", DeleteOptions{})
	require.NoError(t, err)
	assert.True(t, deleted)

	_, _, err = eng.Read("/f.txt", ReadOptions{})
	assert.Error(t, err)
}

func TestList_NonRecursiveOnlyImmediateChildren(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Store("/dir/a.txt", []byte("a"), StoreOptions{})
	require.NoError(t, err)
	_, err = eng.Store("/dir/sub/b.txt", []byte("b"), StoreOptions{})
	require.NoError(t, err)

	nonRecursive := eng.List("/dir", false)
	assert.Len(t, nonRecursive, 1)

	recursive := eng.List("/dir", true)
	assert.Len(t, recursive, 2)
}

func TestSearch_ScoresFilenameAndTagMatches(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Store("/notes/report.txt", []byte("x"), StoreOptions{Tags: []string{"finance"}})
	require.NoError(t, err)
	_, err = eng.Store("/notes/other.txt", []byte("y"), StoreOptions{Tags: []string{"report"}})
	require.NoError(t, err)

	results := eng.Search("report", SearchFilters{})
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Score) // filename match outranks tag match
}
