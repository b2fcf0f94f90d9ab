package vault

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/nostalgiatan/bey-sub000/internal/logger"
	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

const probeKeyID = "__bey_vault_probe__"

// Vault is the key-vault facade the Engine owns: it selects a backend at
// construction (system keyring, falling back to an encrypted file store),
// maintains in-memory metadata for each entry, and records a bounded
// access log, per spec.md §4.I.
type Vault struct {
	mu      sync.RWMutex
	backend backend
	meta    map[string]*Entry
	log     logger.Logger

	accessMu         sync.Mutex
	access           []AccessEntry
	maxAccessEntries int
}

// Open selects SystemKeyring if a probe write/read/delete round-trips
// cleanly, otherwise falls back to the encrypted file store in
// fallbackDir.
func Open(serviceName, fallbackDir string, log logger.Logger) (*Vault, error) {
	v := &Vault{
		meta:             make(map[string]*Entry),
		log:              log,
		maxAccessEntries: 10000,
	}

	if b, ok := probeKeyring(serviceName); ok {
		v.backend = b
		if log != nil {
			log.Info("vault backend selected", logger.Field{Key: "backend", Value: string(BackendSystemKeyring)})
		}
		return v, nil
	}

	fb, err := openFileBackend(fallbackDir)
	if err != nil {
		return nil, err
	}
	v.backend = fb
	if log != nil {
		log.Info("vault backend selected", logger.Field{Key: "backend", Value: string(BackendEncryptedFile)})
	}
	return v, nil
}

// probeKeyring attempts a system keyring backend and verifies it actually
// works by round-tripping a throwaway probe entry, per spec.md §4.I
// ("probe-write/delete to select SystemKeyring vs. EncryptedFile").
func probeKeyring(serviceName string) (*keyringBackend, bool) {
	b, err := openKeyringBackend(serviceName)
	if err != nil {
		return nil, false
	}
	probe := []byte("probe")
	if err := b.set(probeKeyID, probe); err != nil {
		return nil, false
	}
	got, err := b.get(probeKeyID)
	_ = b.delete(probeKeyID)
	if err != nil || string(got) != string(probe) {
		return nil, false
	}
	return b, true
}

// Backend reports which medium is actually backing the vault.
func (v *Vault) Backend() Backend { return v.backend.kind() }

// Create stores a new secret under id. Returns an error if id already exists.
func (v *Vault) Create(id string, typ KeyType, value []byte, description string, expiresAt *time.Time, attributes map[string]string) error {
	v.mu.Lock()
	if _, exists := v.meta[id]; exists {
		v.mu.Unlock()
		v.record(AccessCreate, id, false)
		return beyerr.Validation(beyerr.CodeVaultBase+20, "key already exists: "+id)
	}
	now := time.Now()
	if err := v.backend.set(id, value); err != nil {
		v.mu.Unlock()
		v.record(AccessCreate, id, false)
		return err
	}
	v.meta[id] = &Entry{
		ID: id, Type: typ, Description: description,
		CreatedAt: now, LastAccessed: now, Version: 1, Enabled: true,
		ExpiresAt: expiresAt, Attributes: attributes,
	}
	v.mu.Unlock()

	v.record(AccessCreate, id, true)
	return nil
}

// Get retrieves a secret's raw value. Expired or disabled entries are
// refused on read, per spec.md §4.I.
func (v *Vault) Get(id string) ([]byte, error) {
	v.mu.Lock()
	entry, exists := v.meta[id]
	if !exists {
		v.mu.Unlock()
		v.record(AccessGet, id, false)
		return nil, beyerr.Validation(beyerr.CodeVaultBase+21, "key not found: "+id)
	}
	if !entry.Enabled {
		v.mu.Unlock()
		v.record(AccessGet, id, false)
		return nil, beyerr.Validation(beyerr.CodeVaultBase+24, "key disabled: "+id)
	}
	if entry.Expired() {
		v.mu.Unlock()
		v.record(AccessGet, id, false)
		return nil, beyerr.Validation(beyerr.CodeVaultBase+25, "key expired: "+id)
	}
	entry.LastAccessed = time.Now()
	v.mu.Unlock()

	value, err := v.backend.get(id)
	v.record(AccessGet, id, err == nil)
	return value, err
}

// Update overwrites an existing secret's value and bumps its version.
func (v *Vault) Update(id string, value []byte) error {
	v.mu.Lock()
	entry, exists := v.meta[id]
	if !exists {
		v.mu.Unlock()
		v.record(AccessUpdate, id, false)
		return beyerr.Validation(beyerr.CodeVaultBase+21, "key not found: "+id)
	}
	if err := v.backend.set(id, value); err != nil {
		v.mu.Unlock()
		v.record(AccessUpdate, id, false)
		return err
	}
	entry.Version++
	v.mu.Unlock()

	v.record(AccessUpdate, id, true)
	return nil
}

// Delete removes a secret entirely.
func (v *Vault) Delete(id string) error {
	v.mu.Lock()
	if _, exists := v.meta[id]; !exists {
		v.mu.Unlock()
		v.record(AccessDelete, id, false)
		return beyerr.Validation(beyerr.CodeVaultBase+21, "key not found: "+id)
	}
	err := v.backend.delete(id)
	if err == nil {
		delete(v.meta, id)
	}
	v.mu.Unlock()

	v.record(AccessDelete, id, err == nil)
	return err
}

// ListKeys returns the IDs of every stored secret.
func (v *Vault) ListKeys() []string {
	v.mu.RLock()
	ids := make([]string, 0, len(v.meta))
	for id := range v.meta {
		ids = append(ids, id)
	}
	v.mu.RUnlock()

	v.record(AccessList, "", true)
	return ids
}

// Metadata returns an entry's metadata (without its secret value).
func (v *Vault) Metadata(id string) (*Entry, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.meta[id]
	return e, ok
}

// AccessLog returns a snapshot of recorded vault accesses.
func (v *Vault) AccessLog() []AccessEntry {
	v.accessMu.Lock()
	defer v.accessMu.Unlock()
	out := make([]AccessEntry, len(v.access))
	copy(out, v.access)
	return out
}

// record appends to the bounded access log, dropping the oldest half once
// maxAccessEntries is exceeded, per spec.md §4.I.
func (v *Vault) record(op AccessOperation, keyID string, success bool) {
	v.accessMu.Lock()
	defer v.accessMu.Unlock()
	v.access = append(v.access, AccessEntry{Operation: op, KeyID: keyID, Timestamp: time.Now(), Success: success})
	if len(v.access) > v.maxAccessEntries {
		half := len(v.access) / 2
		v.access = append([]AccessEntry(nil), v.access[half:]...)
	}
}

var validAESBits = map[int]bool{128: true, 192: true, 256: true}

// GenerateAESKey creates and stores a random AES key of sizeBits (one of
// 128/192/256) under id, using the OS CSPRNG, per spec.md §4.I.
func (v *Vault) GenerateAESKey(id string, sizeBits int) ([]byte, error) {
	if !validAESBits[sizeBits] {
		return nil, beyerr.Validation(beyerr.CodeVaultBase+26, "invalid AES key size (must be 128/192/256)")
	}
	key := make([]byte, sizeBits/8)
	if _, err := rand.Read(key); err != nil {
		return nil, beyerr.Encryption(beyerr.CodeVaultBase+22, "generate AES key", err)
	}
	if err := v.Create(id, KeyTypeAesEncryption, key, "generated AES key", nil, nil); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateHMACKey creates and stores a random HMAC-SHA256 key of
// sizeBytes (16..1024) under id, per spec.md §4.I.
func (v *Vault) GenerateHMACKey(id string, sizeBytes int) ([]byte, error) {
	if sizeBytes < 16 || sizeBytes > 1024 {
		return nil, beyerr.Validation(beyerr.CodeVaultBase+27, "invalid HMAC key size (must be 16..1024 bytes)")
	}
	key := make([]byte, sizeBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, beyerr.Encryption(beyerr.CodeVaultBase+23, "generate HMAC key", err)
	}
	if err := v.Create(id, KeyTypeHmac, key, "generated HMAC key", nil, nil); err != nil {
		return nil, err
	}
	return key, nil
}

// Sign computes an HMAC-SHA256 over data using the key stored under id.
func (v *Vault) Sign(id string, data []byte) ([]byte, error) {
	key, err := v.Get(id)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}
