// Package vault implements BEY's key vault, spec.md §4.I: an OS-keyring
// backed secret store with an encrypted-file fallback, a bounded access
// log, and AES/HMAC key generation helpers.
package vault

import "time"

// KeyType classifies a stored secret, per spec.md §4.I.
type KeyType string

const (
	KeyTypeAesEncryption KeyType = "aes_encryption"
	KeyTypeHmac          KeyType = "hmac"
	KeyTypeRsaPrivate    KeyType = "rsa_private"
	KeyTypeEcPrivate     KeyType = "ec_private"
	KeyTypeCertificate   KeyType = "certificate"
	KeyTypeApiKey        KeyType = "api_key"
	KeyTypeDatabase      KeyType = "database"
	KeyTypeCustom        KeyType = "custom"
)

// Backend names the storage medium actually in use, per spec.md §4.I
// ("probe-write/delete to select SystemKeyring vs. EncryptedFile").
type Backend string

const (
	BackendSystemKeyring Backend = "system_keyring"
	BackendEncryptedFile Backend = "encrypted_file"
)

// Entry is one stored secret plus its metadata, per spec.md §4.I.
type Entry struct {
	ID           string
	Type         KeyType
	Description  string
	CreatedAt    time.Time
	LastAccessed time.Time
	Version      int
	Enabled      bool
	ExpiresAt    *time.Time
	Attributes   map[string]string
}

// Expired reports whether the entry is past its ExpiresAt, if any.
func (e *Entry) Expired() bool {
	return e.ExpiresAt != nil && time.Now().After(*e.ExpiresAt)
}

// AccessOperation enumerates the vault operations recorded in the access log.
type AccessOperation string

const (
	AccessCreate AccessOperation = "create"
	AccessGet    AccessOperation = "get"
	AccessUpdate AccessOperation = "update"
	AccessDelete AccessOperation = "delete"
	AccessList   AccessOperation = "list"
)

// AccessEntry records one vault access, bounded per spec.md §4.I (cap
// 10000, drop-oldest-half when full).
type AccessEntry struct {
	Operation AccessOperation
	KeyID     string
	Timestamp time.Time
	Success   bool
}
