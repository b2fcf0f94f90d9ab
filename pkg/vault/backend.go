package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"

	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

// backend is the storage medium a Vault delegates raw get/set/delete/list
// operations to, selected at construction time per spec.md §4.I.
type backend interface {
	kind() Backend
	set(id string, data []byte) error
	get(id string) ([]byte, error)
	delete(id string) error
	list() ([]string, error)
}

// keyringBackend stores secrets in the OS-native credential store via
// github.com/99designs/keyring (macOS Keychain, Secret Service, wincred...).
type keyringBackend struct {
	ring keyring.Keyring
	ids  map[string]struct{}
}

func openKeyringBackend(serviceName string) (*keyringBackend, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
	})
	if err != nil {
		return nil, err
	}
	return &keyringBackend{ring: ring, ids: make(map[string]struct{})}, nil
}

func (b *keyringBackend) kind() Backend { return BackendSystemKeyring }

func (b *keyringBackend) set(id string, data []byte) error {
	if err := b.ring.Set(keyring.Item{Key: id, Data: data}); err != nil {
		return err
	}
	b.ids[id] = struct{}{}
	return nil
}

func (b *keyringBackend) get(id string) ([]byte, error) {
	item, err := b.ring.Get(id)
	if err != nil {
		return nil, err
	}
	return item.Data, nil
}

func (b *keyringBackend) delete(id string) error {
	if err := b.ring.Remove(id); err != nil {
		return err
	}
	delete(b.ids, id)
	return nil
}

func (b *keyringBackend) list() ([]string, error) {
	keys, err := b.ring.Keys()
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// fileBackend is the encrypted-file fallback used when no OS keyring is
// reachable: each secret lives in its own file dir/<id>.enc, AES-256-GCM
// sealed under a random master key kept in dir/master.key (mode 0600).
// There is no single secure_keys.enc file holding all secrets.
type fileBackend struct {
	dir        string
	masterKey  []byte
}

type encryptedRecord struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func openFileBackend(dir string) (*fileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, beyerr.FileSystem(beyerr.CodeVaultBase+1, "create vault directory", err)
	}
	key, err := loadOrCreateMasterKey(filepath.Join(dir, "master.key"))
	if err != nil {
		return nil, err
	}
	return &fileBackend{dir: dir, masterKey: key}, nil
}

func loadOrCreateMasterKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		key, decErr := base64.StdEncoding.DecodeString(string(data))
		if decErr == nil && len(key) == 32 {
			return key, nil
		}
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, beyerr.Encryption(beyerr.CodeVaultBase+2, "generate master key", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, beyerr.FileSystem(beyerr.CodeVaultBase+3, "persist master key", err)
	}
	return key, nil
}

func (b *fileBackend) kind() Backend { return BackendEncryptedFile }

func (b *fileBackend) path(id string) string {
	return filepath.Join(b.dir, filepath.Base(id)+".enc")
}

func (b *fileBackend) seal(plaintext []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(b.masterKey)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (b *fileBackend) open(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(b.masterKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (b *fileBackend) set(id string, data []byte) error {
	ciphertext, nonce, err := b.seal(data)
	if err != nil {
		return beyerr.Encryption(beyerr.CodeVaultBase+4, "seal secret", err)
	}
	rec := encryptedRecord{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return beyerr.Parse(beyerr.CodeVaultBase+5, "marshal secret record", err)
	}
	if err := os.WriteFile(b.path(id), payload, 0600); err != nil {
		return beyerr.FileSystem(beyerr.CodeVaultBase+6, "write secret file", err)
	}
	return nil
}

func (b *fileBackend) get(id string) ([]byte, error) {
	raw, err := os.ReadFile(b.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, beyerr.Validation(beyerr.CodeVaultBase+7, "key not found: "+id)
		}
		return nil, beyerr.FileSystem(beyerr.CodeVaultBase+8, "read secret file", err)
	}
	var rec encryptedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, beyerr.Parse(beyerr.CodeVaultBase+9, "unmarshal secret record", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(rec.Nonce)
	if err != nil {
		return nil, beyerr.Parse(beyerr.CodeVaultBase+10, "decode nonce", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(rec.Ciphertext)
	if err != nil {
		return nil, beyerr.Parse(beyerr.CodeVaultBase+11, "decode ciphertext", err)
	}
	plaintext, err := b.open(ciphertext, nonce)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeVaultBase+12, "open secret", err)
	}
	return plaintext, nil
}

func (b *fileBackend) delete(id string) error {
	if err := os.Remove(b.path(id)); err != nil {
		if os.IsNotExist(err) {
			return beyerr.Validation(beyerr.CodeVaultBase+7, "key not found: "+id)
		}
		return beyerr.FileSystem(beyerr.CodeVaultBase+13, "delete secret file", err)
	}
	return nil
}

func (b *fileBackend) list() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, beyerr.FileSystem(beyerr.CodeVaultBase+14, "list vault directory", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && filepath.Ext(name) == ".enc" {
			ids = append(ids, name[:len(name)-len(".enc")])
		}
	}
	return ids, nil
}
