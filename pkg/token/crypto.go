package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

const nonceSize = 12

// DeriveMasterKey computes SHA-256(certificatePEM || deviceName), the
// engine's one-time master key derivation per spec.md §4.E "Encryption".
func DeriveMasterKey(certificatePEM []byte, deviceName string) [32]byte {
	h := sha256.New()
	h.Write(certificatePEM)
	h.Write([]byte(deviceName))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Encrypt seals payload under key with a fresh random nonce, prepending the
// nonce to the returned ciphertext per spec.md §3 Token invariants.
func Encrypt(payload []byte, key [32]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeNetworkEngine, "create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeNetworkEngine+1, "create GCM", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, beyerr.Encryption(beyerr.CodeNetworkEngine+2, "generate nonce", err)
	}
	sealed := gcm.Seal(nil, nonce, payload, nil)
	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt inverts Encrypt: the first 12 bytes of data are the nonce, the
// remainder is AES-256-GCM ciphertext.
func Decrypt(data []byte, key [32]byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, beyerr.Parse(beyerr.CodeNetworkEngine+3, "encrypted payload shorter than nonce size", nil)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeNetworkEngine+4, "create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeNetworkEngine+5, "create GCM", err)
	}
	nonce := data[:nonceSize]
	ciphertext := data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeNetworkEngine+6, "GCM open failed", err)
	}
	return plaintext, nil
}

// EncryptToken encrypts tok.Payload in place if not already encrypted,
// setting meta.encrypted and the encryption attribute per spec.md §4.E.
func EncryptToken(tok *Token, key [32]byte) error {
	if tok.Meta.Encrypted {
		return nil
	}
	ciphertext, err := Encrypt(tok.Payload, key)
	if err != nil {
		return err
	}
	tok.Payload = ciphertext
	tok.Meta.Encrypted = true
	if tok.Meta.Attributes == nil {
		tok.Meta.Attributes = make(map[string]string)
	}
	tok.Meta.Attributes["encryption"] = "aes-256-gcm"
	return nil
}

// DecryptToken inverts EncryptToken; a no-op if the token is not encrypted.
func DecryptToken(tok *Token, key [32]byte) error {
	if !tok.Meta.Encrypted {
		return nil
	}
	plaintext, err := Decrypt(tok.Payload, key)
	if err != nil {
		return err
	}
	tok.Payload = plaintext
	tok.Meta.Encrypted = false
	delete(tok.Meta.Attributes, "encryption")
	return nil
}
