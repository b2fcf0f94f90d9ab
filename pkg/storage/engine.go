package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/nostalgiatan/bey-sub000/internal/logger"
	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
	"github.com/nostalgiatan/bey-sub000/pkg/events"
	"github.com/nostalgiatan/bey-sub000/pkg/policy"
	"github.com/nostalgiatan/bey-sub000/pkg/storage/compress"
	"github.com/nostalgiatan/bey-sub000/pkg/vault"
)

// defaultFileEncryptionKeyID is the vault's fixed logical key id for
// at-rest encryption, per spec.md §4.H.
const defaultFileEncryptionKeyID = "default_file_encryption"

const policySetID = "storage"

// Engine is the storage subsystem the BEY Engine facade owns: a metadata
// index, a smart compressor, and the vault/policy/replicator
// collaborators the store/read/delete pipeline needs, per spec.md §4.H.
type Engine struct {
	cfg        *config.StorageConfig
	deviceID   string
	storageRoot string
	compressor *compress.SmartCompressor
	idx        *index
	v          *vault.Vault
	pol        *policy.Engine
	replicator Replicator
	nodes      *nodeRegistry
	bus        *events.Bus
	log        logger.Logger
}

// New constructs a storage Engine rooted at cfg.StorageRoot/device_<deviceID>.
func New(cfg *config.StorageConfig, deviceID string, v *vault.Vault, pol *policy.Engine, replicator Replicator, bus *events.Bus, log logger.Logger) (*Engine, error) {
	root := filepath.Join(cfg.StorageRoot, "device_"+deviceID)
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, beyerr.FileSystem(beyerr.CodeStorageBase+1, "create storage root", err)
	}
	return &Engine{
		cfg:         cfg,
		deviceID:    deviceID,
		storageRoot: root,
		compressor:  compress.NewSmartCompressor(),
		idx:         newIndex(),
		v:           v,
		pol:         pol,
		replicator:  replicator,
		nodes:       newNodeRegistry(),
		bus:         bus,
		log:         log,
	}, nil
}

// UpdateStorageNode records or refreshes a peer's advertised storage
// capacity and liveness, keeping replica placement device-aware rather
// than placeholder peer ids. The Engine facade feeds this from discovery
// device events (spec.md §4.C) so storage never dials discovery itself.
func (e *Engine) UpdateStorageNode(n StorageNode) {
	e.nodes.Update(n)
}

// RemoveStorageNode drops a peer once discovery reports it gone.
func (e *Engine) RemoveStorageNode(deviceID string) {
	e.nodes.Remove(deviceID)
}

func (e *Engine) checkPolicy(operation, resource, requesterID string) error {
	if e.pol == nil {
		return nil
	}
	decision, err := e.pol.Evaluate(policySetID, policy.Context{
		Operation:   operation,
		Resource:    resource,
		RequesterID: requesterID,
		Data: map[string]interface{}{
			"operation": operation,
			"resource":  resource,
		},
	})
	if err != nil {
		// No policy set registered for storage is not itself a denial.
		return nil
	}
	if decision.Action == policy.ActionDeny {
		return beyerr.Authorization(beyerr.CodeStorageBase+2, "policy denied operation "+operation+" on "+resource)
	}
	return nil
}

// Store runs the 6-step store pipeline of spec.md §4.H.
func (e *Engine) Store(virtualPath string, data []byte, opts StoreOptions) (*Object, error) {
	if err := e.checkPolicy("store", virtualPath, opts.RequesterID); err != nil {
		return nil, err
	}

	payload := data
	var compInfo *CompressionInfo
	if e.enableCompression(opts) {
		compressed, info, err := e.compressor.Compress(data, opts.MimeType)
		if err != nil {
			return nil, err
		}
		payload = compressed
		compInfo = &CompressionInfo{
			Algorithm:      string(info.Algorithm),
			OriginalSize:   info.OriginalSize,
			CompressedSize: info.CompressedSize,
			Ratio:          info.Ratio,
			DurationMillis: info.Duration.Milliseconds(),
		}
	}

	encrypted := false
	if e.enableEncryption(opts) {
		sealed, err := e.encrypt(payload)
		if err != nil {
			return nil, err
		}
		payload = sealed
		encrypted = true
	}

	hash := sha256.Sum256(payload)
	hashHex := hex.EncodeToString(hash[:])
	fileID, err := mintFileID(e.deviceID)
	if err != nil {
		return nil, err
	}

	blobPath := filepath.Join(e.storageRoot, fileID)
	if err := os.WriteFile(blobPath, payload, 0600); err != nil {
		return nil, beyerr.FileSystem(beyerr.CodeStorageBase+3, "write blob", err)
	}

	now := time.Now()
	obj := &Object{
		FileID:          fileID,
		VirtualPath:     virtualPath,
		Filename:        filepath.Base(virtualPath),
		Size:            int64(len(data)),
		Hash:            hashHex,
		CreatedAt:       now,
		ModifiedAt:      now,
		MimeType:        opts.MimeType,
		Tags:            opts.Tags,
		CompressionInfo: compInfo,
		Encrypted:       encrypted,
	}
	e.idx.put(obj)

	if e.bus != nil {
		e.bus.Publish(events.New(events.KindObjectStored, "storage", map[string]interface{}{
			"file_id": fileID, "virtual_path": virtualPath, "size": obj.Size,
		}))
	}

	if e.cfg.ReplicaCount > 1 && e.replicator != nil {
		e.replicateBestEffort(obj, blobPath)
	}

	return obj, nil
}

func (e *Engine) replicateBestEffort(obj *Object, blobPath string) {
	need := e.cfg.ReplicaCount - 1
	targets := e.nodes.SelectReplicaTargets(need)
	for _, peerID := range targets {
		err := e.replicator.Replicate(ReplicationContext{FileID: obj.FileID, SourcePath: blobPath, PeerID: peerID})
		if err != nil {
			if e.bus != nil {
				e.bus.Publish(events.New(events.KindReplicationFailed, "storage", map[string]interface{}{
					"file_id": obj.FileID, "peer": peerID, "error": err.Error(),
				}))
			}
			continue
		}
		obj.StorageNodes = append(obj.StorageNodes, peerID)
		if e.bus != nil {
			e.bus.Publish(events.New(events.KindReplicationDone, "storage", map[string]interface{}{
				"file_id": obj.FileID, "peer": peerID,
			}))
		}
	}
}

// Read runs the read pipeline of spec.md §4.H.
func (e *Engine) Read(virtualPath string, opts ReadOptions) ([]byte, *Object, error) {
	if err := e.checkPolicy("read", virtualPath, opts.RequesterID); err != nil {
		return nil, nil, err
	}

	obj, ok := e.idx.getByPath(virtualPath)
	if !ok {
		return nil, nil, beyerr.Validation(beyerr.CodeStorageBase+4, "object not found: "+virtualPath)
	}

	blobPath := filepath.Join(e.storageRoot, obj.FileID)
	raw, err := os.ReadFile(blobPath)
	if err != nil {
		return nil, nil, beyerr.FileSystem(beyerr.CodeStorageBase+5, "read local blob", err)
	}

	payload := raw
	if obj.Encrypted {
		payload, err = e.decrypt(payload)
		if err != nil {
			return nil, nil, err
		}
	}
	if obj.CompressionInfo != nil {
		payload, err = compress.Decode(compress.Algorithm(obj.CompressionInfo.Algorithm), payload)
		if err != nil {
			return nil, nil, err
		}
	}

	if e.bus != nil {
		e.bus.Publish(events.New(events.KindObjectRead, "storage", map[string]interface{}{
			"file_id": obj.FileID, "virtual_path": virtualPath,
		}))
	}

	return payload, obj, nil
}

// Delete runs the delete pipeline of spec.md §4.H. Returns true iff at
// least one replica was removed; only the local blob is removed, so that
// means the local blob.
func (e *Engine) Delete(virtualPath string, opts DeleteOptions) (bool, error) {
	if err := e.checkPolicy("delete", virtualPath, opts.RequesterID); err != nil {
		return false, err
	}

	obj, ok := e.idx.remove(virtualPath)
	if !ok {
		return false, beyerr.Validation(beyerr.CodeStorageBase+4, "object not found: "+virtualPath)
	}

	deleted := false
	blobPath := filepath.Join(e.storageRoot, obj.FileID)
	if err := os.Remove(blobPath); err == nil {
		deleted = true
	}
	// Remote holders listed in StorageNodes are not asked to remove their
	// copies: the Replicator interface has no removal operation.

	if e.bus != nil {
		e.bus.Publish(events.New(events.KindObjectDeleted, "storage", map[string]interface{}{
			"file_id": obj.FileID, "virtual_path": virtualPath, "deleted": deleted,
		}))
	}

	return deleted, nil
}

// List filters the metadata index by virtual-path prefix, per spec.md §4.H.
func (e *Engine) List(dir string, recursive bool) []Object {
	return e.idx.list(dir, recursive)
}

// Search scores objects by filename/tag match against query, intersected
// with filters, per spec.md §4.H.
func (e *Engine) Search(query string, filters SearchFilters) []SearchResult {
	return e.idx.search(query, filters)
}

func (e *Engine) enableCompression(opts StoreOptions) bool {
	if opts.EnableCompression != nil {
		return *opts.EnableCompression
	}
	return e.cfg.EnableCompression
}

func (e *Engine) enableEncryption(opts StoreOptions) bool {
	if opts.EnableEncryption != nil {
		return *opts.EnableEncryption
	}
	return e.cfg.EnableEncryption
}

func (e *Engine) fileEncryptionKey() ([]byte, error) {
	key, err := e.v.Get(defaultFileEncryptionKeyID)
	if err != nil {
		key, err = e.v.GenerateAESKey(defaultFileEncryptionKeyID, 256)
		if err != nil {
			return nil, err
		}
	}
	if len(key) < 32 {
		return nil, beyerr.Configuration(beyerr.CodeStorageBase+6, "file encryption key shorter than 32 bytes", nil)
	}
	return key, nil
}

// encrypt AEAD-seals data with a 12-byte random nonce prepended, per
// spec.md §4.H.
func (e *Engine) encrypt(data []byte) ([]byte, error) {
	key, err := e.fileEncryptionKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeStorageBase+7, "create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeStorageBase+8, "create GCM", err)
	}
	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, beyerr.Encryption(beyerr.CodeStorageBase+9, "generate nonce", err)
	}
	sealed := gcm.Seal(nil, nonce, data, nil)
	return append(nonce, sealed...), nil
}

func (e *Engine) decrypt(data []byte) ([]byte, error) {
	if len(data) < 12 {
		return nil, beyerr.Validation(beyerr.CodeStorageBase+10, "ciphertext shorter than nonce")
	}
	key, err := e.fileEncryptionKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeStorageBase+7, "create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeStorageBase+8, "create GCM", err)
	}
	nonce, ciphertext := data[:12], data[12:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeStorageBase+11, "open ciphertext", err)
	}
	return plaintext, nil
}

// mintFileID hashes device_id ‖ now ‖ random, per spec.md §4.H step 4.
func mintFileID(deviceID string) (string, error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", beyerr.System(beyerr.CodeStorageBase+12, "generate file_id randomness", err)
	}
	h := sha256.New()
	h.Write([]byte(deviceID))
	h.Write([]byte(strconv.FormatInt(time.Now().UnixNano(), 10)))
	h.Write(random)
	return hex.EncodeToString(h.Sum(nil)), nil
}
