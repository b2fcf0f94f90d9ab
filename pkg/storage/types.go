// Package storage implements the replicated, content-addressed object
// store of spec.md §4.H: a store/read/delete/list/search pipeline over
// blobs keyed by both a user-facing virtual path and an opaque file_id,
// with optional smart compression and AES-256-GCM at-rest encryption.
package storage

import "time"

// CompressionInfo records what compression (if any) was applied to a
// stored object, per spec.md §3 "Stored object".
type CompressionInfo struct {
	Algorithm      string  `json:"algorithm"`
	OriginalSize   int     `json:"original_size"`
	CompressedSize int     `json:"compressed_size"`
	Ratio          float64 `json:"ratio"`
	DurationMillis int64   `json:"duration_ms"`
}

// Object is the metadata record for one stored blob, per spec.md §3.
type Object struct {
	FileID          string            `json:"file_id"`
	VirtualPath     string            `json:"virtual_path"`
	Filename        string            `json:"filename"`
	Size            int64             `json:"size"`
	Hash            string            `json:"hash"`
	CreatedAt       time.Time         `json:"created_at"`
	ModifiedAt      time.Time         `json:"modified_at"`
	MimeType        string            `json:"mime_type,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	StorageNodes    []string          `json:"storage_nodes,omitempty"`
	CompressionInfo *CompressionInfo  `json:"compression_info,omitempty"`
	Encrypted       bool              `json:"encrypted"`
}

// StoreOptions configures a single store() call.
type StoreOptions struct {
	MimeType         string
	Tags             []string
	RequesterID      string
	EnableCompression *bool // nil defers to the engine-level default
	EnableEncryption  *bool
}

// ReadOptions configures a single read() call.
type ReadOptions struct {
	RequesterID string
}

// DeleteOptions configures a single delete() call.
type DeleteOptions struct {
	RequesterID string
}

// SizeRange bounds a search by object size, inclusive.
type SizeRange struct {
	Min int64
	Max int64
}

// TimeRange bounds a search by ModifiedAt, inclusive.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// SearchFilters narrows a search() call, per spec.md §4.H.
type SearchFilters struct {
	MimeTypes []string
	Tags      []string
	SizeRange *SizeRange
	TimeRange *TimeRange
}

// SearchResult pairs an object with its relevance score.
type SearchResult struct {
	Object Object
	Score  int
}

// Replicator pushes a local blob to a remote peer via the transfer
// pipeline (spec.md §4.H step 6). The storage engine depends on this
// narrow interface rather than importing the transfer package directly,
// keeping the two independently testable.
type Replicator interface {
	Replicate(ctx ReplicationContext) error
}

// ReplicationContext carries what a Replicator needs to push one blob.
type ReplicationContext struct {
	FileID     string
	SourcePath string
	PeerID     string
}
