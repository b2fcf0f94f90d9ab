// Package compress implements the SmartCompressor of spec.md §4.H: an
// algorithm selector that picks None, Zstd or ZstdMax from payload size
// and mime type, with a round-trip-identity guarantee. Lz4 is available
// through Encode/Decode, but Select never picks it.
package compress

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

// Algorithm tags a compressed (or uncompressed) blob.
type Algorithm string

const (
	AlgorithmNone    Algorithm = "none"
	AlgorithmLz4     Algorithm = "lz4"
	AlgorithmZstd    Algorithm = "zstd"
	AlgorithmZstdMax Algorithm = "zstd_max"
)

// Info records what a compression pass actually did, for the stored
// object's compression_info field (spec.md §3 "Stored object").
type Info struct {
	Algorithm        Algorithm
	OriginalSize     int
	CompressedSize   int
	Ratio            float64
	Duration         time.Duration
}

// incompressibleMimePrefixes skip compression for already-compressed media.
var incompressibleMimePrefixes = []string{
	"image/", "video/", "audio/", "application/zip", "application/gzip",
	"application/x-7z-compressed", "application/x-rar",
}

// SmartCompressor selects an algorithm per size/mime-type heuristics and
// performs the compress/decompress round trip.
type SmartCompressor struct {
	// SmallThreshold is the byte size below which compression is skipped
	// entirely (the framing overhead would outweigh any savings).
	SmallThreshold int
	// LargeThreshold is the byte size above which ZstdMax is preferred
	// over the default Zstd level.
	LargeThreshold int
}

// NewSmartCompressor returns a compressor with spec.md's documented
// defaults (skip below 256 bytes, max level above 64MiB).
func NewSmartCompressor() *SmartCompressor {
	return &SmartCompressor{SmallThreshold: 256, LargeThreshold: 64 << 20}
}

// Select picks the algorithm for a candidate payload, without compressing it.
func (c *SmartCompressor) Select(size int, mimeType string) Algorithm {
	if size < c.SmallThreshold {
		return AlgorithmNone
	}
	for _, prefix := range incompressibleMimePrefixes {
		if strings.HasPrefix(mimeType, prefix) {
			return AlgorithmNone
		}
	}
	if size > c.LargeThreshold {
		return AlgorithmZstdMax
	}
	return AlgorithmZstd
}

// Compress runs the selected algorithm over data and returns the
// (possibly unchanged) bytes plus an Info describing what happened.
func (c *SmartCompressor) Compress(data []byte, mimeType string) ([]byte, Info, error) {
	start := time.Now()
	algo := c.Select(len(data), mimeType)

	out, err := Encode(algo, data)
	if err != nil {
		return nil, Info{}, err
	}

	ratio := 1.0
	if len(data) > 0 {
		ratio = float64(len(out)) / float64(len(data))
	}
	info := Info{
		Algorithm:      algo,
		OriginalSize:   len(data),
		CompressedSize: len(out),
		Ratio:          ratio,
		Duration:       time.Since(start),
	}
	return out, info, nil
}

// Encode compresses data under algo. AlgorithmNone is the identity.
func Encode(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case AlgorithmNone, "":
		return data, nil
	case AlgorithmLz4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, beyerr.Compression(beyerr.CodeStorageBase+40, "lz4 encode", err)
		}
		if err := w.Close(); err != nil {
			return nil, beyerr.Compression(beyerr.CodeStorageBase+41, "lz4 encode close", err)
		}
		return buf.Bytes(), nil
	case AlgorithmZstd, AlgorithmZstdMax:
		level := zstd.SpeedDefault
		if algo == AlgorithmZstdMax {
			level = zstd.SpeedBestCompression
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, beyerr.Compression(beyerr.CodeStorageBase+42, "zstd encoder init", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return data, nil
	}
}

// Decode decompresses data that was encoded under algo. Decompression
// for an algorithm tag not in the enum degrades to "return input
// unchanged", per spec.md §4.H.
func Decode(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case AlgorithmNone, "":
		return data, nil
	case AlgorithmLz4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, beyerr.Compression(beyerr.CodeStorageBase+43, "lz4 decode", err)
		}
		return out, nil
	case AlgorithmZstd, AlgorithmZstdMax:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, beyerr.Compression(beyerr.CodeStorageBase+44, "zstd decoder init", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, beyerr.Compression(beyerr.CodeStorageBase+45, "zstd decode", err)
		}
		return out, nil
	default:
		return data, nil
	}
}
