package transfer

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/nostalgiatan/bey-sub000/config"
)

// hashBytes produces a hex fingerprint per the configured chunk hash
// algorithm, per spec.md §4.J step 2 ("BLAKE3 or SHA-256 ... both produce a
// hex fingerprint").
func hashBytes(algo config.ChunkHashAlgorithm, data []byte) string {
	switch algo {
	case config.ChunkHashBlake3:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}
