package identity

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"strings"
	"time"

	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

// VerifyOptions controls strictness for Verify/VerifyChain.
type VerifyOptions struct {
	Strict         bool
	MaxChainLength int
	EnableCRL      bool
	CRLData        []byte // PEM or raw DER; nil means "no CRL supplied"
}

// Verify evaluates a single certificate per spec.md §4.B "Verification".
func Verify(cert *Certificate, opts VerifyOptions, now time.Time) error {
	if cert.Status == StatusRevoked {
		return beyerr.Authentication(beyerr.CodeIdentityBase+100, "certificate is revoked", nil)
	}
	if cert.Status == StatusSuspended {
		return beyerr.Authentication(beyerr.CodeIdentityBase+101, "certificate is suspended", nil)
	}
	if cert.Status == StatusExpired || now.After(cert.ExpiresAt) {
		return beyerr.Authentication(beyerr.CodeIdentityBase+102, "certificate has expired", nil)
	}
	if now.Before(cert.IssuedAt) {
		return beyerr.Authentication(beyerr.CodeIdentityBase+103, "certificate not yet valid", nil)
	}

	block, _ := pem.Decode(cert.CertPEM)
	if block == nil {
		return beyerr.Parse(beyerr.CodeIdentityBase+104, "certificate PEM is not well-formed", nil)
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return beyerr.Parse(beyerr.CodeIdentityBase+105, "certificate DER is not parseable", err)
	}

	if opts.Strict {
		if len(cert.Fingerprint) != 64 || !isHex(cert.Fingerprint) {
			return beyerr.Validation(beyerr.CodeIdentityBase+106, "fingerprint must be 64 lowercase hex characters")
		}
		if cert.KeyAlgorithm == "" {
			return beyerr.Validation(beyerr.CodeIdentityBase+107, "key algorithm metadata missing")
		}
		if cert.Type == TypeRootCA {
			switch cert.KeySize {
			case 2048, 3072, 4096:
			default:
				return beyerr.Validation(beyerr.CodeIdentityBase+108, "CA key size out of allowed set")
			}
		}
	}

	if opts.EnableCRL {
		if opts.CRLData == nil {
			return beyerr.Authentication(beyerr.CodeIdentityBase+109, "CRL checking enabled but no CRL supplied", nil)
		}
		revoked, err := CheckCRL(cert, opts.CRLData)
		if err != nil {
			return err
		}
		if revoked {
			return beyerr.Authentication(beyerr.CodeIdentityBase+110, "certificate serial found in CRL", nil)
		}
	}

	return nil
}

func isHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// VerifyChain enforces spec.md §4.B "verify_chain" ordering and length
// invariants in addition to per-link Verify.
func VerifyChain(chain []*Certificate, opts VerifyOptions, now time.Time) error {
	maxLen := opts.MaxChainLength
	if maxLen <= 0 {
		maxLen = 5
	}
	if len(chain) > maxLen {
		return beyerr.Validation(beyerr.CodeIdentityBase+120, "certificate chain exceeds max length")
	}
	for i, c := range chain {
		if err := Verify(c, opts, now); err != nil {
			return err
		}
		if i+1 < len(chain) {
			next := chain[i+1]
			if c.IssuerID != next.SubjectDeviceID && c.IssuerID != next.Fingerprint {
				return beyerr.Authentication(beyerr.CodeIdentityBase+121, "chain issuer/subject mismatch", nil)
			}
			if c.IssuedAt.Before(next.IssuedAt) {
				return beyerr.Authentication(beyerr.CodeIdentityBase+122, "chain issue timestamps not non-increasing toward root", nil)
			}
		}
	}
	return nil
}

// serial derives the spec.md-defined (non-standard, BEY-internal) 8-byte
// serial from the first 16 hex characters of a certificate's fingerprint.
func serial(cert *Certificate) ([]byte, error) {
	if len(cert.Fingerprint) < 16 {
		return nil, beyerr.Validation(beyerr.CodeIdentityBase+130, "fingerprint too short to derive serial")
	}
	return hex.DecodeString(cert.Fingerprint[:16])
}

// CheckCRL reports whether cert's derived serial appears as a contiguous
// byte window inside crlData. crlData may be PEM (base64 body between
// BEGIN/END markers) or raw DER, per spec.md §4.B "Revocation".
func CheckCRL(cert *Certificate, crlData []byte) (bool, error) {
	ser, err := serial(cert)
	if err != nil {
		return false, err
	}

	body := crlData
	if block, _ := pem.Decode(crlData); block != nil {
		body = block.Bytes
	} else if bytes.Contains(crlData, []byte("-----BEGIN")) {
		decoded, decErr := decodePEMBody(crlData)
		if decErr == nil {
			body = decoded
		}
	}

	return bytes.Contains(body, ser), nil
}

func decodePEMBody(data []byte) ([]byte, error) {
	s := string(data)
	start := strings.Index(s, "-----BEGIN")
	if start < 0 {
		return nil, beyerr.Parse(beyerr.CodeIdentityBase+131, "no PEM begin marker", nil)
	}
	firstNL := strings.Index(s[start:], "\n")
	if firstNL < 0 {
		return nil, beyerr.Parse(beyerr.CodeIdentityBase+132, "malformed PEM header", nil)
	}
	bodyStart := start + firstNL + 1
	end := strings.Index(s[bodyStart:], "-----END")
	if end < 0 {
		return nil, beyerr.Parse(beyerr.CodeIdentityBase+133, "no PEM end marker", nil)
	}
	b64 := strings.ReplaceAll(s[bodyStart:bodyStart+end], "\n", "")
	return base64.StdEncoding.DecodeString(b64)
}
