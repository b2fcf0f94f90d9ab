package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/nostalgiatan/bey-sub000/internal/logger"
	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

const (
	caKeyFile  = "ca_key.pem"
	caCertFile = "ca_cert.pem"
)

// CA is the private certificate authority for one BEY deployment. It owns
// the root signing key and issues device certificates on request.
type CA struct {
	cfg  *config.IdentityConfig
	dir  string
	log  logger.Logger

	cert       *Certificate
	signerKey  interface{} // *rsa.PrivateKey or *ecdsa.PrivateKey
	x509Cert   *x509.Certificate
}

// NewCA bootstraps a CA: loads one from dir if present, otherwise generates
// and persists a fresh self-signed root, per spec.md §4.B "Bootstrap".
func NewCA(dir string, cfg *config.IdentityConfig, log logger.Logger) (*CA, error) {
	if cfg == nil {
		return nil, beyerr.Configuration(beyerr.CodeIdentityBase, "identity config is required", nil)
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	ca := &CA{cfg: cfg, dir: dir, log: log}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, beyerr.FileSystem(beyerr.CodeIdentityBase+1, "create certificates dir", err)
	}

	keyPath := filepath.Join(dir, caKeyFile)
	certPath := filepath.Join(dir, caCertFile)

	if fileExists(keyPath) && fileExists(certPath) {
		if err := ca.load(keyPath, certPath); err != nil {
			return nil, err
		}
		log.Info("loaded existing CA", logger.String("dir", dir))
		return ca, nil
	}

	if err := ca.bootstrap(keyPath, certPath); err != nil {
		return nil, err
	}
	log.Info("bootstrapped new CA", logger.String("dir", dir))
	return ca, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (ca *CA) bootstrap(keyPath, certPath string) error {
	signer, pub, keyAlgo, keySize, err := generateKey(ca.cfg)
	if err != nil {
		return beyerr.Encryption(beyerr.CodeIdentityBase+2, "generate CA key pair", err)
	}

	validityDays := ca.cfg.CAValidityDays
	if validityDays <= 0 {
		validityDays = 3650
	}

	serial, err := randomSerial()
	if err != nil {
		return beyerr.Encryption(beyerr.CodeIdentityBase+3, "generate CA serial", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:         ca.cfg.CACommonName,
			Organization:       []string{ca.cfg.CAOrganization},
			OrganizationalUnit: []string{"Certificate Authority"},
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().AddDate(0, 0, validityDays),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, signer)
	if err != nil {
		return beyerr.Encryption(beyerr.CodeIdentityBase+4, "create CA certificate", err)
	}

	x509Cert, err := x509.ParseCertificate(der)
	if err != nil {
		return beyerr.Parse(beyerr.CodeIdentityBase+5, "parse generated CA certificate", err)
	}

	keyPEM, err := marshalPrivateKeyPEM(signer)
	if err != nil {
		return beyerr.Encryption(beyerr.CodeIdentityBase+6, "marshal CA private key", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return beyerr.FileSystem(beyerr.CodeIdentityBase+7, "write CA key", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return beyerr.FileSystem(beyerr.CodeIdentityBase+8, "write CA certificate", err)
	}

	fp := Fingerprint(der)
	ca.signerKey = signer
	ca.x509Cert = x509Cert
	ca.cert = &Certificate{
		CertificateID:   fp,
		SubjectDeviceID: ca.cfg.CACommonName,
		IssuerID:        fp,
		CertPEM:         certPEM,
		KeyPEM:          keyPEM,
		IssuedAt:        x509Cert.NotBefore,
		ExpiresAt:       x509Cert.NotAfter,
		Status:          StatusValid,
		Fingerprint:     fp,
		KeyAlgorithm:    keyAlgo,
		KeySize:         keySize,
		Type:            TypeRootCA,
	}
	return nil
}

func (ca *CA) load(keyPath, certPath string) error {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return beyerr.FileSystem(beyerr.CodeIdentityBase+9, "read CA key", err)
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return beyerr.FileSystem(beyerr.CodeIdentityBase+10, "read CA certificate", err)
	}

	signer, err := parsePrivateKeyPEM(keyPEM)
	if err != nil {
		return beyerr.Parse(beyerr.CodeIdentityBase+11, "parse CA private key", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return beyerr.Parse(beyerr.CodeIdentityBase+12, "decode CA certificate PEM", nil)
	}
	x509Cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return beyerr.Parse(beyerr.CodeIdentityBase+13, "parse CA certificate", err)
	}

	if !publicKeysEqual(signer, x509Cert) {
		return beyerr.Authentication(beyerr.CodeIdentityBase+14, "CA private key does not match certificate", nil)
	}
	if err := verifySignRoundTrip(signer); err != nil {
		return beyerr.Authentication(beyerr.CodeIdentityBase+15, "CA key sign/verify round-trip failed", err)
	}

	fp := Fingerprint(block.Bytes)
	keyAlgo, keySize := describeKey(signer)

	ca.signerKey = signer
	ca.x509Cert = x509Cert
	ca.cert = &Certificate{
		CertificateID:   fp,
		SubjectDeviceID: x509Cert.Subject.CommonName,
		IssuerID:        fp,
		CertPEM:         certPEM,
		KeyPEM:          keyPEM,
		IssuedAt:        x509Cert.NotBefore,
		ExpiresAt:       x509Cert.NotAfter,
		Status:          StatusValid,
		Fingerprint:     fp,
		KeyAlgorithm:    keyAlgo,
		KeySize:         keySize,
		Type:            TypeRootCA,
	}
	return nil
}

// Certificate returns the CA's own root certificate.
func (ca *CA) Certificate() *Certificate { return ca.cert }

// X509 returns the parsed root certificate for TLS pool construction.
func (ca *CA) X509() *x509.Certificate { return ca.x509Cert }

// Issue produces (or returns the cached) device certificate for deviceID,
// per spec.md §4.B "Device issuance".
func (ca *CA) Issue(deviceID string, existing *Certificate) (*Certificate, error) {
	if existing != nil && existing.IsValidNow(time.Now()) {
		return existing, nil
	}

	signer, pub, keyAlgo, keySize, err := generateKey(ca.cfg)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeIdentityBase+20, "generate device key pair", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeIdentityBase+21, "generate device serial", err)
	}

	validityDays := ca.cfg.ValidityDays
	if validityDays <= 0 {
		validityDays = 365
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:         deviceID,
			OrganizationalUnit: []string{"Device"},
		},
		DNSNames:    []string{deviceID + ".bey.local"},
		NotBefore:   time.Now().Add(-time.Minute),
		NotAfter:    time.Now().AddDate(0, 0, validityDays),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.x509Cert, pub, ca.signerKey)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeIdentityBase+22, "sign device certificate", err)
	}

	keyPEM, err := marshalPrivateKeyPEM(signer)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeIdentityBase+23, "marshal device private key", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	fp := Fingerprint(der)

	cert := &Certificate{
		CertificateID:   fp,
		SubjectDeviceID: deviceID,
		IssuerID:        ca.cert.Fingerprint,
		CertPEM:         certPEM,
		KeyPEM:          keyPEM,
		IssuedAt:        template.NotBefore,
		ExpiresAt:       template.NotAfter,
		Status:          StatusValid,
		Fingerprint:     fp,
		KeyAlgorithm:    keyAlgo,
		KeySize:         keySize,
		Type:            TypeDevice,
	}
	ca.log.Info("issued device certificate", logger.String("device_id", deviceID), logger.String("fingerprint", fp))
	return cert, nil
}

// Fingerprint computes the 64-hex-char SHA-256 of a DER-encoded certificate.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

func generateKey(cfg *config.IdentityConfig) (signer interface{}, pub interface{}, algo string, size int, err error) {
	switch cfg.KeyAlgorithm {
	case config.KeyAlgorithmECDSA:
		var curve elliptic.Curve
		switch cfg.KeySize {
		case 384:
			curve = elliptic.P384()
		case 521:
			curve = elliptic.P521()
		default:
			curve = elliptic.P256()
			cfg.KeySize = 256
		}
		key, genErr := ecdsa.GenerateKey(curve, rand.Reader)
		if genErr != nil {
			return nil, nil, "", 0, genErr
		}
		return key, &key.PublicKey, "ECDSA", cfg.KeySize, nil
	default:
		bits := cfg.KeySize
		if bits != 2048 && bits != 3072 && bits != 4096 {
			bits = 2048
		}
		key, genErr := rsa.GenerateKey(rand.Reader, bits)
		if genErr != nil {
			return nil, nil, "", 0, genErr
		}
		return key, &key.PublicKey, "RSA", bits, nil
	}
}

func marshalPrivateKeyPEM(signer interface{}) ([]byte, error) {
	switch k := signer.(type) {
	case *rsa.PrivateKey:
		return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)}), nil
	case *ecdsa.PrivateKey:
		der, err := x509.MarshalECPrivateKey(k)
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T", signer)
	}
}

func parsePrivateKeyPEM(data []byte) (interface{}, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return key, nil
	}
}

func describeKey(signer interface{}) (algo string, size int) {
	switch k := signer.(type) {
	case *rsa.PrivateKey:
		return "RSA", k.N.BitLen()
	case *ecdsa.PrivateKey:
		return "ECDSA", k.Curve.Params().BitSize
	default:
		return "unknown", 0
	}
}

func publicKeysEqual(signer interface{}, cert *x509.Certificate) bool {
	switch k := signer.(type) {
	case *rsa.PrivateKey:
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		return ok && pub.N.Cmp(k.N) == 0 && pub.E == k.E
	case *ecdsa.PrivateKey:
		pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
		return ok && pub.X.Cmp(k.X) == 0 && pub.Y.Cmp(k.Y) == 0
	default:
		return false
	}
}

// verifySignRoundTrip signs and verifies a fixed test message to confirm
// the loaded private key is operable, per spec.md §4.B.
func verifySignRoundTrip(signer interface{}) error {
	msg := sha256.Sum256([]byte("bey-ca-self-test"))
	switch k := signer.(type) {
	case *rsa.PrivateKey:
		sig, err := rsa.SignPKCS1v15(rand.Reader, k, 0, msg[:])
		if err != nil {
			return err
		}
		maxLen := k.Size()
		if len(sig) == 0 || len(sig) > maxLen {
			return fmt.Errorf("signature length %d out of DER bounds", len(sig))
		}
		return rsa.VerifyPKCS1v15(&k.PublicKey, 0, msg[:], sig)
	case *ecdsa.PrivateKey:
		r, s, err := ecdsa.Sign(rand.Reader, k, msg[:])
		if err != nil {
			return err
		}
		if !ecdsa.Verify(&k.PublicKey, msg[:], r, s) {
			return fmt.Errorf("ecdsa verify failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported signer type %T", signer)
	}
}
