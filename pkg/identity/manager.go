package identity

import (
	"sync"
	"time"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/nostalgiatan/bey-sub000/internal/logger"
)

// Manager is the identity subsystem the Engine facade owns: one CA plus
// a verification cache and the in-memory set of issued device certificates.
type Manager struct {
	ca    *CA
	cache *VerificationCache
	cfg   *config.IdentityConfig
	log   logger.Logger

	mu     sync.RWMutex
	issued map[string]*Certificate // deviceID -> cert
}

// NewManager bootstraps or loads the CA rooted at certsDir.
func NewManager(certsDir string, cfg *config.IdentityConfig, log logger.Logger) (*Manager, error) {
	ca, err := NewCA(certsDir, cfg, log)
	if err != nil {
		return nil, err
	}
	return &Manager{
		ca:     ca,
		cache:  NewVerificationCache(time.Duration(cfg.CacheTTLSeconds) * time.Second),
		cfg:    cfg,
		log:    log,
		issued: make(map[string]*Certificate),
	}, nil
}

// RootCertificate returns the CA's own certificate.
func (m *Manager) RootCertificate() *Certificate { return m.ca.Certificate() }

// IssueDevice issues (or returns a cached valid) certificate for deviceID.
func (m *Manager) IssueDevice(deviceID string) (*Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.issued[deviceID]
	cert, err := m.ca.Issue(deviceID, existing)
	if err != nil {
		return nil, err
	}
	m.issued[deviceID] = cert
	return cert, nil
}

// Verify checks cert, consulting and updating the verification cache.
func (m *Manager) Verify(cert *Certificate, crlData []byte) error {
	if cached, ok := m.cache.Get(cert.CertificateID); ok {
		return cached
	}
	opts := VerifyOptions{
		Strict:         m.cfg.EnforceStrictValidation,
		MaxChainLength: m.cfg.MaxCertificateChainLen,
		EnableCRL:      m.cfg.EnableCRL,
		CRLData:        crlData,
	}
	err := Verify(cert, opts, time.Now())
	m.cache.Put(cert.CertificateID, err)
	return err
}

// VerifyChain checks a full chain, applying the manager's configured strictness.
func (m *Manager) VerifyChain(chain []*Certificate, crlData []byte) error {
	opts := VerifyOptions{
		Strict:         m.cfg.EnforceStrictValidation,
		MaxChainLength: m.cfg.MaxCertificateChainLen,
		EnableCRL:      m.cfg.EnableCRL,
		CRLData:        crlData,
	}
	return VerifyChain(chain, opts, time.Now())
}

// Revoke marks a device's issued certificate Revoked and invalidates its
// cached verification result.
func (m *Manager) Revoke(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cert, ok := m.issued[deviceID]
	if !ok {
		return false
	}
	cert.Status = StatusRevoked
	m.cache.Invalidate(cert.CertificateID)
	return true
}
