package transport

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
	"github.com/nostalgiatan/bey-sub000/pkg/identity"
)

// alpnProtocol is the only protocol BEY's QUIC endpoints negotiate.
const alpnProtocol = "bey-transport"

// buildServerTLSConfig produces the listener-side TLS config: the local
// device certificate is presented, and a peer certificate chaining to
// rootCert is required, per spec.md §4.D "the server requires a peer
// certificate chaining to the local CA".
func buildServerTLSConfig(self *identity.Certificate, rootCert *identity.Certificate) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(self.CertPEM, self.KeyPEM)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeTransportBase+1, "load device keypair", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(rootCert.CertPEM) {
		return nil, beyerr.Configuration(beyerr.CodeTransportBase+2, "parse root CA certificate", nil)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{alpnProtocol},
	}, nil
}

// buildClientTLSConfig produces the dialer-side TLS config: the local
// device certificate is presented, and the remote's certificate must chain
// to rootCert.
func buildClientTLSConfig(self *identity.Certificate, rootCert *identity.Certificate) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(self.CertPEM, self.KeyPEM)
	if err != nil {
		return nil, beyerr.Encryption(beyerr.CodeTransportBase+3, "load device keypair", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(rootCert.CertPEM) {
		return nil, beyerr.Configuration(beyerr.CodeTransportBase+4, "parse root CA certificate", nil)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{alpnProtocol},
	}, nil
}
