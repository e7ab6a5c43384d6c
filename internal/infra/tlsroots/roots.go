package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ErrNoCertsFound is returned when a PEM bundle yields no
// certificates.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM data")

// Pool holds the root certificates trusted for outbound TLS, notably
// the database connection when the deployment runs its own CA.
type Pool struct {
	certPool *x509.CertPool
}

// NewPool returns a pool seeded with the system roots, falling back to
// an empty pool when the system store is unavailable.
func NewPool() (*Pool, error) {
	sys, err := x509.SystemCertPool()
	if err != nil {
		sys = x509.NewCertPool()
	}
	return &Pool{certPool: sys}, nil
}

// NewEmptyPool returns a pool with no roots at all.
func NewEmptyPool() *Pool {
	return &Pool{certPool: x509.NewCertPool()}
}

// AddCertFile reads a PEM bundle from disk into the pool.
func (p *Pool) AddCertFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	if err := p.AddCertPEM(data); err != nil {
		return fmt.Errorf("tlsroots: %s: %w", path, err)
	}
	return nil
}

// AddCertPEM adds every CERTIFICATE block in the bundle. Other block
// types (keys, CRLs) are skipped. At least one certificate must be
// present.
func (p *Pool) AddCertPEM(pemData []byte) error {
	var added int
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		p.certPool.AddCert(cert)
		added++
	}
	if added == 0 {
		return ErrNoCertsFound
	}
	return nil
}

// Pool exposes the underlying x509.CertPool for callers that build
// their own tls.Config.
func (p *Pool) Pool() *x509.CertPool {
	return p.certPool
}

// TLSConfig returns a client config trusting exactly this pool.
func (p *Pool) TLSConfig() *tls.Config {
	return &tls.Config{
		RootCAs:    p.certPool,
		MinVersion: tls.VersionTLS12,
	}
}
