package simulator

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CertParams holds parameters for the simulator's self-signed certificate.
type CertParams struct {
	CommonName   string
	Organization string
	// Hosts become DNS or IP SANs.
	Hosts     []string
	ValidDays int
}

// DefaultCertParams mirrors what a factory-fresh device presents.
func DefaultCertParams() CertParams {
	return CertParams{
		CommonName:   "nax-simulator",
		Organization: "Crestron Electronics",
		Hosts:        []string{"localhost", "127.0.0.1", "::1"},
		ValidDays:    365,
	}
}

// ServerCert is a generated certificate and key.
type ServerCert struct {
	CertPEM     []byte
	KeyPEM      []byte
	Certificate *x509.Certificate
}

// GenerateServerCert creates a self-signed RSA 2048 certificate.
func GenerateServerCert(params CertParams) (*ServerCert, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	notBefore := time.Now().Add(-time.Minute)
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{params.Organization},
			CommonName:   params.CommonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(0, 0, params.ValidDays),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range params.Hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &ServerCert{
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
		Certificate: cert,
	}, nil
}

// TLSConfig returns a server TLS configuration presenting c.
func (c *ServerCert) TLSConfig() (*tls.Config, error) {
	pair, err := tls.X509KeyPair(c.CertPEM, c.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// CertPool returns a pool trusting only c.
func (c *ServerCert) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(c.Certificate)
	return pool
}
