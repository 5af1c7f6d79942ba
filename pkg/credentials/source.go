package credentials

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// Bundle is the signing material for one signing operation
type Bundle struct {
	Certificate    *x509.Certificate
	CertificatePEM []byte
	PrivateKey     *rsa.PrivateKey
}

// Source provides signing material. Implementations must not cache key
// material between calls.
type Source interface {
	Load() (*Bundle, error)
}

// FileSource loads the materialized certificate and key from disk on every call
type FileSource struct {
	CertPath string
	KeyPath  string
}

// Load reads and parses both files and checks that they belong together
func (s FileSource) Load() (*Bundle, error) {
	certData, err := os.ReadFile(s.CertPath)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}
	cert, certPEM, err := parseCertificate(certData)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate %s: %w", s.CertPath, err)
	}

	keyData, err := os.ReadFile(s.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	key, err := parsePrivateKey(keyData, "")
	if err != nil {
		return nil, fmt.Errorf("parsing private key %s: %w", s.KeyPath, err)
	}

	if err := matchKey(cert, key); err != nil {
		return nil, err
	}

	return &Bundle{
		Certificate:    cert,
		CertificatePEM: certPEM,
		PrivateKey:     key,
	}, nil
}

// CheckValidity reports whether cert is usable at now
func CheckValidity(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("%w: valid from %s", ErrCertificateNotYetValid, cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("%w: expired %s", ErrCertificateExpired, cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// parseCertificate accepts PEM (with or without leading bag attributes) or DER.
// Bag attributes can push the PEM header past the sniffing window.
func parseCertificate(data []byte) (*x509.Certificate, []byte, error) {
	if bytes.Contains(data, []byte("-----BEGIN")) {
		rest := data
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				return nil, nil, fmt.Errorf("no CERTIFICATE block found")
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, err
			}
			return cert, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}), nil
		}
	}

	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, nil, err
	}
	return cert, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}), nil
}

func matchKey(cert *x509.Certificate, key *rsa.PrivateKey) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: certificate does not contain an RSA public key", ErrUnsupportedKey)
	}
	if !pub.Equal(&key.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}
