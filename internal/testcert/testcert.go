// Package testcert generates throwaway e.firma style signing material for tests.
package testcert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"
)

// Password protects the generated .key file
const Password = "12345678a"

// Pair is a generated certificate and its key
type Pair struct {
	Key  *rsa.PrivateKey
	Cert *x509.Certificate
}

// New generates a self-signed RSA certificate valid around now
func New(t *testing.T) *Pair {
	t.Helper()
	return NewValid(t, time.Now().Add(-time.Hour), time.Now().Add(365*24*time.Hour))
}

// NewValid generates a certificate with the given validity window
func NewValid(t *testing.T, notBefore, notAfter time.Time) *Pair {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization:       []string{"Contribuyente de Prueba"},
			CommonName:         "XAXX010101000",
			SerialNumber:       "XAXX010101000",
			OrganizationalUnit: []string{"Unidad 1"},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &Pair{Key: key, Cert: cert}
}

// CertPEM returns the certificate as a PEM block
func (p *Pair) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.Cert.Raw})
}

// KeyPEM returns the key as an unencrypted PKCS#1 PEM block
func (p *Pair) KeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(p.Key)})
}

// EncryptedKeyDER returns the key as the authority ships it: DER encoded
// EncryptedPrivateKeyInfo protected by password
func (p *Pair) EncryptedKeyDER(t *testing.T, password string) []byte {
	t.Helper()
	der, err := pkcs8.MarshalPrivateKey(p.Key, []byte(password), nil)
	require.NoError(t, err)
	return der
}

// WriteAuthorityFiles writes <name>.cer, <name>.key and password.txt into
// dir and returns the password file path
func (p *Pair) WriteAuthorityFiles(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".cer"), p.Cert.Raw, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".key"), p.EncryptedKeyDER(t, Password), 0o644))
	passwordPath := filepath.Join(dir, "password.txt")
	require.NoError(t, os.WriteFile(passwordPath, []byte(Password+"\n"), 0o600))
	return passwordPath
}

// WritePEM writes cert.pem and fiel.pem into dir and returns their paths
func (p *Pair) WritePEM(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "fiel.pem")
	require.NoError(t, os.WriteFile(certPath, p.CertPEM(), 0o600))
	require.NoError(t, os.WriteFile(keyPath, p.KeyPEM(), 0o600))
	return certPath, keyPath
}
