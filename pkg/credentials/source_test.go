package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-satdescarga/internal/testcert"
)

func TestFileSource_Load(t *testing.T) {
	pair := testcert.New(t)
	certPath, keyPath := pair.WritePEM(t, t.TempDir())

	bundle, err := FileSource{CertPath: certPath, KeyPath: keyPath}.Load()
	require.NoError(t, err)
	assert.Equal(t, pair.Cert.Raw, bundle.Certificate.Raw)
	assert.Equal(t, pair.CertPEM(), bundle.CertificatePEM)
	assert.True(t, pair.Key.Equal(bundle.PrivateKey))
}

func TestFileSource_ReadsFreshOnEveryCall(t *testing.T) {
	dir := t.TempDir()
	first := testcert.New(t)
	certPath, keyPath := first.WritePEM(t, dir)
	src := FileSource{CertPath: certPath, KeyPath: keyPath}

	_, err := src.Load()
	require.NoError(t, err)

	second := testcert.New(t)
	second.WritePEM(t, dir)
	bundle, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, second.Cert.Raw, bundle.Certificate.Raw)
}

func TestFileSource_KeyMismatch(t *testing.T) {
	dir := t.TempDir()
	pair := testcert.New(t)
	other := testcert.New(t)
	certPath, _ := pair.WritePEM(t, dir)
	keyPath := filepath.Join(dir, "other.pem")
	require.NoError(t, os.WriteFile(keyPath, other.KeyPEM(), 0o600))

	_, err := FileSource{CertPath: certPath, KeyPath: keyPath}.Load()
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestFileSource_MissingFile(t *testing.T) {
	_, err := FileSource{CertPath: filepath.Join(t.TempDir(), "none.pem")}.Load()
	assert.Error(t, err)
}

func TestParseCertificate_DERAndBagPEM(t *testing.T) {
	pair := testcert.New(t)

	cert, certPEM, err := parseCertificate(pair.Cert.Raw)
	require.NoError(t, err)
	assert.Equal(t, pair.Cert.Raw, cert.Raw)
	assert.Equal(t, pair.CertPEM(), certPEM)

	withBag := append([]byte("Bag Attributes\n    localKeyID: 01\nsubject=CN=x\nissuer=CN=x\n"), pair.CertPEM()...)
	cert, _, err = parseCertificate(withBag)
	require.NoError(t, err)
	assert.Equal(t, pair.Cert.Raw, cert.Raw)
}

func TestCheckValidity(t *testing.T) {
	now := time.Now()
	pair := testcert.NewValid(t, now.Add(-time.Hour), now.Add(time.Hour))

	assert.NoError(t, CheckValidity(pair.Cert, now))
	assert.ErrorIs(t, CheckValidity(pair.Cert, now.Add(2*time.Hour)), ErrCertificateExpired)
	assert.ErrorIs(t, CheckValidity(pair.Cert, now.Add(-2*time.Hour)), ErrCertificateNotYetValid)
}
