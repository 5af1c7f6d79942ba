package credentials

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/youmark/pkcs8"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Output file names written next to the authority-issued inputs
const (
	CertificateFile = "cert.pem"
	KeyFile         = "fiel.pem"

	bundleFile       = "tmp_cert.pfx"
	intermediateExt  = ".tmp"
	certificateInExt = ".cer"
	keyInExt         = ".key"
)

// pemSniffLen is how many leading bytes are inspected to detect PEM input
const pemSniffLen = 64

// Result holds the paths of the materialized signing files
type Result struct {
	CertPath string
	KeyPath  string
}

// Materializer turns the authority's DER certificate and encrypted DER key
// into the PEM pair the signer loads
type Materializer struct {
	logger *slog.Logger
}

// NewMaterializer creates a materializer
func NewMaterializer(logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{logger: logger}
}

// Locate returns the only file in dir whose name ends in ext (case-insensitive)
func Locate(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var matches []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(entry.Name()), strings.ToLower(ext)) {
			matches = append(matches, entry.Name())
		}
	}
	if len(matches) != 1 {
		return "", &AmbiguousInputError{Dir: dir, Ext: ext, Matches: matches}
	}
	return filepath.Join(dir, matches[0]), nil
}

// ReadPassword reads the key password from a text file
func ReadPassword(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading password file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Materialize converts the .cer/.key pair found in dir into cert.pem and
// fiel.pem in the same directory. On failure no output of this run remains.
func (m *Materializer) Materialize(dir, passwordPath string) (res *Result, err error) {
	password, err := ReadPassword(passwordPath)
	if err != nil {
		return nil, err
	}
	cerPath, err := Locate(dir, certificateInExt)
	if err != nil {
		return nil, err
	}
	keyPath, err := Locate(dir, keyInExt)
	if err != nil {
		return nil, err
	}

	certOut := filepath.Join(dir, CertificateFile)
	keyOut := filepath.Join(dir, KeyFile)

	defer func() {
		if err != nil {
			_ = os.Remove(certOut)
			_ = os.Remove(keyOut)
		}
	}()

	cert, err := m.convertCertificate(cerPath, certOut)
	if err != nil {
		return nil, &CertConversionError{Step: "convert certificate", Err: err}
	}

	key, err := m.convertKey(keyPath, keyOut, password)
	if err != nil {
		return nil, err
	}

	if err := matchKey(cert, key); err != nil {
		return nil, &CertConversionError{Step: "match key", Err: err}
	}

	if err := m.reexportCertificate(cert, key, password, filepath.Join(dir, bundleFile), certOut); err != nil {
		return nil, err
	}

	for _, p := range []string{certOut, keyOut} {
		if err := os.Chmod(p, 0o600); err != nil {
			return nil, &CertConversionError{Step: "protect outputs", Err: err}
		}
	}

	m.logger.Info("signing material prepared", "certificate", certOut, "key", keyOut,
		"subject", cert.Subject.String(), "not_after", cert.NotAfter)

	return &Result{CertPath: certOut, KeyPath: keyOut}, nil
}

func (m *Materializer) convertCertificate(src, dst string) (*x509.Certificate, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	cert, certPEM, err := parseCertificate(data)
	if err != nil {
		return nil, err
	}
	if err := renameio.WriteFile(dst, certPEM, 0o600); err != nil {
		return nil, err
	}
	m.logger.Debug("certificate converted", "path", dst)
	return cert, nil
}

// convertKey writes the usable key to dst. PEM input is copied verbatim;
// encrypted DER input goes through decrypt and strip stages.
func (m *Materializer) convertKey(src, dst, password string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, &CertConversionError{Step: "read key", Err: err}
	}

	if isPEM(data) {
		if err := renameio.WriteFile(dst, data, 0o600); err != nil {
			return nil, &CertConversionError{Step: "copy key", Err: err}
		}
		key, err := parsePrivateKey(data, password)
		if err != nil {
			return nil, &CertConversionError{Step: "parse key", Err: err}
		}
		m.logger.Debug("key already in PEM, copied", "path", dst)
		return key, nil
	}

	intermediate := dst + intermediateExt
	defer os.Remove(intermediate)

	if err := decryptToPKCS8(data, password, intermediate); err != nil {
		return nil, &CertConversionError{Step: "decrypt key", Err: err}
	}
	key, err := stripToPKCS1(intermediate, dst)
	if err != nil {
		return nil, &CertConversionError{Step: "strip key", Err: err}
	}
	m.logger.Debug("key converted", "path", dst)
	return key, nil
}

// decryptToPKCS8 decrypts an EncryptedPrivateKeyInfo and writes it as an
// unencrypted PKCS#8 PEM
func decryptToPKCS8(der []byte, password, dst string) error {
	key, err := pkcs8.ParsePKCS8PrivateKey(der, []byte(password))
	if err != nil {
		return err
	}
	plain, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	return renameio.WriteFile(dst, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: plain}), 0o600)
}

// stripToPKCS1 removes the PKCS#8 wrapper and writes a PKCS#1 RSA key
func stripToPKCS1(src, dst string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	key, err := parsePrivateKey(data, "")
	if err != nil {
		return nil, err
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := renameio.WriteFile(dst, out, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

// reexportCertificate round-trips the pair through a PKCS#12 bundle and
// replaces certPath with the certificate as extracted from the bundle,
// including its bag attributes. The bundle is always removed.
func (m *Materializer) reexportCertificate(cert *x509.Certificate, key *rsa.PrivateKey, password, bundlePath, certPath string) error {
	pfx, err := pkcs12.LegacyDES.Encode(key, cert, nil, password)
	if err != nil {
		return &CertConversionError{Step: "export bundle", Err: err}
	}
	defer os.Remove(bundlePath)
	if err := renameio.WriteFile(bundlePath, pfx, 0o600); err != nil {
		return &CertConversionError{Step: "export bundle", Err: err}
	}

	stored, err := os.ReadFile(bundlePath)
	if err != nil {
		return &CertConversionError{Step: "extract certificate", Err: err}
	}
	blocks, err := pkcs12.ToPEM(stored, password) //nolint:staticcheck // only ToPEM exposes bag attributes
	if err != nil {
		return &CertConversionError{Step: "extract certificate", Err: err}
	}

	var out bytes.Buffer
	for _, block := range blocks {
		if block.Type != "CERTIFICATE" {
			continue
		}
		extracted, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return &CertConversionError{Step: "extract certificate", Err: err}
		}
		out.Write(renderBagCertificate(block, extracted.Subject.String(), extracted.Issuer.String()))
	}
	if out.Len() == 0 {
		return &CertConversionError{Step: "extract certificate", Err: errors.New("bundle holds no certificate")}
	}

	if err := renameio.WriteFile(certPath, out.Bytes(), 0o600); err != nil {
		return &CertConversionError{Step: "replace certificate", Err: err}
	}
	m.logger.Debug("certificate re-extracted from bundle", "path", certPath)
	return nil
}

// renderBagCertificate renders a certificate block the way openssl's
// pkcs12 -clcerts -nokeys does: bag attributes, subject and issuer lines,
// then the PEM body without headers.
func renderBagCertificate(block *pem.Block, subject, issuer string) []byte {
	var b bytes.Buffer
	b.WriteString("Bag Attributes\n")

	keys := make([]string, 0, len(block.Headers))
	for k := range block.Headers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return attributeRank(keys[i]) < attributeRank(keys[j]) ||
			(attributeRank(keys[i]) == attributeRank(keys[j]) && keys[i] < keys[j])
	})
	for _, k := range keys {
		v := block.Headers[k]
		if k == "localKeyId" {
			fmt.Fprintf(&b, "    localKeyID: %s\n", spacedHex(v))
			continue
		}
		fmt.Fprintf(&b, "    %s: %s\n", k, v)
	}

	fmt.Fprintf(&b, "subject=%s\n", subject)
	fmt.Fprintf(&b, "issuer=%s\n", issuer)
	b.Write(pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: block.Bytes}))
	return b.Bytes()
}

func attributeRank(k string) int {
	switch k {
	case "friendlyName":
		return 0
	case "localKeyId":
		return 1
	default:
		return 2
	}
}

// spacedHex turns "0a1b" into "0A 1B"
func spacedHex(h string) string {
	h = strings.ToUpper(h)
	var parts []string
	for i := 0; i+1 < len(h); i += 2 {
		parts = append(parts, h[i:i+2])
	}
	return strings.Join(parts, " ")
}

func isPEM(data []byte) bool {
	head := data
	if len(head) > pemSniffLen {
		head = head[:pemSniffLen]
	}
	return bytes.Contains(head, []byte("-----BEGIN"))
}

// parsePrivateKey parses an RSA key from PEM. password is only used for
// ENCRYPTED PRIVATE KEY blocks.
func parsePrivateKey(data []byte, password string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "ENCRYPTED PRIVATE KEY":
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(password))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKey, block.Type)
	}
	if err != nil {
		return nil, err
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	return rsaKey, nil
}
