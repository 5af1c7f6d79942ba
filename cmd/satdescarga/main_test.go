package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-satdescarga/internal/testcert"
)

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	doc := fmt.Sprintf("rfc: XAXX010101000\nbase_path: %s\nlog:\n  level: debug\n", dir) + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "Usage:")

	errOut.Reset()
	assert.Equal(t, 2, run(context.Background(), []string{"frobnicate"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "unknown command: frobnicate")

	assert.Equal(t, 0, run(context.Background(), []string{"help"}, &out, &errOut))
	assert.Contains(t, out.String(), "satdescarga prepare")
}

func TestRun_MissingConfig(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"verify", "--config", filepath.Join(t.TempDir(), "nope.yaml")}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "config:")
}

func TestPrepare(t *testing.T) {
	dir := t.TempDir()
	certDir := filepath.Join(dir, "certificados")
	require.NoError(t, os.MkdirAll(certDir, 0o755))
	testcert.New(t).WriteAuthorityFiles(t, certDir, "00001000000500000001")
	cfgPath := writeConfig(t, dir, "")

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"prepare", "--config", cfgPath}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	lines := strings.Fields(out.String())
	require.Len(t, lines, 2)
	assert.FileExists(t, filepath.Join(certDir, "cert.pem"))
	assert.FileExists(t, filepath.Join(certDir, "fiel.pem"))
}

func TestAuthAndVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><AutenticaResponse xmlns="http://DescargaMasivaTerceros.gob.mx"><AutenticaResult>tok</AutenticaResult></AutenticaResponse></s:Body></s:Envelope>`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	certDir := filepath.Join(dir, "certificados")
	require.NoError(t, os.MkdirAll(certDir, 0o755))
	testcert.New(t).WritePEM(t, certDir)
	cfgPath := writeConfig(t, dir, fmt.Sprintf("endpoints:\n  authenticate:\n    url: %s\n", srv.URL))

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"auth", "--config", cfgPath}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	token, err := os.ReadFile(filepath.Join(dir, "token.txt"))
	require.NoError(t, err)
	assert.Equal(t, "tok", string(token))

	// Nothing is pending yet
	out.Reset()
	code = run(context.Background(), []string{"verify", "--config", cfgPath}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "completed=")
}

func TestSolicit_RequiresDates(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"solicit", "--config", cfgPath}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "solicit failed")
}

func TestEnvelopeAndCheckSignature(t *testing.T) {
	dir := t.TempDir()
	certDir := filepath.Join(dir, "certificados")
	require.NoError(t, os.MkdirAll(certDir, 0o755))
	testcert.New(t).WritePEM(t, certDir)
	cfgPath := writeConfig(t, dir, "")

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"envelope", "--config", cfgPath, "--op", "verify", "--id", "REQ-1"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), `IdSolicitud="REQ-1"`)

	signedPath := filepath.Join(dir, "signed.xml")
	require.NoError(t, os.WriteFile(signedPath, out.Bytes(), 0o600))

	out.Reset()
	code = run(context.Background(), []string{"check-signature", "--config", cfgPath, signedPath}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "signature valid")

	tampered := bytes.Replace(mustRead(t, signedPath), []byte(`IdSolicitud="REQ-1"`), []byte(`IdSolicitud="REQ-2"`), 1)
	require.NoError(t, os.WriteFile(signedPath, tampered, 0o600))

	out.Reset()
	code = run(context.Background(), []string{"check-signature", "--config", cfgPath, signedPath}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "INVALID")
}

func TestEnvelope_UnknownOperation(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"envelope", "--config", cfgPath, "--op", "nope"}, &out, &errOut)
	assert.Equal(t, 2, code)
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
