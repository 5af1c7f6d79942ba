package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-satdescarga/internal/storage"
	"github.com/sirosfoundation/go-satdescarga/pkg/message"
	"github.com/sirosfoundation/go-satdescarga/pkg/transport"
)

const minimal = `
rfc: XAXX010101000
dates:
  from: "2024-03-01"
  to: "2024-03-31"
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "clientes/XAXX010101000", cfg.BasePath)
	assert.Equal(t, "clientes/XAXX010101000/certificados", cfg.Credentials.Dir)
	assert.Equal(t, "clientes/XAXX010101000/certificados/cert.pem", cfg.Credentials.CertPath)
	assert.Equal(t, "clientes/XAXX010101000/certificados/fiel.pem", cfg.Credentials.KeyPath)
	assert.Equal(t, "clientes/XAXX010101000/token.txt", cfg.Paths.Token)
	assert.Equal(t, "clientes/XAXX010101000/2024/solicitudes/ids.txt", cfg.Paths.PendingRequests)
	assert.Equal(t, "clientes/XAXX010101000/2024/paquetes/zip", cfg.Paths.PackagesDir)
	assert.Equal(t, DefaultSolicitAction, cfg.Endpoints.Solicit.Action)
	assert.Equal(t, DefaultDownloadURL, cfg.Endpoints.Download.URL)
	assert.Equal(t, message.RequestTypeCFDI, cfg.Request.Type)
	assert.Equal(t, storage.BackendFile, cfg.Storage.Backend)
	assert.Equal(t, transport.DefaultDownloadTimeout, cfg.HTTP.DownloadTimeout)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestParse_TemplateVariables(t *testing.T) {
	doc := `
rfc: AAA010101AAA
base_path: /data/${rfc}
dates:
  from: "2023-12-01"
  to: "2023-12-31"
paths:
  ledger: ${base_path}/${year}/ledger.csv
credentials:
  password_path: ${base_path}/secret/${rfc}.txt
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "/data/AAA010101AAA", cfg.BasePath)
	assert.Equal(t, "/data/AAA010101AAA/2023/ledger.csv", cfg.Paths.Ledger)
	assert.Equal(t, "/data/AAA010101AAA/secret/AAA010101AAA.txt", cfg.Credentials.PasswordPath)
}

func TestParse_EnvironmentAfterTemplates(t *testing.T) {
	t.Setenv("SATDESCARGA_TEST_URI", "mongodb://db.example:27017")
	doc := minimal + `
storage:
  backend: mongodb
  mongodb:
    uri: ${SATDESCARGA_TEST_URI}
http:
  verify_timeout: 15s
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db.example:27017", cfg.Storage.MongoDB.URI)
	assert.Equal(t, 15*time.Second, cfg.HTTP.VerifyTimeout)

	sc := cfg.StorageConfig()
	assert.Equal(t, storage.BackendMongoDB, sc.Backend)
	assert.Equal(t, "packages", sc.MongoDB.GridFSBucket)

	tc := cfg.TransportConfig()
	assert.Equal(t, 15*time.Second, tc.TimeoutFor(message.OpVerify))
	assert.Equal(t, transport.DefaultAuthenticateTimeout, tc.TimeoutFor(message.OpAuthenticate))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing rfc", "dates:\n  from: \"2024-01-01\"\n  to: \"2024-01-02\"\n"},
		{"reversed dates", "rfc: X\ndates:\n  from: \"2024-02-01\"\n  to: \"2024-01-01\"\n"},
		{"bad date", "rfc: X\ndates:\n  from: \"01/02/2024\"\n  to: \"2024-01-01\"\n"},
		{"mongodb without uri", minimal + "storage:\n  backend: mongodb\n"},
		{"unknown backend", minimal + "storage:\n  backend: sqlite\n"},
		{"unknown log format", minimal + "log:\n  format: xml\n"},
		{"not yaml", "rfc: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestRequestParameters(t *testing.T) {
	doc := minimal + `
request:
  type: Metadata
  doc_type: E
  issuer_rfc: EEE010101EEE
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	p, err := cfg.RequestParameters()
	require.NoError(t, err)
	assert.Equal(t, message.RequestTypeMetadata, p.Type)
	assert.Equal(t, "2024-03-01", p.DateFromString())
	assert.Equal(t, "2024-03-31", p.DateToString())
	assert.Equal(t, "EEE010101EEE", p.IssuerID)
	assert.Equal(t, message.VariantIssued, p.Variant())
}

func TestRequestParameters_NoDates(t *testing.T) {
	cfg, err := Parse([]byte("rfc: XAXX010101000\n"))
	require.NoError(t, err)
	assert.False(t, cfg.HasRequest())

	_, err = cfg.RequestParameters()
	assert.ErrorIs(t, err, message.ErrInvalidParameters)
}

func TestMessageSettings(t *testing.T) {
	cfg, err := Parse([]byte(minimal + "endpoints:\n  verify:\n    url: https://verify.example\n"))
	require.NoError(t, err)

	s := cfg.MessageSettings()
	assert.Equal(t, "XAXX010101000", s.RFC)
	assert.Equal(t, "https://verify.example", s.Verify.URL)
	assert.Equal(t, DefaultVerifyAction, s.Verify.Action)
	assert.Equal(t, DefaultAuthenticateURL, s.Authenticate.URL)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "XAXX010101000", cfg.RFC)

	src := cfg.CredentialSource()
	assert.Equal(t, cfg.Credentials.CertPath, src.CertPath)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
