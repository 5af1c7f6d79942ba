// Package config handles configuration loading for the download client.
//
// Configuration is loaded from a YAML file in two expansion passes. First the
// template variables ${rfc}, ${base_path} and ${year} are replaced, where
// year is taken from dates.from. Then any remaining ${VAR} or $VAR is expanded
// from the environment, so secrets such as a MongoDB URI can be injected at
// runtime.
//
// # Configuration Sections
//
//   - rfc, base_path: the requester and the root of its working tree
//   - credentials: authority-issued inputs and the materialized PEM pair
//   - endpoints: service URL and SOAP action per operation
//   - dates, request: the bulk export to submit
//   - paths: token, pending lists, ledger, package index and packages
//   - storage: ledger backend (file or mongodb)
//   - http: per-operation timeouts
//   - log: level and format
//
// # Example Configuration
//
//	rfc: XAXX010101000
//	dates:
//	  from: "2024-01-01"
//	  to: "2024-01-31"
//	request:
//	  type: CFDI
//	storage:
//	  backend: mongodb
//	  mongodb:
//	    uri: ${MONGODB_URI}
//
// Everything omitted defaults to the authority's production endpoints and a
// per-year layout under base_path. See [Load].
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-satdescarga/internal/storage"
	"github.com/sirosfoundation/go-satdescarga/internal/storage/mongodb"
	"github.com/sirosfoundation/go-satdescarga/pkg/credentials"
	"github.com/sirosfoundation/go-satdescarga/pkg/message"
	"github.com/sirosfoundation/go-satdescarga/pkg/transport"
)

// Production endpoints of the bulk download service
const (
	DefaultAuthenticateURL    = "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/Autenticacion/Autenticacion.svc"
	DefaultAuthenticateAction = "http://DescargaMasivaTerceros.gob.mx/IAutenticacion/Autentica"
	DefaultSolicitURL         = "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/SolicitaDescargaService.svc"
	DefaultSolicitAction      = "http://DescargaMasivaTerceros.sat.gob.mx/ISolicitaDescargaService"
	DefaultVerifyURL          = "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/VerificaSolicitudDescargaService.svc"
	DefaultVerifyAction       = "http://DescargaMasivaTerceros.sat.gob.mx/IVerificaSolicitudDescargaService/VerificaSolicitudDescarga"
	DefaultDownloadURL        = "https://cfdidescargamasiva.clouda.sat.gob.mx/DescargaMasivaService.svc"
	DefaultDownloadAction     = "http://DescargaMasivaTerceros.sat.gob.mx/IDescargaMasivaTercerosService/Descargar"
)

// Config is the root configuration structure
type Config struct {
	RFC      string `yaml:"rfc"`
	BasePath string `yaml:"base_path"`

	Credentials CredentialsConfig `yaml:"credentials"`
	Endpoints   EndpointsConfig   `yaml:"endpoints"`
	Dates       DatesConfig       `yaml:"dates"`
	Request     RequestConfig     `yaml:"request"`
	Paths       PathsConfig       `yaml:"paths"`
	Storage     StorageConfig     `yaml:"storage"`
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
}

// CredentialsConfig locates the signing material
type CredentialsConfig struct {
	// Dir holds the authority-issued .cer and .key files
	Dir          string `yaml:"dir"`
	PasswordPath string `yaml:"password_path"`
	CertPath     string `yaml:"cert_path"`
	KeyPath      string `yaml:"key_path"`
}

// EndpointConfig is one service URL and its SOAP action
type EndpointConfig struct {
	URL    string `yaml:"url"`
	Action string `yaml:"action"`
}

// EndpointsConfig holds one endpoint per operation
type EndpointsConfig struct {
	Authenticate EndpointConfig `yaml:"authenticate"`
	// Solicit.Action is the action base; the variant name is appended
	Solicit  EndpointConfig `yaml:"solicit"`
	Verify   EndpointConfig `yaml:"verify"`
	Download EndpointConfig `yaml:"download"`
}

// DatesConfig is the inclusive calendar range to export
type DatesConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// RequestConfig holds the export type and its optional filters
type RequestConfig struct {
	Type        string `yaml:"type"`
	DocType     string `yaml:"doc_type"`
	IssuerRFC   string `yaml:"issuer_rfc"`
	ReceiverRFC string `yaml:"receiver_rfc"`
	Folio       string `yaml:"folio"`
}

// PathsConfig holds the on-disk state of the workflow
type PathsConfig struct {
	Token           string `yaml:"token"`
	PendingRequests string `yaml:"pending_requests"`
	Ledger          string `yaml:"ledger"`
	PendingPackages string `yaml:"pending_packages"`
	PackageIndex    string `yaml:"package_index"`
	PackagesDir     string `yaml:"packages_dir"`
}

// StorageConfig selects the ledger backend
type StorageConfig struct {
	Backend string        `yaml:"backend"`
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI            string `yaml:"uri"`
	Database       string `yaml:"database"`
	Bucket         string `yaml:"bucket"`
	ChunkSizeBytes int32  `yaml:"chunk_size_bytes"`
}

// HTTPConfig holds per-operation request timeouts
type HTTPConfig struct {
	AuthenticateTimeout time.Duration `yaml:"authenticate_timeout"`
	SolicitTimeout      time.Duration `yaml:"solicit_timeout"`
	VerifyTimeout       time.Duration `yaml:"verify_timeout"`
	DownloadTimeout     time.Duration `yaml:"download_timeout"`
}

// LogConfig selects the log handler
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// prelude is the part of the file read before templating
type prelude struct {
	RFC      string `yaml:"rfc"`
	BasePath string `yaml:"base_path"`
	Dates    struct {
		From string `yaml:"from"`
	} `yaml:"dates"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse expands, decodes, defaults and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var pre prelude
	if err := yaml.Unmarshal(data, &pre); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	vars := templateVars(pre)

	// Template variables first, then the environment
	expanded := os.ExpandEnv(vars.Replace(string(data)))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults(vars)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func templateVars(pre prelude) *strings.Replacer {
	base := pre.BasePath
	if base == "" {
		base = "clientes/" + pre.RFC
	}
	year := ""
	if len(pre.Dates.From) >= 4 {
		year = pre.Dates.From[:4]
	}
	// base_path may itself reference ${rfc}
	base = strings.ReplaceAll(base, "${rfc}", pre.RFC)
	return strings.NewReplacer(
		"${rfc}", pre.RFC,
		"${base_path}", base,
		"${year}", year,
	)
}

func (c *Config) applyDefaults(vars *strings.Replacer) {
	def := func(field *string, template string) {
		if *field == "" {
			*field = vars.Replace(template)
		}
	}
	defPath := func(field *string, template string) {
		if *field == "" {
			*field = filepath.Clean(vars.Replace(template))
		}
	}

	defPath(&c.BasePath, "${base_path}")

	defPath(&c.Credentials.Dir, "${base_path}/certificados")
	defPath(&c.Credentials.PasswordPath, c.Credentials.Dir+"/password.txt")
	defPath(&c.Credentials.CertPath, c.Credentials.Dir+"/"+credentials.CertificateFile)
	defPath(&c.Credentials.KeyPath, c.Credentials.Dir+"/"+credentials.KeyFile)

	def(&c.Endpoints.Authenticate.URL, DefaultAuthenticateURL)
	def(&c.Endpoints.Authenticate.Action, DefaultAuthenticateAction)
	def(&c.Endpoints.Solicit.URL, DefaultSolicitURL)
	def(&c.Endpoints.Solicit.Action, DefaultSolicitAction)
	def(&c.Endpoints.Verify.URL, DefaultVerifyURL)
	def(&c.Endpoints.Verify.Action, DefaultVerifyAction)
	def(&c.Endpoints.Download.URL, DefaultDownloadURL)
	def(&c.Endpoints.Download.Action, DefaultDownloadAction)

	def(&c.Request.Type, message.RequestTypeCFDI)

	defPath(&c.Paths.Token, "${base_path}/token.txt")
	defPath(&c.Paths.Ledger, "${base_path}/solicitudes/historial.csv")
	defPath(&c.Paths.PendingRequests, "${base_path}/${year}/solicitudes/ids.txt")
	defPath(&c.Paths.PendingPackages, "${base_path}/${year}/paquetes/ids.txt")
	defPath(&c.Paths.PackageIndex, "${base_path}/${year}/paquetes/index.csv")
	defPath(&c.Paths.PackagesDir, "${base_path}/${year}/paquetes/zip")

	def(&c.Storage.Backend, storage.BackendFile)
	def(&c.Storage.MongoDB.Database, "satdescarga")
	def(&c.Storage.MongoDB.Bucket, "packages")
	if c.Storage.MongoDB.ChunkSizeBytes == 0 {
		c.Storage.MongoDB.ChunkSizeBytes = 261120 // 255KB
	}

	if c.HTTP.AuthenticateTimeout == 0 {
		c.HTTP.AuthenticateTimeout = transport.DefaultAuthenticateTimeout
	}
	if c.HTTP.SolicitTimeout == 0 {
		c.HTTP.SolicitTimeout = transport.DefaultSolicitTimeout
	}
	if c.HTTP.VerifyTimeout == 0 {
		c.HTTP.VerifyTimeout = transport.DefaultVerifyTimeout
	}
	if c.HTTP.DownloadTimeout == 0 {
		c.HTTP.DownloadTimeout = transport.DefaultDownloadTimeout
	}

	def(&c.Log.Level, "info")
	def(&c.Log.Format, "text")
}

func (c *Config) validate() error {
	if c.RFC == "" {
		return fmt.Errorf("rfc is required")
	}
	if strings.ContainsAny(c.RFC, ",\r\n") {
		return fmt.Errorf("rfc contains a reserved character")
	}

	if c.Dates.From != "" || c.Dates.To != "" {
		from, err := message.ParseDate(c.Dates.From)
		if err != nil {
			return fmt.Errorf("dates.from: %w", err)
		}
		to, err := message.ParseDate(c.Dates.To)
		if err != nil {
			return fmt.Errorf("dates.to: %w", err)
		}
		if to.Before(from) {
			return fmt.Errorf("dates.to %s is before dates.from %s", c.Dates.To, c.Dates.From)
		}
	}

	switch c.Storage.Backend {
	case storage.BackendFile:
	case storage.BackendMongoDB:
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("storage.mongodb.uri is required when backend is 'mongodb'")
		}
	default:
		return fmt.Errorf("storage.backend must be 'file' or 'mongodb', got '%s'", c.Storage.Backend)
	}

	for name, d := range map[string]time.Duration{
		"http.authenticate_timeout": c.HTTP.AuthenticateTimeout,
		"http.solicit_timeout":      c.HTTP.SolicitTimeout,
		"http.verify_timeout":       c.HTTP.VerifyTimeout,
		"http.download_timeout":     c.HTTP.DownloadTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json', got '%s'", c.Log.Format)
	}

	return nil
}

// HasRequest reports whether a date range to submit is configured
func (c *Config) HasRequest() bool {
	return c.Dates.From != "" && c.Dates.To != ""
}

// RequestParameters derives the export request from dates and request
func (c *Config) RequestParameters() (message.RequestParameters, error) {
	if !c.HasRequest() {
		return message.RequestParameters{}, fmt.Errorf("%w: dates.from and dates.to are required", message.ErrInvalidParameters)
	}
	from, err := message.ParseDate(c.Dates.From)
	if err != nil {
		return message.RequestParameters{}, err
	}
	to, err := message.ParseDate(c.Dates.To)
	if err != nil {
		return message.RequestParameters{}, err
	}
	p := message.RequestParameters{
		Type:         c.Request.Type,
		DateFrom:     from,
		DateTo:       to,
		DocumentType: c.Request.DocType,
		IssuerID:     c.Request.IssuerRFC,
		ReceiverID:   c.Request.ReceiverRFC,
		Folio:        c.Request.Folio,
	}
	return p, p.Validate()
}

// MessageSettings derives the envelope builder settings
func (c *Config) MessageSettings() message.Settings {
	ep := func(e EndpointConfig) message.Endpoint {
		return message.Endpoint{URL: e.URL, Action: e.Action}
	}
	return message.Settings{
		RFC:          c.RFC,
		Authenticate: ep(c.Endpoints.Authenticate),
		Solicit:      ep(c.Endpoints.Solicit),
		Verify:       ep(c.Endpoints.Verify),
		Download:     ep(c.Endpoints.Download),
	}
}

// TransportConfig derives the HTTPS client configuration
func (c *Config) TransportConfig() *transport.Config {
	tc := transport.DefaultConfig()
	tc.AuthenticateTimeout = c.HTTP.AuthenticateTimeout
	tc.SolicitTimeout = c.HTTP.SolicitTimeout
	tc.VerifyTimeout = c.HTTP.VerifyTimeout
	tc.DownloadTimeout = c.HTTP.DownloadTimeout
	return tc
}

// StorageConfig derives the ledger backend configuration
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Backend:     c.Storage.Backend,
		LedgerPath:  c.Paths.Ledger,
		PackagesDir: c.Paths.PackagesDir,
		IndexPath:   c.Paths.PackageIndex,
		MongoDB: mongodb.Config{
			URI:            c.Storage.MongoDB.URI,
			Database:       c.Storage.MongoDB.Database,
			GridFSBucket:   c.Storage.MongoDB.Bucket,
			ChunkSizeBytes: c.Storage.MongoDB.ChunkSizeBytes,
		},
	}
}

// CredentialSource returns a source reading the materialized PEM pair
func (c *Config) CredentialSource() *credentials.FileSource {
	return &credentials.FileSource{CertPath: c.Credentials.CertPath, KeyPath: c.Credentials.KeyPath}
}
