package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirosfoundation/go-satdescarga/pkg/message"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// ContentType is sent with every request
const ContentType = "text/xml; charset=utf-8"

// Default per-operation timeouts
const (
	DefaultAuthenticateTimeout = 30 * time.Second
	DefaultSolicitTimeout      = 60 * time.Second
	DefaultVerifyTimeout       = 60 * time.Second
	DefaultDownloadTimeout     = 120 * time.Second
)

// maxErrorBody bounds how much of a non-200 body is kept in a TransportError
const maxErrorBody = 64 << 10

// RecommendedTLS12CipherSuites are offered when TLS 1.2 is negotiated
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// Config contains HTTPS client configuration
type Config struct {
	MinTLSVersion uint16
	MaxTLSVersion uint16
	CipherSuites  []uint16
	RootCAs       *x509.CertPool

	AuthenticateTimeout time.Duration
	SolicitTimeout      time.Duration
	VerifyTimeout       time.Duration
	DownloadTimeout     time.Duration
	IdleConnTimeout     time.Duration
}

// DefaultConfig returns a default client configuration
func DefaultConfig() *Config {
	return &Config{
		MinTLSVersion:       TLS12,
		MaxTLSVersion:       TLS13,
		CipherSuites:        RecommendedTLS12CipherSuites,
		AuthenticateTimeout: DefaultAuthenticateTimeout,
		SolicitTimeout:      DefaultSolicitTimeout,
		VerifyTimeout:       DefaultVerifyTimeout,
		DownloadTimeout:     DefaultDownloadTimeout,
		IdleConnTimeout:     90 * time.Second,
	}
}

// TimeoutFor returns the configured timeout for op
func (c *Config) TimeoutFor(op message.Operation) time.Duration {
	var d time.Duration
	switch op {
	case message.OpAuthenticate:
		d = c.AuthenticateTimeout
	case message.OpSolicit:
		d = c.SolicitTimeout
	case message.OpVerify:
		d = c.VerifyTimeout
	case message.OpDownload:
		d = c.DownloadTimeout
	}
	if d <= 0 {
		return DefaultConfig().TimeoutFor(op)
	}
	return d
}

// Request is one SOAP call
type Request struct {
	URL    string
	Action string
	// Token is the session token as issued; empty for authentication
	Token   string
	Body    []byte
	Timeout time.Duration
}

// TransportError is returned for network failures, timeouts and non-200
// responses. Status is 0 when no response was received.
type TransportError struct {
	URL    string
	Status int
	Body   []byte
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("unexpected status code %d from %s: %s", e.Status, e.URL, string(e.Body))
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request ran out of time
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Client posts signed envelopes to the service over HTTPS
type Client struct {
	client *http.Client
	config *Config
}

// NewClient creates a new HTTPS client
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	tlsConfig := &tls.Config{
		MinVersion:   config.MinTLSVersion,
		MaxVersion:   config.MaxTLSVersion,
		CipherSuites: config.CipherSuites,
		RootCAs:      config.RootCAs,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
	}

	return &Client{
		client: &http.Client{Transport: transport},
		config: config,
	}
}

// Config returns the client configuration
func (c *Client) Config() *Config {
	return c.config
}

// Send posts req and returns the full response body. A timeout of zero
// means the context alone bounds the call.
func (c *Client) Send(ctx context.Context, req *Request) ([]byte, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", ContentType)
	httpReq.Header.Set("SOAPAction", req.Action)
	if req.Token != "" {
		httpReq.Header.Set("Authorization", AuthorizationHeader(req.Token))
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{URL: req.URL, Status: resp.StatusCode, Body: body}
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	return responseBody, nil
}

// AuthorizationHeader renders the WRAP header for a session token. The
// token is sent percent-decoded; an undecodable token is sent as is.
func AuthorizationHeader(token string) string {
	if decoded, err := url.PathUnescape(token); err == nil {
		token = decoded
	}
	return fmt.Sprintf(`WRAP access_token="%s"`, token)
}
