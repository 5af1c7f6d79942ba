package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-satdescarga/pkg/message"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NotNil(t, config)

	assert.Equal(t, uint16(TLS12), config.MinTLSVersion)
	assert.Equal(t, uint16(TLS13), config.MaxTLSVersion)
	assert.NotEmpty(t, config.CipherSuites)
	assert.Equal(t, 30*time.Second, config.TimeoutFor(message.OpAuthenticate))
	assert.Equal(t, 60*time.Second, config.TimeoutFor(message.OpSolicit))
	assert.Equal(t, 60*time.Second, config.TimeoutFor(message.OpVerify))
	assert.Equal(t, 120*time.Second, config.TimeoutFor(message.OpDownload))
}

func TestConfig_TimeoutForFallsBackToDefault(t *testing.T) {
	config := &Config{VerifyTimeout: 5 * time.Second}
	assert.Equal(t, 5*time.Second, config.TimeoutFor(message.OpVerify))
	assert.Equal(t, DefaultDownloadTimeout, config.TimeoutFor(message.OpDownload))
}

func TestRecommendedTLS12CipherSuites(t *testing.T) {
	for _, suite := range RecommendedTLS12CipherSuites {
		assert.NotEmpty(t, tls.CipherSuiteName(suite))
	}
}

func TestClient_SendHeaders(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<ok/>"))
	}))
	defer server.Close()

	client := NewClient(nil)
	body, err := client.Send(context.Background(), &Request{
		URL:     server.URL,
		Action:  "urn:verify",
		Token:   "abc%3Ddef",
		Body:    []byte("<req/>"),
		Timeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "<ok/>", string(body))

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, ContentType, got.Header.Get("Content-Type"))
	assert.Equal(t, "urn:verify", got.Header.Get("SOAPAction"))
	assert.Equal(t, `WRAP access_token="abc=def"`, got.Header.Get("Authorization"))
	assert.Equal(t, "<req/>", string(gotBody))
}

func TestClient_SendWithoutToken(t *testing.T) {
	var auth []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Values("Authorization")
	}))
	defer server.Close()

	_, err := NewClient(nil).Send(context.Background(), &Request{URL: server.URL, Action: "urn:auth"})
	require.NoError(t, err)
	assert.Empty(t, auth)
}

func TestClient_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<Fault/>"))
	}))
	defer server.Close()

	body, err := NewClient(nil).Send(context.Background(), &Request{URL: server.URL})
	assert.Nil(t, body)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, http.StatusInternalServerError, terr.Status)
	assert.Equal(t, "<Fault/>", string(terr.Body))
	assert.Contains(t, err.Error(), "500")
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	body, err := NewClient(nil).Send(context.Background(), &Request{URL: server.URL, Timeout: 50 * time.Millisecond})
	assert.Nil(t, body)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 0, terr.Status)
	assert.True(t, terr.Timeout())
}

func TestClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(nil).Send(context.Background(), &Request{URL: url})
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 0, terr.Status)
	assert.Error(t, terr.Err)
}

func TestAuthorizationHeader(t *testing.T) {
	assert.Equal(t, `WRAP access_token="plain"`, AuthorizationHeader("plain"))
	assert.Equal(t, `WRAP access_token="a b"`, AuthorizationHeader("a%20b"))
	assert.Equal(t, `WRAP access_token="bad%zz"`, AuthorizationHeader("bad%zz"))
}
