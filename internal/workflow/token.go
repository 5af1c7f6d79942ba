package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// ErrNoToken is returned when no session token has been stored yet
var ErrNoToken = errors.New("no session token; authenticate first")

// TokenStore keeps the session token in a single file readable only by its owner
type TokenStore struct {
	path string
}

// NewTokenStore creates a token store at path
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Path returns the token file path
func (s *TokenStore) Path() string {
	return s.path
}

// Save replaces the stored token
func (s *TokenStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := renameio.WriteFile(s.path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}

// Load returns the stored token exactly as issued
func (s *TokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}
