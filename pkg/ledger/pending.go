package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/renameio/v2"
)

// PendingList is a file of identifiers awaiting the next processing pass,
// one per line with no header
type PendingList struct {
	path string
}

// NewPendingList creates a list backed by path
func NewPendingList(path string) *PendingList {
	return &PendingList{path: path}
}

// Path returns the list file path
func (l *PendingList) Path() string {
	return l.path
}

// Load returns the identifiers in file order. A missing file is an empty list.
func (l *PendingList) Load() ([]string, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading pending list %s: %w", l.path, err)
	}

	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Save replaces the list with ids
func (l *PendingList) Save(ids []string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating pending list directory: %w", err)
	}
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	if err := renameio.WriteFile(l.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing pending list %s: %w", l.path, err)
	}
	return nil
}

// Add appends the ids not already present
func (l *PendingList) Add(ids ...string) error {
	current, err := l.Load()
	if err != nil {
		return err
	}
	changed := false
	for _, id := range ids {
		if id == "" || slices.Contains(current, id) {
			continue
		}
		current = append(current, id)
		changed = true
	}
	if !changed {
		return nil
	}
	return l.Save(current)
}

// Contains reports whether id is pending
func (l *PendingList) Contains(id string) (bool, error) {
	current, err := l.Load()
	if err != nil {
		return false, err
	}
	return slices.Contains(current, id), nil
}
