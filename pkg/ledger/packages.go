package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// PackageExt is the extension of stored package artifacts
const PackageExt = ".zip"

// PackageStore persists downloaded packages
type PackageStore interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
}

// PackageIndex records which request produced each package
type PackageIndex interface {
	Bind(ctx context.Context, owner string, packageIDs []string) error
	Owner(ctx context.Context, packageID string) (string, error)
	Packages(ctx context.Context, owner string) ([]string, error)
}

// DirPackageStore writes each package to <dir>/<id>.zip
type DirPackageStore struct {
	dir string
}

// NewDirPackageStore creates a store rooted at dir
func NewDirPackageStore(dir string) *DirPackageStore {
	return &DirPackageStore{dir: dir}
}

func (s *DirPackageStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid package id %q", id)
	}
	return filepath.Join(s.dir, id+PackageExt), nil
}

// Path returns where package id is stored
func (s *DirPackageStore) Path(id string) (string, error) {
	return s.path(id)
}

// Put implements PackageStore
func (s *DirPackageStore) Put(_ context.Context, id string, data []byte) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating package directory: %w", err)
	}
	if err := renameio.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("writing package %s: %w", id, err)
	}
	return nil
}

// Get implements PackageStore
func (s *DirPackageStore) Get(_ context.Context, id string) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("package %s: %w", id, ErrNotFound)
	}
	return data, err
}

// FileIndex is a PackageIndex over a "package_id,request_id" line file
type FileIndex struct {
	path string
}

// NewFileIndex creates an index backed by path
func NewFileIndex(path string) *FileIndex {
	return &FileIndex{path: path}
}

func (x *FileIndex) load() ([][2]string, error) {
	data, err := os.ReadFile(x.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading package index: %w", err)
	}
	var pairs [][2]string
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pkg, owner, ok := strings.Cut(line, ",")
		if !ok || pkg == "" || owner == "" {
			return nil, &CorruptionError{Line: i + 1, Reason: "package index row is not package_id,request_id"}
		}
		pairs = append(pairs, [2]string{pkg, owner})
	}
	return pairs, nil
}

// Bind implements PackageIndex. Rebinding a package to the same owner is a no-op.
func (x *FileIndex) Bind(_ context.Context, owner string, packageIDs []string) error {
	pairs, err := x.load()
	if err != nil {
		return err
	}
	known := make(map[string]string, len(pairs))
	for _, p := range pairs {
		known[p[0]] = p[1]
	}

	changed := false
	for _, id := range packageIDs {
		if prev, ok := known[id]; ok {
			if prev != owner {
				return fmt.Errorf("package %s already bound to request %s", id, prev)
			}
			continue
		}
		known[id] = owner
		pairs = append(pairs, [2]string{id, owner})
		changed = true
	}
	if !changed {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return fmt.Errorf("creating package index directory: %w", err)
	}
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p[0] + "," + p[1] + "\n")
	}
	if err := renameio.WriteFile(x.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing package index: %w", err)
	}
	return nil
}

// Owner implements PackageIndex. Packages missing from the index resolve
// through the authority's "<request id>_<n>" naming.
func (x *FileIndex) Owner(_ context.Context, packageID string) (string, error) {
	pairs, err := x.load()
	if err != nil {
		return "", err
	}
	for _, p := range pairs {
		if p[0] == packageID {
			return p[1], nil
		}
	}
	return OwnerFromName(packageID)
}

// Packages implements PackageIndex
func (x *FileIndex) Packages(_ context.Context, owner string) ([]string, error) {
	pairs, err := x.load()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range pairs {
		if p[1] == owner {
			ids = append(ids, p[0])
		}
	}
	return ids, nil
}

// OwnerFromName derives the request id from a package id of the form
// "<request id>_<n>"
func OwnerFromName(packageID string) (string, error) {
	i := strings.LastIndex(packageID, "_")
	if i <= 0 {
		return "", fmt.Errorf("owner of package %s: %w", packageID, ErrNotFound)
	}
	return packageID[:i], nil
}
