// Package storage selects the backend behind the ledger contracts.
//
// # Backends
//
//   - "file": the line-oriented ledger, a package directory and an index
//     file (see the ledger package)
//   - "mongodb": requests and the package index in collections, packages
//     in a GridFS bucket
//
// Pending lists and the session token always stay on disk.
package storage

import (
	"context"
	"fmt"

	"github.com/sirosfoundation/go-satdescarga/internal/storage/mongodb"
	"github.com/sirosfoundation/go-satdescarga/pkg/ledger"
)

// Backend names
const (
	BackendFile    = "file"
	BackendMongoDB = "mongodb"
)

// Config selects and configures a backend
type Config struct {
	Backend string

	// File backend
	LedgerPath  string
	PackagesDir string
	IndexPath   string

	MongoDB mongodb.Config
}

// Backend bundles the three ledger contracts of one store
type Backend struct {
	Ledger   ledger.Store
	Packages ledger.PackageStore
	Index    ledger.PackageIndex

	close func(ctx context.Context) error
}

// Open creates the configured backend
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return &Backend{
			Ledger:   ledger.NewFileStore(cfg.LedgerPath),
			Packages: ledger.NewDirPackageStore(cfg.PackagesDir),
			Index:    ledger.NewFileIndex(cfg.IndexPath),
		}, nil

	case BackendMongoDB:
		store, err := mongodb.NewStore(ctx, &cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Ledger:   store,
			Packages: store.PackageStore(),
			Index:    store.PackageIndex(),
			close:    store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Close releases backend resources
func (b *Backend) Close(ctx context.Context) error {
	if b.close == nil {
		return nil
	}
	return b.close(ctx)
}
