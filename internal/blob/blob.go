// Package blob exposes the archive blob stores behind one interface and
// selects a backend from configuration.
package blob

import (
	"context"
	"fmt"

	"spiritcore/internal/blob/core"
	"spiritcore/internal/config"
	memorystore "spiritcore/internal/infra/blob/memory"
	s3store "spiritcore/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverS3     = core.DriverS3
	DriverMemory = core.DriverMemory
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

// NewMemory returns a process-local store.
func NewMemory() Store { return memorystore.New() }

// Open selects a blob store for cfg.Driver.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverS3:
		return s3store.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
