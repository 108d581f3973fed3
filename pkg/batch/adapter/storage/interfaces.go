// Package storage defines the object storage adapters the run report is
// uploaded through. Adapters are registered per type and connections are
// opened by name from config.CirrusConfig.Storage.
package storage

import (
	"context"
	"io"

	storageConfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage/config"
	coreAdapter "github.com/tigerroll/cirrusbatch/pkg/batch/core/adapter"
)

// StorageExecutor defines the object operations of a storage backend.
type StorageExecutor interface {
	// Upload writes data to objectName in bucket.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens objectName in bucket. The caller closes the reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object of bucket below prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes objectName from bucket.
	DeleteObject(ctx context.Context, bucket, objectName string) error
	// Location returns a human readable location of objectName, such as a
	// file path or a gs:// URL.
	Location(bucket, objectName string) string
}

// StorageConnection is an open connection to a storage backend.
type StorageConnection interface {
	coreAdapter.ResourceConnection
	StorageExecutor
}

// StorageConnectionResolver opens storage connections by configured name.
type StorageConnectionResolver interface {
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}

// StorageProvider opens connections of one adapter type.
type StorageProvider interface {
	// Type returns the adapter type handled by this provider.
	Type() string
	// Open creates a connection named name from cfg.
	Open(ctx context.Context, name string, cfg storageConfig.StorageConfig) (StorageConnection, error)
}
