// Package adapter holds the contracts shared by the database and storage adapters.
package adapter

// ResourceConnection is a named connection to an external resource.
type ResourceConnection interface {
	// Close releases the connection.
	Close() error
	// Type returns the adapter type, for example "sqlite" or "gcs".
	Type() string
	// Name returns the configured connection name.
	Name() string
}
