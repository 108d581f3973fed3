package config

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	// Type is "local" or "gcs".
	Type string `yaml:"type" mapstructure:"type" validate:"omitempty,oneof=local gcs"`
	// BucketName is the default bucket for operations.
	BucketName string `yaml:"bucket_name" mapstructure:"bucket_name"`
	// CredentialsFile is a service account key for GCS.
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	// BaseDir is the root directory of the local adapter.
	BaseDir string `yaml:"base_dir" mapstructure:"base_dir"`
	// Endpoint overrides the GCS API endpoint, for emulators.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// DatasourcesConfig holds a map of named storage configurations.
type DatasourcesConfig map[string]StorageConfig
