package report

import (
	"go.uber.org/fx"

	"github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage"
	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
)

// NewWriterProvider creates the report writer from the batch settings.
func NewWriterProvider(cfg *config.Config, resolver storage.StorageConnectionResolver) port.ReportWriter {
	b := cfg.Cirrus.Batch
	return NewWriter(resolver, Options{
		Dir:        b.ReportDir,
		File:       b.ReportFile,
		Format:     b.ReportFormat,
		StorageRef: b.ReportStorageRef,
	})
}

// Module provides the report writer.
var Module = fx.Options(
	fx.Provide(NewWriterProvider),
)
