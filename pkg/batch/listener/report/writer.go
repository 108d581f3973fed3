// Package report writes the run report, one row per work item result, as a
// Parquet or CSV file uploaded through a storage connection.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage/local"
	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const moduleName = "report"

// Report formats.
const (
	FormatParquet = "parquet"
	FormatCSV     = "csv"
)

const timestampLayout = "2006-01-02_15-04-05"

// Options configure a Writer.
type Options struct {
	// Dir is the directory, or object prefix, the report is written to.
	Dir string
	// File is the report file name. When empty the name is derived from the
	// definition file and the current time.
	File string
	// Format is FormatParquet or FormatCSV. Empty means FormatParquet.
	Format string
	// StorageRef names the storage connection. Empty writes to the local Dir.
	StorageRef string
}

// Writer implements port.ReportWriter.
type Writer struct {
	resolver storage.StorageConnectionResolver
	opts     Options
	now      func() time.Time
}

var _ port.ReportWriter = (*Writer)(nil)

// NewWriter creates a Writer. resolver may be nil when StorageRef is empty.
func NewWriter(resolver storage.StorageConnectionResolver, opts Options) *Writer {
	if opts.Format == "" {
		opts.Format = FormatParquet
	}
	return &Writer{resolver: resolver, opts: opts, now: time.Now}
}

// Write encodes results and uploads the report. It returns the location of
// the written report.
func (w *Writer) Write(ctx context.Context, cfg *model.BatchConfig, results []model.BatchRunResult) (string, error) {
	rows := make([]Row, len(results))
	for i, r := range results {
		rows[i] = NewRow(r)
	}

	var (
		buf         bytes.Buffer
		err         error
		contentType string
	)
	switch strings.ToLower(w.opts.Format) {
	case FormatParquet:
		contentType = "application/octet-stream"
		err = encodeParquet(&buf, rows)
	case FormatCSV:
		contentType = "text/csv"
		err = encodeCSV(&buf, rows)
	default:
		return "", exception.NewBatchErrorf(moduleName, "unsupported report format '%s'", w.opts.Format)
	}
	if err != nil {
		return "", err
	}

	conn, objectName, err := w.target(ctx, cfg)
	if err != nil {
		return "", err
	}
	if err := conn.Upload(ctx, "", objectName, &buf, contentType); err != nil {
		return "", exception.NewBatchError(moduleName, "run report could not be uploaded", err, false, true)
	}
	location := conn.Location("", objectName)
	logger.Debugf("Run report with %d rows written to '%s'.", len(rows), location)
	return location, nil
}

// FileName returns the report file name for the definition at definitionPath.
func (w *Writer) FileName(definitionPath string) string {
	ext := "." + strings.ToLower(w.opts.Format)
	if w.opts.File != "" {
		if filepath.Ext(w.opts.File) == "" {
			return w.opts.File + ext
		}
		return w.opts.File
	}
	stem := strings.TrimSuffix(filepath.Base(definitionPath), filepath.Ext(definitionPath))
	if stem == "" || stem == "." {
		stem = "batch"
	}
	return fmt.Sprintf("%s_results_%s%s", stem, w.now().Format(timestampLayout), ext)
}

// target resolves the connection and the object name of the report.
func (w *Writer) target(ctx context.Context, cfg *model.BatchConfig) (storage.StorageConnection, string, error) {
	name := w.FileName(cfg.FilePath)
	if w.opts.StorageRef == "" {
		dir := w.opts.Dir
		if dir == "" {
			dir = "."
		}
		conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType, BaseDir: dir}, "report")
		if err != nil {
			return nil, "", exception.NewBatchError(moduleName, "report directory is not usable", err, false, false)
		}
		return conn, name, nil
	}
	if w.resolver == nil {
		return nil, "", exception.NewBatchErrorf(moduleName, "no storage resolver for connection '%s'", w.opts.StorageRef)
	}
	conn, err := w.resolver.ResolveStorageConnection(ctx, w.opts.StorageRef)
	if err != nil {
		return nil, "", err
	}
	return conn, path.Join(filepath.ToSlash(w.opts.Dir), name), nil
}

func encodeParquet(buf *bytes.Buffer, rows []Row) (err error) {
	rowGroup := int64(len(rows))
	if rowGroup == 0 {
		rowGroup = 1
	}
	pw, err := writer.NewParquetWriterFromWriter(buf, new(Row), rowGroup)
	if err != nil {
		return exception.NewBatchError(moduleName, "parquet writer could not be created", err, false, false)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var errs *multierror.Error
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("row %s:%s:%s: %w", row.ObjectType, row.ObjectID, row.SourceSystemCd, err))
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewBatchErrorf(moduleName, "parquet writer panicked while finishing the report: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return exception.NewBatchError(moduleName, "run report could not be encoded", err, false, false)
	}
	return nil
}

func encodeCSV(buf *bytes.Buffer, rows []Row) error {
	cw := csv.NewWriter(buf)
	var errs *multierror.Error
	if err := cw.Write(csvHeader); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, row := range rows {
		record := []string{
			row.ObjectType,
			row.ObjectID,
			row.SourceSystemCd,
			row.Action,
			row.Status,
			strconv.FormatBool(row.Success),
			strconv.FormatBool(row.Skip),
			row.Error,
			row.Elapsed,
			time.UnixMilli(row.StartedAt).UTC().Format(time.RFC3339),
			time.UnixMilli(row.FinishedAt).UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("row %s:%s:%s: %w", row.ObjectType, row.ObjectID, row.SourceSystemCd, err))
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return exception.NewBatchError(moduleName, "run report could not be encoded", err, false, false)
	}
	return nil
}
