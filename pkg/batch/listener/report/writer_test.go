package report_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage/local"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/listener/report"
	"github.com/tigerroll/cirrusbatch/pkg/batch/test"
)

func sampleResults() (*model.BatchConfig, []model.BatchRunResult) {
	cycle := test.NewTestCycle("CYC_1", model.ActionRun, false, 1)
	run := test.NewTestAnalysisRun("AR_1", model.ActionCreate, true, 2)
	cfg := test.NewTestBatchConfig([]*model.WorkItemConfig{cycle, run}, nil, nil)
	cfg.FilePath = "/defs/monthly_close.yaml"
	start := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	return cfg, []model.BatchRunResult{
		model.NewSuccessResult(cycle, false, start, start.Add(90*time.Second)),
		model.NewFailureResult(run, assert.AnError, start, start.Add(time.Second)),
	}
}

func TestWriteCSV(t *testing.T) {
	dir := t.TempDir()
	w := report.NewWriter(nil, report.Options{Dir: dir, File: "run.csv", Format: report.FormatCSV})
	cfg, results := sampleResults()

	location, err := w.Write(context.Background(), cfg, results)
	require.NoError(t, err)
	assert.Equal(t, "run.csv", filepath.Base(location))

	data, err := os.ReadFile(filepath.Join(dir, "run.csv"))
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "objectType", records[0][0])
	assert.Equal(t, []string{"CYC_1", "completed", "00:01:30"}, []string{records[1][1], records[1][4], records[1][8]})
	assert.Equal(t, "failed", records[2][4])
	assert.Equal(t, assert.AnError.Error(), records[2][7])
	assert.Equal(t, "2026-10-01T08:00:00Z", records[1][9])
}

func TestWriteParquet(t *testing.T) {
	dir := t.TempDir()
	w := report.NewWriter(nil, report.Options{Dir: dir, File: "run"})
	cfg, results := sampleResults()

	location, err := w.Write(context.Background(), cfg, results)
	require.NoError(t, err)
	assert.Equal(t, "run.parquet", filepath.Base(location))

	data, err := os.ReadFile(location)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "PAR1", string(data[:4]))
	assert.Equal(t, "PAR1", string(data[len(data)-4:]))
}

func TestWriteEmptyReport(t *testing.T) {
	w := report.NewWriter(nil, report.Options{Dir: t.TempDir(), File: "empty.parquet"})
	cfg, _ := sampleResults()
	_, err := w.Write(context.Background(), cfg, nil)
	assert.NoError(t, err)
}

func TestFileNameDerivedFromDefinition(t *testing.T) {
	w := report.NewWriter(nil, report.Options{Format: report.FormatCSV})
	name := w.FileName("/defs/monthly_close.yaml")
	assert.Regexp(t, regexp.MustCompile(`^monthly_close_results_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}\.csv$`), name)
}

func TestWriteThroughStorageConnection(t *testing.T) {
	base := t.TempDir()
	resolver := storage.NewResolver(storageConfig.DatasourcesConfig{
		"reports": {Type: local.ProviderType, BaseDir: base, BucketName: "batch"},
	}, local.NewProvider())
	w := report.NewWriter(resolver, report.Options{Dir: "runs/2026", File: "run.csv", Format: report.FormatCSV, StorageRef: "reports"})
	cfg, results := sampleResults()

	_, err := w.Write(context.Background(), cfg, results)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(base, "batch", "runs", "2026", "run.csv"))
	assert.NoError(t, err)
}

func TestWriteRejectsUnknownFormat(t *testing.T) {
	w := report.NewWriter(nil, report.Options{Dir: t.TempDir(), Format: "xlsx"})
	cfg, results := sampleResults()
	_, err := w.Write(context.Background(), cfg, results)
	assert.ErrorContains(t, err, "unsupported report format 'xlsx'")
}

func TestWriteUnknownStorageRef(t *testing.T) {
	resolver := storage.NewResolver(storageConfig.DatasourcesConfig{}, local.NewProvider())
	w := report.NewWriter(resolver, report.Options{StorageRef: "missing", Format: report.FormatCSV})
	cfg, results := sampleResults()
	_, err := w.Write(context.Background(), cfg, results)
	assert.ErrorContains(t, err, "missing")
}
