package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

// MockReportWriter is a testify mock of port.ReportWriter.
type MockReportWriter struct {
	mock.Mock
}

var _ port.ReportWriter = (*MockReportWriter)(nil)

// Write records the call and returns the predefined path and error.
func (m *MockReportWriter) Write(ctx context.Context, cfg *model.BatchConfig, results []model.BatchRunResult) (string, error) {
	args := m.Called(ctx, cfg, results)
	return args.String(0), args.Error(1)
}

// MockHistoryRecorder is a testify mock of port.HistoryRecorder.
type MockHistoryRecorder struct {
	mock.Mock
}

var _ port.HistoryRecorder = (*MockHistoryRecorder)(nil)

// Record records the call and returns the predefined error.
func (m *MockHistoryRecorder) Record(ctx context.Context, runID string, results []model.BatchRunResult) error {
	args := m.Called(ctx, runID, results)
	return args.Error(0)
}

// MockProgressReporter is a testify mock of port.ProgressReporter.
type MockProgressReporter struct {
	mock.Mock
}

var _ port.ProgressReporter = (*MockProgressReporter)(nil)

// Start records the call and returns the predefined error.
func (m *MockProgressReporter) Start(ctx context.Context, total int) error {
	args := m.Called(ctx, total)
	return args.Error(0)
}

// Progress records the call and returns the predefined error.
func (m *MockProgressReporter) Progress(ctx context.Context, item *model.WorkItemConfig, result *model.BatchRunResult) error {
	args := m.Called(ctx, item, result)
	return args.Error(0)
}

// Stop records the call and returns the predefined error.
func (m *MockProgressReporter) Stop(ctx context.Context, reportPath, logPath string) error {
	args := m.Called(ctx, reportPath, logPath)
	return args.Error(0)
}
