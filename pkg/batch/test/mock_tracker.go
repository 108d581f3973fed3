package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

// MockStepTracker is a testify mock of port.StepTracker.
type MockStepTracker struct {
	mock.Mock
}

var _ port.StepTracker = (*MockStepTracker)(nil)

// CreateSteps records the call and returns the predefined error.
func (m *MockStepTracker) CreateSteps(ctx context.Context, items []*model.WorkItemConfig) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

// UpdateStep records the call and returns the predefined error.
func (m *MockStepTracker) UpdateStep(ctx context.Context, item *model.WorkItemConfig, state model.StepState, errText string) error {
	args := m.Called(ctx, item, state, errText)
	return args.Error(0)
}

// CompleteStep records the call and returns the predefined error.
func (m *MockStepTracker) CompleteStep(ctx context.Context, item *model.WorkItemConfig, result model.BatchRunResult) error {
	args := m.Called(ctx, item, result)
	return args.Error(0)
}

// StepID records the call and returns the predefined id.
func (m *MockStepTracker) StepID(item *model.WorkItemConfig) string {
	args := m.Called(item)
	return args.String(0)
}

// CheckCancelation records the call and returns the predefined error.
func (m *MockStepTracker) CheckCancelation(ctx context.Context, stepID string) error {
	args := m.Called(ctx, stepID)
	return args.Error(0)
}

// CheckJobCancelation records the call and returns the predefined error.
func (m *MockStepTracker) CheckJobCancelation(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// NewPermissiveStepTracker returns a MockStepTracker that accepts any call.
func NewPermissiveStepTracker() *MockStepTracker {
	m := &MockStepTracker{}
	m.On("CreateSteps", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("UpdateStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("CompleteStep", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("StepID", mock.Anything).Return("").Maybe()
	m.On("CheckCancelation", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("CheckJobCancelation", mock.Anything).Return(nil).Maybe()
	return m
}
