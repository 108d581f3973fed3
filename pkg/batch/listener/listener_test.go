package listener_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/listener"
	"github.com/tigerroll/cirrusbatch/pkg/batch/test"
)

func TestBatchCompletionSignalerClosesOnce(t *testing.T) {
	s := listener.NewBatchCompletionSignaler()
	cfg := test.NewTestBatchConfig(nil, nil, nil)

	select {
	case <-s.Done():
		t.Fatal("done before the batch finished")
	default:
	}

	s.AfterBatch(context.Background(), cfg, []model.BatchRunResult{}, time.Second)
	s.AfterBatch(context.Background(), cfg, nil, time.Second)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("done was not closed")
	}
	assert.NotNil(t, s.Done())
}
