package remote

import (
	"context"
	"sync"

	"go.uber.org/fx"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// NewBatchJobsProvider provides the batch job repository over its own client.
func NewBatchJobsProvider(s *Sessions) port.BatchJobRepository {
	return NewBatchJobs(s.Client())
}

// registerAccessMonitor keeps the access session fresh for the lifetime of the app.
func registerAccessMonitor(lc fx.Lifecycle, s *Sessions) {
	var (
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Access().Monitor(ctx); err != nil {
					logger.Errorf("Access monitoring stopped: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			wg.Wait()
			return nil
		},
	})
}

// Module provides the session factory and the batch job repository to Fx.
var Module = fx.Options(
	fx.Provide(
		NewSessions,
		func(s *Sessions) port.SessionFactory { return s },
		NewBatchJobsProvider,
	),
	fx.Invoke(registerAccessMonitor),
)
