package state

import (
	"sync/atomic"

	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

// ConfigState holds the parsed batch definition of the run. The snapshot is
// process-local: workflow entries carry in-memory processed flags.
type ConfigState struct {
	current atomic.Pointer[model.BatchConfig]
}

// NewConfigState creates an empty ConfigState.
func NewConfigState() *ConfigState {
	return &ConfigState{}
}

// Get returns the snapshot, or nil before Put.
func (s *ConfigState) Get() *model.BatchConfig {
	return s.current.Load()
}

// Put publishes cfg as the snapshot.
func (s *ConfigState) Put(cfg *model.BatchConfig) {
	s.current.Store(cfg)
}
