// Package orchestrator runs the work items of a batch definition. Sequential
// items run one after another on the calling goroutine, parallel items on a
// bounded pool of workers that each own a remote session.
package orchestrator

import (
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

const moduleName = "orchestrator"

// Partition splits items into the sequential and the parallel ones. Both keep
// the order of items.
func Partition(items []*model.WorkItemConfig) (sequential, parallel []*model.WorkItemConfig) {
	sequential = make([]*model.WorkItemConfig, 0, len(items))
	parallel = make([]*model.WorkItemConfig, 0, len(items))
	for _, item := range items {
		if item.IsParallel {
			parallel = append(parallel, item)
		} else {
			sequential = append(sequential, item)
		}
	}
	return sequential, parallel
}
