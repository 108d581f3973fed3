package model

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// WorkflowConfig is one configured step of a Cycle's workflow.
type WorkflowConfig struct {
	ItemKey             string
	TaskName            string
	TransitionName      string
	ErrorTransitionName string
	ParameterSet        string
	Iteration           string
	Position            int

	processed atomic.Bool
}

// HasErrorTransition reports whether a fallback transition is configured.
func (w *WorkflowConfig) HasErrorTransition() bool {
	return strings.TrimSpace(w.ErrorTransitionName) != ""
}

// UniqueKey identifies the entry within the definition.
func (w *WorkflowConfig) UniqueKey() string {
	return HashKey(w.ItemKey, w.TaskName, w.Iteration)
}

// Processed reports whether the entry was consumed.
func (w *WorkflowConfig) Processed() bool {
	return w.processed.Load()
}

// MarkProcessed consumes the entry. It returns false if it already was.
func (w *WorkflowConfig) MarkProcessed() bool {
	return w.processed.CompareAndSwap(false, true)
}

// IterationLess orders iterations numerically when both parse as numbers,
// otherwise lexically. Empty iterations sort first.
func IterationLess(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == b {
		return false
	}
	if a == "" {
		return true
	}
	if b == "" {
		return false
	}
	na, errA := strconv.ParseFloat(a, 64)
	nb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
