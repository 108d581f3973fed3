package state

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Progress is the shared progress document of a batch run.
type Progress struct {
	Step         int               `json:"step"`
	Total        int               `json:"total"`
	TotalElapsed time.Duration     `json:"totalElapsed"`
	StartedAt    time.Time         `json:"startedAt"`
	InProgress   map[string]string `json:"inProgress"`
}

// InProgressKeys returns the keys of the in-progress messages in sorted order.
func (p Progress) InProgressKeys() []string {
	keys := make([]string, 0, len(p.InProgress))
	for k := range p.InProgress {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ProgressState updates the progress document. Every call acquires the lock,
// mutates the document and releases the lock.
type ProgressState struct {
	store Store
}

// NewProgressState creates a ProgressState over store.
func NewProgressState(store Store) *ProgressState {
	return &ProgressState{store: store}
}

func (s *ProgressState) update(ctx context.Context, fn func(p *Progress)) (Progress, error) {
	return Update(ctx, s.store, KeyProgress, func(p *Progress) error {
		if p.InProgress == nil {
			p.InProgress = make(map[string]string)
		}
		fn(p)
		return nil
	})
}

// Start resets the progress for a run of total items.
func (s *ProgressState) Start(ctx context.Context, total int) error {
	_, err := s.update(ctx, func(p *Progress) {
		*p = Progress{Total: total, StartedAt: time.Now(), InProgress: make(map[string]string)}
	})
	return err
}

// IncrementStep counts one more finished item and returns the new count.
func (s *ProgressState) IncrementStep(ctx context.Context) (int, error) {
	p, err := s.update(ctx, func(p *Progress) { p.Step++ })
	return p.Step, err
}

// AddElapsed adds d to the accumulated item time.
func (s *ProgressState) AddElapsed(ctx context.Context, d time.Duration) error {
	_, err := s.update(ctx, func(p *Progress) { p.TotalElapsed += d })
	return err
}

// PutInProgress records the status message of an item run by process pid.
func (s *ProgressState) PutInProgress(ctx context.Context, pid int, itemKey, message string) error {
	_, err := s.update(ctx, func(p *Progress) { p.InProgress[InProgressKey(pid, itemKey)] = message })
	return err
}

// Finish counts a finished item, adds its elapsed time and records its final
// message in one critical section.
func (s *ProgressState) Finish(ctx context.Context, pid int, itemKey, message string, elapsed time.Duration) (Progress, error) {
	return s.update(ctx, func(p *Progress) {
		p.Step++
		p.TotalElapsed += elapsed
		p.InProgress[InProgressKey(pid, itemKey)] = message
	})
}

// Snapshot returns the current progress document.
func (s *ProgressState) Snapshot(ctx context.Context) (Progress, error) {
	var p Progress
	if _, err := Load(ctx, s.store, KeyProgress, &p); err != nil {
		return Progress{}, err
	}
	if p.InProgress == nil {
		p.InProgress = make(map[string]string)
	}
	return p, nil
}

// InProgress returns the in-progress messages keyed by InProgressKey.
func (s *ProgressState) InProgress(ctx context.Context) (map[string]string, error) {
	p, err := s.Snapshot(ctx)
	return p.InProgress, err
}

// Step returns the number of finished items.
func (s *ProgressState) Step(ctx context.Context) (int, error) {
	p, err := s.Snapshot(ctx)
	return p.Step, err
}

// Total returns the number of items of the run.
func (s *ProgressState) Total(ctx context.Context) (int, error) {
	p, err := s.Snapshot(ctx)
	return p.Total, err
}

// TotalElapsed returns the accumulated item time.
func (s *ProgressState) TotalElapsed(ctx context.Context) (time.Duration, error) {
	p, err := s.Snapshot(ctx)
	return p.TotalElapsed, err
}

// InProgressKey builds the key of an in-progress message.
func InProgressKey(pid int, itemKey string) string {
	return fmt.Sprintf("%d%s", pid, itemKey)
}
