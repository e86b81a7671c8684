// Package checkpoint holds the in-memory checkpoint log.
package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/sqlcrew/sqlcrew/internal/workflow"
)

// MemoryStore keeps every run's log in process. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	clock clockwork.Clock
	runs  map[string][]workflow.Checkpoint
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{clock: clock, runs: map[string][]workflow.Checkpoint{}}
}

func (s *MemoryStore) Append(_ context.Context, cp workflow.Checkpoint) (workflow.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.runs[cp.RunID]
	if cp.Sequence != len(log) {
		if cp.Sequence == 0 {
			return workflow.Checkpoint{}, workflow.ErrRunExists
		}
		return workflow.Checkpoint{}, workflow.ErrCheckpointConflict
	}
	cp.State = cp.State.Clone()
	if cp.RecordedAt.IsZero() {
		cp.RecordedAt = s.clock.Now().UTC()
	}
	s.runs[cp.RunID] = append(log, cp)
	return clone(cp), nil
}

func (s *MemoryStore) List(_ context.Context, runID string) ([]workflow.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.runs[runID]
	if !ok {
		return nil, workflow.ErrRunNotFound
	}
	out := make([]workflow.Checkpoint, 0, len(log))
	for _, cp := range log {
		out = append(out, clone(cp))
	}
	return out, nil
}

func (s *MemoryStore) Latest(_ context.Context, runID string) (workflow.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.runs[runID]
	if !ok || len(log) == 0 {
		return workflow.Checkpoint{}, workflow.ErrRunNotFound
	}
	return clone(log[len(log)-1]), nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]workflow.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]workflow.RunSummary, 0, len(s.runs))
	for _, log := range s.runs {
		if len(log) == 0 {
			continue
		}
		out = append(out, workflow.Summarize(log[0], log[len(log)-1], len(log)))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(cp workflow.Checkpoint) workflow.Checkpoint {
	cp.State = cp.State.Clone()
	return cp
}
