package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-image-harvester/internal/progress"
)

// Run states reported by StatusSink.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Snapshot is the latest view of a run.
type Snapshot struct {
	RunID      string         `json:"run_id,omitempty"`
	State      string         `json:"state"`
	Phase      progress.Phase `json:"phase,omitempty"`
	StartedAt  time.Time      `json:"started_at,omitzero"`
	UpdatedAt  time.Time      `json:"updated_at,omitzero"`
	Downloaded int            `json:"downloaded"`
	Failed     int            `json:"failed"`
	Error      string         `json:"error,omitempty"`
}

// StatusSink folds events into a Snapshot for the status endpoint.
type StatusSink struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStatusSink returns a sink in the idle state.
func NewStatusSink() *StatusSink {
	return &StatusSink{snap: Snapshot{State: StateIdle}}
}

// Consume applies events in order.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Stage == progress.StageRunStart {
			s.snap = Snapshot{RunID: evt.RunID, State: StateRunning, StartedAt: evt.TS}
		}
		if evt.RunID != s.snap.RunID {
			continue
		}
		s.snap.UpdatedAt = evt.TS
		switch evt.Stage {
		case progress.StagePhase:
			s.snap.Phase = evt.Phase
		case progress.StageImage:
			if evt.Success {
				s.snap.Downloaded++
			} else {
				s.snap.Failed++
			}
		case progress.StageRunDone:
			s.snap.State = StateSucceeded
		case progress.StageRunError:
			s.snap.State = StateFailed
			s.snap.Error = evt.Note
		}
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *StatusSink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Close implements progress.Sink.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
