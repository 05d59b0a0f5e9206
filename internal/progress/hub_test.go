package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
)

func TestHubDeliversInOrder(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 16}, sink)

	hub.Emit(sampleEvent(StageRunStart))
	phase := sampleEvent(StagePhase)
	phase.Phase = PhaseDownload
	hub.Emit(phase)
	hub.Emit(sampleEvent(StageRunDone))

	require.NoError(t, hub.Close(context.Background()))
	assert.Equal(t, []Stage{StageRunStart, StagePhase, StageRunDone}, sink.Stages())
	assert.True(t, sink.Closed())
}

func TestHubRespectsMaxBatch(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 16, MaxBatchEvents: 2}, sink)
	for range 5 {
		hub.Emit(sampleEvent(StageRunStart))
	}
	require.NoError(t, hub.Close(context.Background()))

	total := 0
	for _, b := range sink.Batches() {
		assert.LessOrEqual(t, len(b), 2)
		total += len(b)
	}
	assert.Equal(t, 5, total)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	hub.Emit(Event{Stage: StageRunStart})
	require.NoError(t, hub.Close(context.Background()))
	assert.Empty(t, sink.Batches())
}

func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int64(0), hub.dropped.Load(), "first drop is logged and reset")
}

func TestHubEmitAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(sampleEvent(StageRunStart))
	assert.Empty(t, sink.Batches())
}

func TestHubCloseReportsSinkError(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	sink.closeErr = errors.New("flush failed")
	hub := NewHub(Config{}, sink)
	assert.ErrorContains(t, hub.Close(context.Background()), "flush failed")
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Unix(100, 0)
	tests := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{name: "run start", evt: Event{RunID: "r", TS: now, Stage: StageRunStart}},
		{name: "missing run", evt: Event{TS: now, Stage: StageRunStart}, wantErr: true},
		{name: "missing ts", evt: Event{RunID: "r", Stage: StageRunStart}, wantErr: true},
		{name: "phase without name", evt: Event{RunID: "r", TS: now, Stage: StagePhase}, wantErr: true},
		{name: "image without file", evt: Event{RunID: "r", TS: now, Stage: StageImage}, wantErr: true},
		{name: "image", evt: Event{RunID: "r", TS: now, Stage: StageImage, Filename: "a_0.jpg"}},
		{name: "unknown", evt: Event{RunID: "r", TS: now, Stage: "NOPE"}, wantErr: true},
		{name: "negative dur", evt: Event{RunID: "r", TS: now, Stage: StageRunDone, Dur: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.evt.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubRecorder struct {
	results []catalog.DownloadResult
	err     error
}

func (s *stubRecorder) RecordResult(_ context.Context, _ string, r catalog.DownloadResult) error {
	s.results = append(s.results, r)
	return s.err
}

func TestRecorderEmitsAndForwards(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	next := &stubRecorder{}
	rec := Recorder{Emitter: hub, Clock: fixedClock{t: time.Unix(5, 0)}, Next: next}

	result := catalog.DownloadResult{Filename: "SKU_0.jpg", URL: "http://x/a.jpg", Reason: "Not Found"}
	require.NoError(t, rec.RecordResult(context.Background(), "run-1", result))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, next.results, 1)
	batches := sink.Batches()
	require.Len(t, batches, 1)
	evt := batches[0][0]
	assert.Equal(t, StageImage, evt.Stage)
	assert.Equal(t, "run-1", evt.RunID)
	assert.Equal(t, "SKU_0.jpg", evt.Filename)
	assert.False(t, evt.Success)
	assert.Equal(t, "Not Found", evt.Note)

	next.err = errors.New("db down")
	assert.ErrorContains(t, Recorder{Next: next}.RecordResult(context.Background(), "run-1", result), "db down")
}

type stubSink struct {
	mu       sync.Mutex
	batches  [][]Event
	closed   bool
	closeErr error
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *stubSink) Stages() []Stage {
	var out []Stage
	for _, b := range s.Batches() {
		for _, evt := range b {
			out = append(out, evt.Stage)
		}
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{RunID: "run-1", TS: time.Now(), Stage: stage}
}
