package progress

import (
	"context"
	"fmt"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
)

// Recorder implements catalog.ResultRecorder by emitting a StageImage event
// per result and forwarding to Next when set.
type Recorder struct {
	Emitter Emitter
	Clock   catalog.Clock
	Next    catalog.ResultRecorder
}

// RecordResult emits the image event, then forwards the result.
func (r Recorder) RecordResult(ctx context.Context, runID string, result catalog.DownloadResult) error {
	if r.Emitter != nil && r.Clock != nil {
		r.Emitter.Emit(Event{
			RunID:    runID,
			TS:       r.Clock.Now(),
			Stage:    StageImage,
			Filename: result.Filename,
			URL:      result.URL,
			Success:  result.Success,
			Note:     result.Reason,
		})
	}
	if r.Next == nil {
		return nil
	}
	if err := r.Next.RecordResult(ctx, runID, result); err != nil {
		return fmt.Errorf("forward result: %w", err)
	}
	return nil
}
