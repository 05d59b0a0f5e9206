package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StagePhase    Stage = "PHASE"
	StageImage    Stage = "IMAGE"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
)

// Phase names a pipeline step.
type Phase string

// Pipeline phases in execution order.
const (
	PhaseCollect   Phase = "collect"
	PhaseDownload  Phase = "download"
	PhaseIntegrity Phase = "integrity"
	PhaseArchive   Phase = "archive"
	PhasePublish   Phase = "publish"
)

// Event captures a single milestone of a harvester run.
type Event struct {
	RunID string
	TS    time.Time
	Stage Stage
	// Phase is set for StagePhase events.
	Phase Phase
	// Filename and URL identify the image for StageImage events.
	Filename string
	URL      string
	Success  bool
	Dur      time.Duration
	// Note carries low-volume context such as a failure reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePhase:
		if e.Phase == "" {
			return errors.New("phase event requires phase")
		}
	case StageImage:
		if e.Filename == "" {
			return errors.New("image event requires filename")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
