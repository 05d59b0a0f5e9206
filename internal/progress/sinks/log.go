package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-harvester/internal/progress"
)

// LogSink writes each progress event as a structured log line. Image events
// log at debug level so large runs stay readable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageImage:
			s.logger.Debug("image processed", append(fields,
				zap.String("filename", evt.Filename),
				zap.Bool("success", evt.Success),
				zap.String("note", evt.Note),
			)...)
		case progress.StagePhase:
			s.logger.Info("phase started", append(fields, zap.String("phase", string(evt.Phase)))...)
		case progress.StageRunError:
			s.logger.Error("run failed", append(fields, zap.String("note", evt.Note), zap.Duration("dur", evt.Dur))...)
		default:
			s.logger.Info("run progress", append(fields, zap.Duration("dur", evt.Dur))...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
