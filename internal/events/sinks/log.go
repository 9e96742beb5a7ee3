package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/events"
)

// LogSink emits structured logs for debugging event streams. Useful during
// development or audits where no metrics backend is available.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.logger.Info("lifecycle event",
			zap.String("kind", string(evt.Kind)),
			zap.String("task_id", evt.TaskID),
			zap.String("task_type", evt.TaskType),
			zap.String("platform", evt.Platform),
			zap.String("outcome", string(evt.Outcome)),
			zap.Int("progress", evt.Progress),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
