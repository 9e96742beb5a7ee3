package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/bus"
	"github.com/AI-static/Aether/internal/events"
)

// BusSink republishes task lifecycle events to a pub/sub topic so external
// observers (dashboards, notification bots) can follow task state without
// polling the API.
type BusSink struct {
	publisher bus.Publisher
	topic     string
	logger    *zap.Logger
}

// TaskFrame is the wire shape published for each task lifecycle event.
type TaskFrame struct {
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type,omitempty"`
	Kind     string `json:"kind"`
	Progress int    `json:"progress"`
	Note     string `json:"note,omitempty"`
	TS       string `json:"ts"`
}

// NewBusSink publishes task events to the given topic.
func NewBusSink(publisher bus.Publisher, topic string, logger *zap.Logger) *BusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes every task-kind event in the batch. Connector events
// (extractions, sessions) stay local; they are high volume and carry no task
// identity.
func (s *BusSink) Consume(ctx context.Context, batch []events.Event) error {
	for _, evt := range batch {
		if !evt.IsTaskKind() {
			continue
		}
		frame := TaskFrame{
			TaskID:   evt.TaskID,
			TaskType: evt.TaskType,
			Kind:     string(evt.Kind),
			Progress: evt.Progress,
			Note:     evt.Note,
			TS:       evt.TS.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		}
		if _, err := s.publisher.Publish(ctx, s.topic, frame); err != nil {
			// One bad publish must not sink the whole batch.
			s.logger.Warn("task frame publish failed",
				zap.String("task_id", evt.TaskID), zap.Error(err))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *BusSink) Close(context.Context) error {
	return nil
}
