package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	busmemory "github.com/AI-static/Aether/internal/bus/memory"
	"github.com/AI-static/Aether/internal/events"
)

func TestBusSinkPublishesTaskFramesOnly(t *testing.T) {
	t.Parallel()

	mem := busmemory.New()
	sink := NewBusSink(mem, "task-events", zap.NewNop())

	now := time.Now()
	batch := []events.Event{
		{TS: now, Kind: events.KindTaskStart, TaskID: "task-1", TaskType: "trend_scan"},
		{TS: now, Kind: events.KindExtractDone, Platform: "generic", Outcome: events.OutcomeSuccess},
		{TS: now, Kind: events.KindTaskDone, TaskID: "task-1", Progress: 100},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	published := mem.MessagesOn("task-events")
	require.Len(t, published, 2, "connector events must not be republished")

	first, ok := published[0].Payload.(TaskFrame)
	require.True(t, ok)
	require.Equal(t, "task-1", first.TaskID)
	require.Equal(t, string(events.KindTaskStart), first.Kind)
	require.Equal(t, "trend_scan", first.TaskType)

	last, ok := published[1].Payload.(TaskFrame)
	require.True(t, ok)
	require.Equal(t, 100, last.Progress)
}
