package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AI-static/Aether/internal/events"
)

// PrometheusSink exports task and acquisition metrics. It owns all
// collectors for tasks started/completed/running/waiting, per-platform
// extraction counters, and session churn.
type PrometheusSink struct {
	tasksStarted   prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
	tasksWaiting   prometheus.Gauge
	taskRuntime    *prometheus.HistogramVec

	extractions     *prometheus.CounterVec
	extractDuration *prometheus.HistogramVec

	sessionsOpened *prometheus.CounterVec
	sessionsClosed *prometheus.CounterVec

	running *taskTracker
	waiting *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aether_tasks_started_total",
			Help: "Total task runs that have started, including retries.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_tasks_completed_total",
			Help: "Total tasks finished partitioned by result.",
		}, []string{"result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aether_tasks_running",
			Help: "Current number of running tasks.",
		}),
		tasksWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aether_tasks_waiting_input",
			Help: "Current number of tasks suspended awaiting human input.",
		}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aether_task_runtime_seconds",
			Help:    "Wall time per finished task run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_extractions_total",
			Help: "Per-URL extraction completions by platform and outcome.",
		}, []string{"platform", "outcome"}),
		extractDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aether_extraction_duration_seconds",
			Help:    "Extraction duration partitioned by platform.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		}, []string{"platform"}),
		sessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_sessions_opened_total",
			Help: "Remote browser sessions opened by platform.",
		}, []string{"platform"}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_sessions_closed_total",
			Help: "Remote browser sessions closed by platform.",
		}, []string{"platform"}),
		running: newTaskTracker(),
		waiting: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksStarted,
		s.tasksCompleted,
		s.tasksRunning,
		s.tasksWaiting,
		s.taskRuntime,
		s.extractions,
		s.extractDuration,
		s.sessionsOpened,
		s.sessionsClosed,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	switch evt.Kind {
	case events.KindTaskStart:
		s.tasksStarted.Inc()
		if s.running.add(evt.TaskID) {
			s.tasksRunning.Inc()
		}
		if s.waiting.remove(evt.TaskID) {
			s.tasksWaiting.Dec()
		}
	case events.KindTaskWaiting:
		if s.running.remove(evt.TaskID) {
			s.tasksRunning.Dec()
		}
		if s.waiting.add(evt.TaskID) {
			s.tasksWaiting.Inc()
		}
	case events.KindTaskDone:
		s.finishTask(evt, "success")
	case events.KindTaskError:
		s.finishTask(evt, "error")
	case events.KindTaskCancelled:
		s.finishTask(evt, "cancelled")
	case events.KindExtractDone:
		s.extractions.WithLabelValues(evt.Platform, string(evt.Outcome)).Inc()
		if evt.Dur > 0 {
			s.extractDuration.WithLabelValues(evt.Platform).Observe(evt.Dur.Seconds())
		}
	case events.KindSessionOpen:
		s.sessionsOpened.WithLabelValues(evt.Platform).Inc()
	case events.KindSessionClose:
		s.sessionsClosed.WithLabelValues(evt.Platform).Inc()
	}
}

func (s *PrometheusSink) finishTask(evt events.Event, result string) {
	s.tasksCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.taskRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.running.remove(evt.TaskID) {
		s.tasksRunning.Dec()
	}
	if s.waiting.remove(evt.TaskID) {
		s.tasksWaiting.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// taskTracker deduplicates gauge transitions per task id.
type taskTracker struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{ids: make(map[string]struct{})}
}

func (t *taskTracker) add(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[id]; ok {
		return false
	}
	t.ids[id] = struct{}{}
	return true
}

func (t *taskTracker) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[id]; !ok {
		return false
	}
	delete(t.ids, id)
	return true
}
