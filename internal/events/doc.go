// Package events defines the lifecycle events emitted by the task executor
// and the platform connectors, plus the Hub that batches them out to sinks.
package events
