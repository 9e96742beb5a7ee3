// Package sinks provides event consumers: structured logs, Prometheus
// collectors, and a pub/sub feed of task lifecycle frames.
package sinks
