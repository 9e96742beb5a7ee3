// Package task holds the durable record of one long-running operation and
// the machinery that drives it: an executor that runs a named unit of work
// under a wall-clock deadline, step-by-step logs that double as the primary
// observability channel, a shared context that carries artifacts between
// steps, and suspension points where a human supplies input before the work
// replays from the top.
package task
