// Package workflow holds the units of work behind the task catalog: a trend
// scan that searches and ranks platform content by engagement, a creator
// harvest that archives an account's recent output, and an assisted publish
// flow with human checkpoints for image selection, login, and final review.
//
// Units replay from the top after every retry. Each step writes its output
// into the task's shared context under a step-scoped key and skips itself
// when that key already exists, so a replay fast-forwards to the first
// unfinished step instead of repeating remote work.
package workflow
