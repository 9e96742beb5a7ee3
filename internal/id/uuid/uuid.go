// Package uuid provides ID generation for tasks, interactions, and login
// contexts.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings, so identifiers sort by creation time.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewContextID returns a prefixed identifier for authenticated browser
// contexts, e.g. "ctx-0188…". The prefix keeps context ids visually distinct
// from task ids in logs and pub/sub topic names.
func (g Generator) NewContextID() (string, error) {
	id, err := g.NewID()
	if err != nil {
		return "", err
	}
	return "ctx-" + id, nil
}
