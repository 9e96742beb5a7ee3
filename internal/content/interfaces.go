package content

import (
	"context"
	"io"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers for tasks, interactions, and
// login contexts.
type IDGenerator interface {
	NewID() (string, error)
	// NewContextID mints an identifier for an authenticated browser context.
	NewContextID() (string, error)
}

// Hasher fingerprints content payloads, e.g. for archive keys and cheap
// snapshot equality checks.
type Hasher interface {
	Sum(data []byte) string
}

// BlobStore archives content bundles (harvest output, monitoring snapshots)
// and returns a durable URI for the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
