// Package connector implements the shared connector machinery, including the
// session lifecycle, the paced streaming-extraction engine, the change
// monitor, and the registry and router used to dispatch batches across
// platforms.
package connector
