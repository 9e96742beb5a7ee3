// Package content defines the acquisition domain: the connector contract,
// the result and change-event types streamed to callers, and the small
// collaborator interfaces (clock, id generation, hashing, blob archival)
// the rest of the service is built against.
package content
