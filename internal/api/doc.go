// Package api hosts the HTTP server, middleware, and handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/v1/extract and /api/v1/monitor for SSE streaming.
//   - POST /api/v1/harvest, /publish, /login plus GET /api/v1/platforms for
//     the remaining acquisition routes, all sharing the {code, message, data}
//     envelope.
//   - /api/v1/tasks/... for workflow submission, inspection, retry, and
//     human-in-loop confirmation.
package api
