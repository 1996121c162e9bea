// Package health provides the process-level liveness/readiness HTTP
// endpoints for the mixing appliance, separate from the richer /status
// control surface.
//
// The HTTP server is a thin delegate over the HealthAPI interface; the
// Monitor implementation derives readiness from the Supervisor's engine
// snapshot and samples host CPU, memory, and recordings-disk usage via
// gopsutil for the detailed payload.
//
// Endpoints (paths configurable):
//   - /health: basic status (healthy/degraded/unhealthy)
//   - /health/detailed: per-engine components plus host metrics
//   - /health/ready: readiness probe (supervisor answering, no engine unhealthy)
//   - /health/live: liveness probe
package health
