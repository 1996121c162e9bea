/*
Process-level liveness/readiness, separate from the richer /status
control surface: readiness means the Supervisor loop is running and
answering and no engine is unhealthy, liveness means the process
responds at all. Detailed health
adds per-engine component rows and host metrics.
*/
package health

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// HealthStatus represents the overall health status of the system.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// ComponentStatus is one engine's row in the detailed health payload.
type ComponentStatus struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse is the basic health payload.
type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Version   string       `json:"version,omitempty"`
	Uptime    string       `json:"uptime,omitempty"`
}

// DetailedHealthResponse adds components and host metrics.
type DetailedHealthResponse struct {
	Status     HealthStatus           `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Components []ComponentStatus      `json:"components,omitempty"`
	Metrics    map[string]interface{} `json:"metrics,omitempty"`
}

// ReadinessResponse is the readiness probe payload.
type ReadinessResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// LivenessResponse is the liveness probe payload.
type LivenessResponse struct {
	Alive     bool      `json:"alive"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// HealthAPI is the surface the HTTP health server delegates to.
type HealthAPI interface {
	GetHealth(ctx context.Context) (*HealthResponse, error)
	GetDetailedHealth(ctx context.Context) (*DetailedHealthResponse, error)
	IsReady(ctx context.Context) (*ReadinessResponse, error)
	IsAlive(ctx context.Context) (*LivenessResponse, error)
}

// ComponentsFunc supplies the current per-engine component rows; the
// server entry point adapts the Supervisor's snapshot into this shape.
type ComponentsFunc func(ctx context.Context) ([]ComponentStatus, error)

// Monitor implements HealthAPI over a ComponentsFunc plus host metrics.
type Monitor struct {
	startTime      time.Time
	version        string
	components     ComponentsFunc
	recordingsRoot string
}

// NewMonitor builds the monitor. components may be nil before the
// Supervisor is up, which reports not-ready.
func NewMonitor(version, recordingsRoot string, components ComponentsFunc) *Monitor {
	return &Monitor{
		startTime:      time.Now(),
		version:        version,
		components:     components,
		recordingsRoot: recordingsRoot,
	}
}

func (m *Monitor) fetch(ctx context.Context) ([]ComponentStatus, HealthStatus) {
	if m.components == nil {
		return nil, HealthStatusUnhealthy
	}
	rows, err := m.components(ctx)
	if err != nil {
		return nil, HealthStatusUnhealthy
	}
	status := HealthStatusHealthy
	for _, c := range rows {
		switch c.Status {
		case HealthStatusUnhealthy:
			return rows, HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return rows, status
}

// GetHealth returns the basic health payload.
func (m *Monitor) GetHealth(ctx context.Context) (*HealthResponse, error) {
	_, status := m.fetch(ctx)
	return &HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   m.version,
		Uptime:    time.Since(m.startTime).String(),
	}, nil
}

// GetDetailedHealth returns components plus host metrics.
func (m *Monitor) GetDetailedHealth(ctx context.Context) (*DetailedHealthResponse, error) {
	rows, status := m.fetch(ctx)
	return &DetailedHealthResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Version:    m.version,
		Uptime:     time.Since(m.startTime).String(),
		Components: rows,
		Metrics:    m.collectMetrics(),
	}, nil
}

// IsReady reports whether the Supervisor answers and no engine is
// parked unhealthy.
func (m *Monitor) IsReady(ctx context.Context) (*ReadinessResponse, error) {
	rows, status := m.fetch(ctx)
	ready := status != HealthStatusUnhealthy
	message := "ready"
	if !ready {
		message = "supervisor unavailable or engine unhealthy"
		for _, c := range rows {
			if c.Status == HealthStatusUnhealthy {
				message = c.Name + " unhealthy: " + c.Message
				break
			}
		}
	}
	return &ReadinessResponse{Ready: ready, Timestamp: time.Now(), Message: message}, nil
}

// IsAlive always succeeds while the process can respond.
func (m *Monitor) IsAlive(ctx context.Context) (*LivenessResponse, error) {
	return &LivenessResponse{Alive: true, Timestamp: time.Now(), Message: "alive"}, nil
}

// collectMetrics samples host CPU, memory, and recordings-disk usage.
// Failures degrade to absent keys rather than failing the endpoint.
func (m *Monitor) collectMetrics() map[string]interface{} {
	metrics := map[string]interface{}{
		"uptime_seconds": time.Since(m.startTime).Seconds(),
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		metrics["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		metrics["memory_used_percent"] = vm.UsedPercent
	}
	if m.recordingsRoot != "" {
		if du, err := disk.Usage(m.recordingsRoot); err == nil {
			metrics["recordings_disk_used_percent"] = du.UsedPercent
			metrics["recordings_disk_free_bytes"] = du.Free
		}
	}
	return metrics
}
