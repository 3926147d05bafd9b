package metrics

import (
	"time"

	"github.com/llmgate/llmgate/internal/observability"
)

// Gateway process metric names
const (
	HealthCheckTotal    = "gateway_health_check_total"
	HealthCheckDuration = "gateway_health_check_duration_ms"
	ServerStartTime     = "gateway_start_time_seconds"
	ServerUptime        = "gateway_uptime_seconds"
)

// RecordHealthCheck records one checker run. The window checker fails when
// an endpoint's backend (for example Redis) cannot report usage.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	_ = sys.Counter(HealthCheckTotal, 1, map[string]string{"check": checkName, "status": status})
	_ = sys.Histogram(HealthCheckDuration, duration, map[string]string{"check": checkName})
}

func SetServerStartTime(timestamp int64) {
	setGauge(ServerStartTime, float64(timestamp))
}

func SetServerUptime(seconds int64) {
	setGauge(ServerUptime, float64(seconds))
}

func setGauge(name string, value float64) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, nil)
	}
}
