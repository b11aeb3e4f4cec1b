package domain

import "time"

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

var healthSeverity = map[string]int{
	HealthStatusOK:       0,
	HealthStatusDegraded: 1,
	HealthStatusError:    2,
}

// WorstHealthStatus returns the most severe status. Empty statuses count as ok; unknown ones
// count as degraded.
func WorstHealthStatus(statuses ...string) string {
	worst := HealthStatusOK
	for _, status := range statuses {
		if status == "" {
			continue
		}
		if _, known := healthSeverity[status]; !known {
			status = HealthStatusDegraded
		}
		if healthSeverity[status] > healthSeverity[worst] {
			worst = status
		}
	}
	return worst
}

// SystemHealthCheck is the outcome of one dependency or configuration probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport is served by the readiness endpoint.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// Statuses lists every check status, for WorstHealthStatus.
func (r SystemHealthReport) Statuses() []string {
	out := make([]string, 0, len(r.Checks))
	for _, check := range r.Checks {
		out = append(out, check.Status)
	}
	return out
}
