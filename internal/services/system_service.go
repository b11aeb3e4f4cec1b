package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	domain "github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/repositories"
)

// BuildInfo is the version metadata reported by /readyz.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

// SystemProbe is an in-process check evaluated alongside the repository dependency checks,
// e.g. whether the rate table loaded.
type SystemProbe struct {
	Name  string
	Check func(ctx context.Context) domain.SystemHealthCheck
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Probes           []SystemProbe
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health repositories.HealthRepository
	probes []SystemProbe
	now    func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind /readyz.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	for _, probe := range deps.Probes {
		if strings.TrimSpace(probe.Name) == "" || probe.Check == nil {
			return nil, errors.New("system service: probes need a name and a check")
		}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		health: deps.HealthRepository,
		probes: deps.Probes,
		now:    func() time.Time { return clock().UTC() },
		build:  deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.now()
	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks)+len(s.probes))
	maps.Copy(checks, report.Checks)
	for _, probe := range s.probes {
		result := probe.Check(ctx)
		if result.CheckedAt.IsZero() {
			result.CheckedAt = now
		}
		checks[probe.Name] = result
	}
	report.Checks = checks

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = cmpOr(report.Version, s.build.Version)
	report.Environment = cmpOr(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	report.Status = domain.WorstHealthStatus(append(report.Statuses(), report.Status)...)
	return report, nil
}

func cmpOr(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

// CurrencyRatesProbe reports the loaded rate table. A table holding only the base currency is
// degraded: every foreign cart would settle at the identity fallback rate.
func CurrencyRatesProbe(converter *CurrencyConverter) SystemProbe {
	return SystemProbe{
		Name: "currency_rates",
		Check: func(context.Context) domain.SystemHealthCheck {
			codes := converter.Currencies()
			detail := fmt.Sprintf("base %s, %d currencies", converter.BaseCurrency(), len(codes))
			if len(codes) <= 1 {
				return domain.SystemHealthCheck{Status: domain.HealthStatusDegraded, Detail: detail}
			}
			return domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: detail}
		},
	}
}
