package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// BuildInfo is the release metadata reported by the health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// ReadinessProbe checks in-process state, such as cached merchant settings, next to the external
// dependencies.
type ReadinessProbe func(ctx context.Context) domain.DependencyHealth

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Probes           map[string]ReadinessProbe
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	deps SystemServiceDeps
	now  func() time.Time
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	if deps.Build.StartedAt.IsZero() {
		deps.Build.StartedAt = now()
	}
	return &systemService{deps: deps, now: func() time.Time { return now().UTC() }}, nil
}

// HealthReport merges the dependency checks with the in-process probes. The overall status is the
// worst individual status.
func (s *systemService) HealthReport(ctx context.Context) (domain.HealthReport, error) {
	report, err := s.deps.HealthRepository.Collect(ctx)
	if err != nil {
		return domain.HealthReport{}, err
	}
	now := s.now()
	if report.Checks == nil {
		report.Checks = make(map[string]domain.DependencyHealth, len(s.deps.Probes))
	}
	for name, probe := range s.deps.Probes {
		if probe == nil {
			continue
		}
		result := probe(ctx)
		if result.CheckedAt.IsZero() {
			result.CheckedAt = now
		}
		report.Checks[name] = result
	}

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	build := s.deps.Build
	report.Version = firstNonBlank(report.Version, build.Version)
	report.CommitSHA = firstNonBlank(report.CommitSHA, build.CommitSHA)
	report.Environment = firstNonBlank(report.Environment, build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(build.StartedAt)
	}
	report.Status = worstStatus(report.Status, report.Checks)
	return report, nil
}

// MerchantConfigProbe degrades readiness while merchant settings cannot be refreshed; the last
// known configuration is still being served.
func MerchantConfigProbe(provider *MerchantConfigProvider) ReadinessProbe {
	return func(ctx context.Context) domain.DependencyHealth {
		start := time.Now()
		provider.Current(ctx)
		result := domain.DependencyHealth{Status: domain.HealthStatusOK, Latency: time.Since(start)}
		if err := provider.LastRefreshError(); err != nil {
			result.Status = domain.HealthStatusDegraded
			result.Detail = "serving cached merchant configuration"
			result.Error = err.Error()
		}
		return result
	}
}

func worstStatus(reported string, checks map[string]domain.DependencyHealth) string {
	rank := func(status string) int {
		switch status {
		case domain.HealthStatusError:
			return 2
		case domain.HealthStatusDegraded:
			return 1
		default:
			return 0
		}
	}
	worst := domain.HealthStatusOK
	if rank(reported) > 0 {
		worst = reported
	}
	for _, check := range checks {
		if rank(check.Status) > rank(worst) {
			worst = check.Status
		}
	}
	return worst
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
