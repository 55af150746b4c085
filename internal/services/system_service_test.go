package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/checkout/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
}

func (s stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func TestSystemServiceHealthReportFillsBuildInfo(t *testing.T) {
	started := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	now := started.Add(5 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepository{report: domain.HealthReport{
			Checks: map[string]domain.DependencyHealth{
				"firestore": {Status: domain.HealthStatusOK},
				"redis":     {Status: domain.HealthStatusDegraded, Error: "refused"},
			},
		}},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "1.4.0", CommitSHA: "abc", Environment: "prod", StartedAt: started},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusDegraded, report.Status)
	assert.Equal(t, "1.4.0", report.Version)
	assert.Equal(t, "abc", report.CommitSHA)
	assert.Equal(t, "prod", report.Environment)
	assert.Equal(t, 5*time.Minute, report.Uptime)
	assert.True(t, report.GeneratedAt.Equal(now))
}

func TestSystemServiceProbesJoinReport(t *testing.T) {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepository{report: domain.HealthReport{Status: domain.HealthStatusOK}},
		Probes: map[string]ReadinessProbe{
			"merchantConfig": func(context.Context) domain.DependencyHealth {
				return domain.DependencyHealth{Status: domain.HealthStatusError, Error: "down"}
			},
			"skipped": nil,
		},
		Clock: func() time.Time { return now },
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusError, report.Status)
	require.Contains(t, report.Checks, "merchantConfig")
	assert.NotContains(t, report.Checks, "skipped")
	assert.True(t, report.Checks["merchantConfig"].CheckedAt.Equal(now))
}

func TestMerchantConfigProbeReportsRefreshFailures(t *testing.T) {
	settings := &probeSettings{err: errors.New("firestore unavailable")}
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	provider, err := NewMerchantConfigProvider(MerchantConfigProviderDeps{
		Base:     domain.MerchantConfig{Currency: "INR"},
		Settings: settings,
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)
	probe := MerchantConfigProbe(provider)

	result := probe(context.Background())
	assert.Equal(t, domain.HealthStatusDegraded, result.Status)
	assert.Equal(t, "firestore unavailable", result.Error)

	settings.err = nil
	now = now.Add(time.Hour)
	result = probe(context.Background())
	assert.Equal(t, domain.HealthStatusOK, result.Status)
}

func TestSystemServiceHealthReportPropagatesErrors(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: stubHealthRepository{err: errors.New("boom")}})
	require.NoError(t, err)
	_, err = svc.HealthReport(context.Background())
	assert.Error(t, err)
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	_, err := NewSystemService(SystemServiceDeps{})
	assert.Error(t, err)
}

type probeSettings struct {
	err error
}

func (p *probeSettings) Load(context.Context) (map[string]string, error) {
	if p.err != nil {
		return nil, p.err
	}
	return map[string]string{}, nil
}
