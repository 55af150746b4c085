package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck describes a readiness probe. A failing Required probe marks the whole report as
// an error; optional probes (caches, brokers) only degrade it.
type DependencyCheck struct {
	Name     string
	Required bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

// DependencyHealthOption customises the probe runner.
type DependencyHealthOption func(*probeRunner)

// WithDependencyTimeout overrides the timeout used when a check omits its own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(r *probeRunner) {
		if timeout > 0 {
			r.defaultTimeout = timeout
		}
	}
}

// WithDependencyClock injects a custom clock.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(r *probeRunner) {
		if clock != nil {
			r.now = clock
		}
	}
}

type probeRunner struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*probeRunner)(nil)

type probeOutcome struct {
	name     string
	required bool
	health   domain.DependencyHealth
}

// NewDependencyHealthRepository validates the probe set and returns a HealthRepository running
// every probe concurrently on Collect.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, errors.New("health repository: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s missing check function", check.Name)
		}
	}

	runner := &probeRunner{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultProbeTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner, nil
}

func (r *probeRunner) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("health repository: context is required")
	}

	outcomes := make(chan probeOutcome, len(r.checks))
	for _, check := range r.checks {
		go func(check DependencyCheck) {
			outcomes <- probeOutcome{name: check.Name, required: check.Required, health: r.probe(ctx, check)}
		}(check)
	}

	report := domain.HealthReport{
		Status: domain.HealthStatusOK,
		Checks: make(map[string]domain.DependencyHealth, len(r.checks)),
	}
	for range r.checks {
		outcome := <-outcomes
		report.Checks[outcome.name] = outcome.health
		report.Status = worseStatus(report.Status, outcome)
	}
	report.GeneratedAt = r.now()
	return report, nil
}

func (r *probeRunner) probe(ctx context.Context, check DependencyCheck) domain.DependencyHealth {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := r.now()
	err := check.Check(probeCtx)
	if err == nil && probeCtx.Err() != nil {
		err = probeCtx.Err()
	}
	finished := r.now()

	health := domain.DependencyHealth{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		health.Status = domain.HealthStatusError
		health.Detail = "timeout"
		health.Error = err.Error()
	case errors.Is(err, context.Canceled):
		health.Status = domain.HealthStatusError
		health.Detail = "cancelled"
		health.Error = err.Error()
	default:
		health.Status = domain.HealthStatusDegraded
		health.Detail = err.Error()
		health.Error = err.Error()
	}
	return health
}

// worseStatus folds one probe outcome into the aggregate status.
func worseStatus(current string, outcome probeOutcome) string {
	if current == domain.HealthStatusError || outcome.health.Status == domain.HealthStatusOK {
		return current
	}
	if outcome.required || outcome.health.Status == domain.HealthStatusError {
		return domain.HealthStatusError
	}
	return domain.HealthStatusDegraded
}
