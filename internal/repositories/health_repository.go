package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/hanko-field/orders/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe pings one downstream dependency. Failures of a Critical probe mark the
// whole report as errored; other failures only degrade it.
type Probe struct {
	Name     string
	Timeout  time.Duration
	Critical bool
	Ping     func(context.Context) error
}

// ProbeOption customises NewProbeHealthRepository.
type ProbeOption func(*probeHealthRepository)

// WithProbeTimeout sets the timeout used by probes that do not declare one.
func WithProbeTimeout(timeout time.Duration) ProbeOption {
	return func(r *probeHealthRepository) {
		if timeout > 0 {
			r.fallbackTimeout = timeout
		}
	}
}

// WithProbeClock replaces time.Now.
func WithProbeClock(clock func() time.Time) ProbeOption {
	return func(r *probeHealthRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

type probeHealthRepository struct {
	probes          []Probe
	fallbackTimeout time.Duration
	clock           func() time.Time
}

var _ HealthRepository = (*probeHealthRepository)(nil)

// NewProbeHealthRepository runs every probe concurrently on each Collect.
func NewProbeHealthRepository(probes []Probe, opts ...ProbeOption) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: no probes configured")
	}
	probes = append([]Probe(nil), probes...)
	seen := make(map[string]struct{}, len(probes))
	for i, probe := range probes {
		name := strings.TrimSpace(probe.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("health repository: probe %d has no name", i)
		case probe.Ping == nil:
			return nil, fmt.Errorf("health repository: probe %q has no ping function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: duplicate probe %q", name)
		}
		seen[name] = struct{}{}
		probes[i].Name = name
	}

	repo := &probeHealthRepository{
		probes:          probes,
		fallbackTimeout: defaultProbeTimeout,
		clock:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *probeHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	outcomes := make([]domain.SystemHealthCheck, len(r.probes))
	var group errgroup.Group
	for i := range r.probes {
		i := i
		group.Go(func() error {
			outcomes[i] = r.ping(ctx, r.probes[i])
			return nil
		})
	}
	_ = group.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(outcomes)),
		GeneratedAt: r.clock(),
	}
	for i, outcome := range outcomes {
		report.Checks[r.probes[i].Name] = outcome
		report.Status = worseStatus(report.Status, outcome.Status)
	}
	return report, nil
}

func (r *probeHealthRepository) ping(ctx context.Context, probe Probe) domain.SystemHealthCheck {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = r.fallbackTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := r.clock()
	err := probe.Ping(pingCtx)
	if err == nil {
		err = pingCtx.Err()
	}
	finished := r.clock()

	outcome := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err == nil {
		return outcome
	}

	outcome.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		outcome.Detail = "cancelled"
	default:
		outcome.Detail = "unreachable"
	}
	outcome.Status = domain.HealthStatusDegraded
	if probe.Critical {
		outcome.Status = domain.HealthStatusError
	}
	return outcome
}

func worseStatus(current, next string) string {
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
	if rank(next) > rank(current) {
		return next
	}
	return current
}
