package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/lionbidi/storefront/internal/domain"
)

const defaultCheckTimeout = 1500 * time.Millisecond

// DependencyCheck is a named readiness check against a backing service.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

// HealthOption customises the dependency-backed health repository.
type HealthOption func(*dependencyHealthRepository)

// WithCheckTimeout overrides the timeout applied to checks that do not set one.
func WithCheckTimeout(timeout time.Duration) HealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.timeout = timeout
		}
	}
}

// WithHealthClock injects a clock for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository builds a HealthRepository that runs every check concurrently.
// A failing optional check degrades the report; a failing required check marks it as error.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...HealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one check is required")
	}
	for _, dep := range checks {
		if strings.TrimSpace(dep.Name) == "" {
			return nil, errors.New("health repository: check name is required")
		}
		if dep.Check == nil {
			return nil, fmt.Errorf("health repository: check %s has no func", dep.Name)
		}
	}
	repo := &dependencyHealthRepository{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: defaultCheckTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	var (
		mu      sync.Mutex
		results = make(map[string]domain.SystemHealthCheck, len(r.checks))
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, dep := range r.checks {
		dep := dep
		group.Go(func() error {
			check := r.run(groupCtx, dep)
			mu.Lock()
			results[dep.Name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	status := domain.HealthStatusOK
	for _, dep := range r.checks {
		check := results[dep.Name]
		if check.Status == domain.HealthStatusOK {
			continue
		}
		if !dep.Optional && check.Status == domain.HealthStatusError {
			status = domain.HealthStatusError
			continue
		}
		if status == domain.HealthStatusOK {
			status = domain.HealthStatusDegraded
		}
	}

	return domain.SystemHealthReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: r.now(),
	}, nil
}

func (r *dependencyHealthRepository) run(ctx context.Context, dep DependencyCheck) domain.SystemHealthCheck {
	timeout := dep.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := dep.Check(checkCtx)
	if err == nil && checkCtx.Err() != nil {
		err = checkCtx.Err()
	}
	end := r.now()

	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		check.Status = domain.HealthStatusError
		check.Detail = "timeout"
		check.Error = err.Error()
	default:
		check.Status = domain.HealthStatusError
		check.Detail = "unreachable"
		check.Error = err.Error()
	}
	return check
}
