package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// BuildInfo is the deployment metadata reported by /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// CacheFor reuses a collected report for this long, so frequent readiness probes from several
	// load balancers do not each hit every dependency. Zero disables caching.
	CacheFor time.Duration
}

type systemService struct {
	health   repositories.HealthRepository
	now      func() time.Time
	build    BuildInfo
	cacheFor time.Duration

	probes singleflight.Group
	mu     sync.Mutex
	cached domain.SystemHealthReport
}

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &systemService{
		health:   deps.HealthRepository,
		now:      func() time.Time { return clock().UTC() },
		build:    deps.Build,
		cacheFor: deps.CacheFor,
	}
	if s.build.StartedAt.IsZero() {
		s.build.StartedAt = s.now()
	}
	return s, nil
}

// HealthReport collects dependency checks, collapsing concurrent callers into one collection, and
// stamps the result with build metadata and uptime.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	now := s.now()
	if report, ok := s.fresh(now); ok {
		return s.stamp(report, now), nil
	}

	v, err, _ := s.probes.Do("readiness", func() (any, error) {
		report, err := s.health.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if report.GeneratedAt.IsZero() {
			report.GeneratedAt = s.now()
		}
		s.mu.Lock()
		s.cached = report
		s.mu.Unlock()
		return report, nil
	})
	if err != nil {
		return SystemHealthReport{}, err
	}
	return s.stamp(v.(domain.SystemHealthReport), now), nil
}

func (s *systemService) fresh(now time.Time) (domain.SystemHealthReport, bool) {
	if s.cacheFor <= 0 {
		return domain.SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached.GeneratedAt.IsZero() || now.Sub(s.cached.GeneratedAt) >= s.cacheFor {
		return domain.SystemHealthReport{}, false
	}
	return s.cached, true
}

func (s *systemService) stamp(report domain.SystemHealthReport, now time.Time) SystemHealthReport {
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = s.build.Version
	report.CommitSHA = s.build.CommitSHA
	report.Environment = s.build.Environment
	report.Uptime = now.Sub(s.build.StartedAt)
	if report.Status == "" {
		report.Status = domain.HealthStatusOK
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	return report
}
