package application

import (
	"context"
	"time"

	"github.com/jobrunner/flotsam/internal/ports/input"
	"github.com/jobrunner/flotsam/internal/ports/output"
)

const pingTimeout = 2 * time.Second

// HealthService provides health check functionality.
type HealthService struct {
	repo output.JobRepository
	jobs *JobService
}

// NewHealthService creates a new health service. jobs may be nil.
func NewHealthService(repo output.JobRepository, jobs *JobService) *HealthService {
	return &HealthService{
		repo: repo,
		jobs: jobs,
	}
}

// IsHealthy returns true if the process is alive.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady reports whether the job store answers.
func (s *HealthService) IsReady(ctx context.Context) bool {
	return s.ping(ctx) == nil
}

func (s *HealthService) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.repo.Ping(ctx)
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := map[string]string{
		"database": "ok",
	}
	ready := true
	if err := s.ping(ctx); err != nil {
		components["database"] = err.Error()
		ready = false
	}

	inFlight := 0
	if s.jobs != nil {
		inFlight = s.jobs.InFlight()
	}

	return input.HealthDetails{
		Healthy:      s.IsHealthy(ctx),
		Ready:        ready,
		JobsInFlight: inFlight,
		Components:   components,
	}
}
