package application

import (
	"context"
	"testing"
	"time"

	"github.com/jobrunner/flotsam/internal/domain"
)

func TestHealthServiceIsHealthy(t *testing.T) {
	repo := newMockRepository()
	repo.pingErr = domain.ErrUnavailable
	service := NewHealthService(repo, nil)

	if !service.IsHealthy(context.Background()) {
		t.Error("IsHealthy should not depend on the job store")
	}
}

func TestHealthServiceReadiness(t *testing.T) {
	tests := []struct {
		name      string
		pingErr   error
		wantReady bool
		wantDB    string
	}{
		{"store answers", nil, true, "ok"},
		{"store down", domain.ErrUnavailable, false, domain.ErrUnavailable.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepository()
			repo.pingErr = tt.pingErr
			service := NewHealthService(repo, nil)
			ctx := context.Background()

			if got := service.IsReady(ctx); got != tt.wantReady {
				t.Errorf("IsReady() = %v, want %v", got, tt.wantReady)
			}
			details := service.GetHealthDetails(ctx)
			if details.Ready != tt.wantReady || !details.Healthy {
				t.Errorf("details = %+v", details)
			}
			if details.Components["database"] != tt.wantDB {
				t.Errorf("database component = %q, want %q", details.Components["database"], tt.wantDB)
			}
		})
	}
}

func TestHealthServiceJobsInFlight(t *testing.T) {
	f := newFixture(t, nil)
	f.storage.objects[testScene] = sceneBytes(t)
	f.pred.gate = make(chan struct{})
	service := NewHealthService(f.repo, f.jobs)

	if _, err := f.jobs.Submit(context.Background(), testScene); err != nil {
		t.Fatal(err)
	}
	// The job is in flight once it reaches the gated predictor.
	for f.jobs.InFlight() == 0 {
		if job := f.repo.job("job-1"); job != nil && job.Status.IsTerminal() {
			t.Fatalf("job ended early: %s %s", job.Status, job.Error)
		}
		time.Sleep(time.Millisecond)
	}
	if got := service.GetHealthDetails(context.Background()).JobsInFlight; got != 1 {
		t.Errorf("JobsInFlight = %d, want 1", got)
	}

	close(f.pred.gate)
	f.jobs.Wait()
	if got := service.GetHealthDetails(context.Background()).JobsInFlight; got != 0 {
		t.Errorf("JobsInFlight after completion = %d, want 0", got)
	}
}
