package http

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/flotsam/internal/config"
	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/input"
)

var testTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// mockJobService implements input.JobService for testing.
type mockJobService struct {
	mu         sync.Mutex
	jobs       map[string]*domain.Job
	submitted  []string
	submitErr  error
	listStatus domain.JobStatus
	listLimit  int
}

func newMockJobService(jobs ...*domain.Job) *mockJobService {
	m := &mockJobService{jobs: make(map[string]*domain.Job)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *mockJobService) Submit(_ context.Context, sceneKey string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.submitted = append(m.submitted, sceneKey)
	job := domain.NewJob("job-new", sceneKey, "floating-debris-index", testTime)
	m.jobs[job.ID] = job
	return job, nil
}

func (m *mockJobService) Get(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (m *mockJobService) List(_ context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listStatus, m.listLimit = status, limit
	var out []domain.Job
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *mockJobService) Vectors(ctx context.Context, id string) ([]domain.Vector, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	return []domain.Vector{{
		Geometry:   orb.Point{121.5, 14.5},
		CRS:        domain.SRIDWGS84,
		PixelValue: 255,
	}}, nil
}

func (m *mockJobService) ExportGeoJSON(ctx context.Context, id string) (*geojson.FeatureCollection, error) {
	vectors, err := m.Vectors(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.FeatureCollection(vectors)
}

// mockHealth implements input.HealthChecker for testing.
type mockHealth struct {
	healthy bool
	ready   bool
}

func (m *mockHealth) IsHealthy(_ context.Context) bool { return m.healthy }

func (m *mockHealth) IsReady(_ context.Context) bool { return m.ready }

func (m *mockHealth) GetHealthDetails(_ context.Context) input.HealthDetails {
	db := "ok"
	if !m.ready {
		db = "unavailable"
	}
	return input.HealthDetails{
		Healthy:      m.healthy,
		Ready:        m.ready,
		JobsInFlight: 2,
		Components:   map[string]string{"database": db},
	}
}

// mockSync implements input.SyncTrigger for testing.
type mockSync struct {
	result input.SyncResult
	err    error
}

func (m *mockSync) TriggerSync(_ context.Context) (input.SyncResult, error) {
	return m.result, m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func completedJob(id string) *domain.Job {
	job := domain.NewJob(id, "scenes/"+id+".tif", "floating-debris-index", testTime)
	_ = job.Transition(domain.JobInProgress, testTime)
	_ = job.Transition(domain.JobCompleted, testTime.Add(90*time.Second))
	job.VectorCount = 1
	job.ResultURL = "file:///data/results/" + id + "/prediction.tif"
	return job
}

func newTestServer(cfg config.ServerConfig, jobs input.JobService, trigger input.SyncTrigger, mw ...mux.MiddlewareFunc) *Server {
	return NewServer(cfg, jobs, &mockHealth{healthy: true, ready: true}, trigger, testLogger(), mw...)
}
