package application

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/pipeline"
	"github.com/jobrunner/flotsam/internal/ports/output"
	"github.com/jobrunner/flotsam/internal/raster"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockRepository implements output.JobRepository in memory.
type mockRepository struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	images  map[string]string // image id -> job id
	models  map[string]domain.Model
	vectors map[string][]domain.Vector

	createErr error
	saveErr   error
	pingErr   error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		jobs:    make(map[string]*domain.Job),
		images:  make(map[string]string),
		models:  make(map[string]domain.Model),
		vectors: make(map[string][]domain.Vector),
	}
}

func (m *mockRepository) CreateJob(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *mockRepository) UpdateJob(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *mockRepository) GetJob(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (m *mockRepository) ListJobs(_ context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, job := range m.jobs {
		if status == "" || job.Status == status {
			out = append(out, *job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepository) SceneKnown(_ context.Context, sceneKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.SceneKey == sceneKey {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepository) RecordImage(_ context.Context, jobID string, scene domain.DownloadResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[scene.ImageID]; ok {
		return domain.ErrDuplicate
	}
	m.images[scene.ImageID] = jobID
	return nil
}

func (m *mockRepository) ReleaseImage(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for image, owner := range m.images {
		if owner == jobID {
			delete(m.images, image)
		}
	}
	return nil
}

func (m *mockRepository) RegisterModel(_ context.Context, model domain.Model) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[model.Name] = model
	return nil
}

func (m *mockRepository) SaveVectors(_ context.Context, jobID string, vectors []domain.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.vectors[jobID] = vectors
	return nil
}

func (m *mockRepository) Vectors(_ context.Context, jobID string) ([]domain.Vector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vectors[jobID], nil
}

func (m *mockRepository) Ping(_ context.Context) error {
	return m.pingErr
}

func (m *mockRepository) job(id string) *domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

// mockStorage implements output.ObjectStorage in memory.
type mockStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	listErr error
	putErr  error
}

func newMockStorage() *mockStorage {
	return &mockStorage{objects: make(map[string][]byte)}
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	objects := make([]output.StorageObject, 0, len(m.objects))
	for key, data := range m.objects {
		objects = append(objects, output.StorageObject{Key: key, Size: int64(len(data))})
	}
	return objects, nil
}

func (m *mockStorage) Download(_ context.Context, _, _ string) error {
	return domain.ErrUnsupported
}

func (m *mockStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, &domain.StorageError{Operation: "read", Key: key, Err: domain.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *mockStorage) Put(_ context.Context, data []byte, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}
	m.objects[key] = bytes.Clone(data)
	return "mem://" + key, nil
}

func (m *mockStorage) has(key string) bool {
	ok, _ := m.Exists(context.Background(), key)
	return ok
}

// identityTransformer relabels points without moving them.
type identityTransformer struct {
	unsupported bool
}

func (m *identityTransformer) Transform(_ context.Context, pts []orb.Point, _, _ int) ([]orb.Point, error) {
	if m.unsupported {
		return nil, domain.ErrUnsupportedCRS
	}
	return append([]orb.Point(nil), pts...), nil
}

func (m *identityTransformer) IsSupported(_, _ int) bool {
	return !m.unsupported
}

// bandPredictor answers with band 1 of the payload as float32. A non-nil
// gate holds every call until it is closed.
type bandPredictor struct {
	gate chan struct{}
	err  error
}

func (p *bandPredictor) Predict(ctx context.Context, payload []byte) ([]byte, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	g, err := raster.Decode(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4*len(g.Bands[0]))
	for i, v := range g.Bands[0] {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(float32(v)))
	}
	return out, nil
}

// stubPreview implements output.PreviewRenderer.
type stubPreview struct{}

func (stubPreview) Render(_ *raster.Raster) ([]byte, error) {
	return []byte("png"), nil
}

// sceneBytes encodes an 8x8 two-band uint8 scene in EPSG:32651 with a 2x2
// block of bright pixels in band 1.
func sceneBytes(t *testing.T) []byte {
	t.Helper()
	g := raster.NewGrid(8, 8, 2, domain.Uint8, 32651, domain.NorthUp(500000, 1600000, 10))
	for _, rc := range [][2]int{{2, 2}, {2, 3}, {3, 2}, {3, 3}} {
		g.Set(0, rc[0], rc[1], 10)
	}
	data, err := raster.Encode(g)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return data
}

type fixture struct {
	repo     *mockRepository
	storage  *mockStorage
	pred     *bandPredictor
	scenes   *SceneProvider
	jobs     *JobService
	nextID   int
	clockNow time.Time
}

func newFixture(t *testing.T, mutate func(*JobConfig)) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMockRepository(),
		storage:  newMockStorage(),
		pred:     &bandPredictor{},
		clockNow: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	transformer := &identityTransformer{}
	f.scenes = NewSceneProvider(f.storage, transformer, &output.NoOpMetrics{}, testLogger(), "memory")

	threshold := 128.0
	cfg := JobConfig{
		Model: domain.Model{Name: "debris-index", Version: "1"},
		Pipeline: pipeline.Config{
			Window:      domain.HeightWidth{Height: 4, Width: 4},
			DivisibleBy: 1,
			Blend:       pipeline.BlendFirst,
			TargetDType: domain.Uint8,
		},
		VectorizeMode:     "polygon",
		Threshold:         &threshold,
		ResultPrefix:      "results",
		ProjectionWorkers: 2,
		Concurrency:       2,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	jobs, err := NewJobService(cfg, JobDeps{
		Repo:        f.repo,
		Scenes:      f.scenes,
		Storage:     f.storage,
		Predictor:   f.pred,
		Transformer: transformer,
		Preview:     stubPreview{},
		Metrics:     &output.NoOpMetrics{},
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewJobService() error = %v", err)
	}
	jobs.newID = func() string {
		f.nextID++
		return fmt.Sprintf("job-%d", f.nextID)
	}
	jobs.now = func() time.Time { return f.clockNow }
	t.Cleanup(jobs.Close)
	f.jobs = jobs
	return f
}
