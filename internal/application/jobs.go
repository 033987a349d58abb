package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/semaphore"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/pipeline"
	"github.com/jobrunner/flotsam/internal/ports/output"
	"github.com/jobrunner/flotsam/internal/raster"
)

// DefaultListLimit caps job listings without an explicit limit.
const DefaultListLimit = 100

// JobConfig configures scene processing.
type JobConfig struct {
	Model             domain.Model
	Pipeline          pipeline.Config
	VectorizeMode     string
	Threshold         *float64
	ResultPrefix      string
	JobTimeout        time.Duration // Zero disables the cap
	ProjectionWorkers int
	Concurrency       int // Jobs processed at once, at least one
}

// JobService creates jobs and runs scenes through the detection chain.
type JobService struct {
	repo        output.JobRepository
	scenes      *SceneProvider
	storage     output.ObjectStorage
	predictor   output.Predictor
	transformer output.CoordinateTransformer
	preview     output.PreviewRenderer
	metrics     output.MetricsCollector
	logger      *slog.Logger
	cfg         JobConfig
	vectorizer  pipeline.Vectorizer

	slots    *semaphore.Weighted
	inFlight atomic.Int64
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	newID func() string
	now   func() time.Time
}

// JobDeps are the collaborators of a JobService.
type JobDeps struct {
	Repo        output.JobRepository
	Scenes      *SceneProvider
	Storage     output.ObjectStorage
	Predictor   output.Predictor
	Transformer output.CoordinateTransformer
	Preview     output.PreviewRenderer
	Metrics     output.MetricsCollector
	Logger      *slog.Logger
}

// NewJobService creates a job service. It fails when the vectorize mode is
// unknown.
func NewJobService(cfg JobConfig, deps JobDeps) (*JobService, error) {
	vectorizer, err := pipeline.NewVectorizer(cfg.VectorizeMode, cfg.Threshold)
	if err != nil {
		return nil, err
	}
	if cfg.Model.Name == "" {
		return nil, &domain.ValidationError{
			Field:      "model.name",
			Constraint: "non-empty",
			Message:    "model name is required",
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobService{
		repo:        deps.Repo,
		scenes:      deps.Scenes,
		storage:     deps.Storage,
		predictor:   deps.Predictor,
		transformer: deps.Transformer,
		preview:     deps.Preview,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		cfg:         cfg,
		vectorizer:  vectorizer,
		slots:       semaphore.NewWeighted(int64(max(cfg.Concurrency, 1))),
		ctx:         ctx,
		cancel:      cancel,
		newID:       uuid.NewString,
		now:         time.Now,
	}, nil
}

// Init registers the configured model in the job store.
func (s *JobService) Init(ctx context.Context) error {
	return s.repo.RegisterModel(ctx, s.cfg.Model)
}

// Close cancels running jobs and waits for them to record their outcome.
func (s *JobService) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until all submitted jobs have finished.
func (s *JobService) Wait() {
	s.wg.Wait()
}

// InFlight returns the number of jobs being processed.
func (s *JobService) InFlight() int {
	return int(s.inFlight.Load())
}

// Submit creates a pending job for a scene and processes it in the
// background.
func (s *JobService) Submit(ctx context.Context, sceneKey string) (*domain.Job, error) {
	job, err := s.create(ctx, sceneKey)
	if err != nil {
		return nil, err
	}
	submitted := job.Clone()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.slots.Acquire(s.ctx, 1); err != nil {
			s.abandon(job, err)
			return
		}
		defer s.slots.Release(1)
		_ = s.process(s.ctx, job)
	}()

	return submitted, nil
}

// Run creates a job for a scene and processes it before returning. The
// returned job carries the final status.
func (s *JobService) Run(ctx context.Context, sceneKey string) (*domain.Job, error) {
	job, err := s.create(ctx, sceneKey)
	if err != nil {
		return nil, err
	}
	err = s.process(ctx, job)
	return job, err
}

func (s *JobService) create(ctx context.Context, sceneKey string) (*domain.Job, error) {
	if !IsSceneKey(sceneKey) {
		return nil, &domain.ValidationError{
			Field:      "scene_key",
			Value:      sceneKey,
			Constraint: "*.tif|*.tiff",
			Message:    "scene must be a GeoTIFF",
		}
	}

	job := domain.NewJob(s.newID(), sceneKey, s.cfg.Model.Name, s.now().UTC())
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	s.metrics.IncJobs(string(domain.JobPending))
	s.logger.Info("job created", "job", job.ID, "scene", sceneKey)
	return job, nil
}

// process fetches the job's scene and runs it.
func (s *JobService) process(ctx context.Context, job *domain.Job) error {
	scene, err := s.scenes.Fetch(ctx, output.StorageObject{Key: job.SceneKey})
	if err != nil {
		s.fail(job, err)
		return err
	}
	return s.ProcessScene(ctx, job, scene)
}

// abandon fails a job that never started.
func (s *JobService) abandon(job *domain.Job, err error) {
	s.logger.Warn("job abandoned", "job", job.ID, "error", err)
	s.fail(job, err)
}

// ProcessScene runs a scene through the detection chain for job. The job
// ends COMPLETED, or FAILED with the error that stopped it; the error is
// returned as well. An image recorded by an earlier job completes the job
// without vectors and with a note.
func (s *JobService) ProcessScene(ctx context.Context, job *domain.Job, scene domain.DownloadResponse) error {
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	if err := job.Transition(domain.JobInProgress, s.now().UTC()); err != nil {
		return err
	}
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		s.fail(job, err)
		return err
	}
	s.metrics.IncJobs(string(domain.JobInProgress))
	s.metrics.SetJobsInFlight(int(s.inFlight.Add(1)))
	defer func() { s.metrics.SetJobsInFlight(int(s.inFlight.Add(-1))) }()

	logger := s.logger.With("job", job.ID, "scene", scene.ImageID)
	logger.Info("processing scene", "crs", scene.CRS, "size", scene.Size.String())

	err := s.runScene(ctx, logger, job, scene)
	switch {
	case errors.Is(err, domain.ErrDuplicate):
		logger.Info("scene already processed, skipping", "reason", err)
		job.Note = "skipped: " + err.Error()
	case err != nil:
		logger.Error("scene processing failed", "error", err)
		s.releaseImage(job)
		s.fail(job, err)
		return err
	}

	if err := job.Transition(domain.JobCompleted, s.now().UTC()); err != nil {
		return err
	}
	if err := s.repo.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	s.metrics.IncJobs(string(domain.JobCompleted))
	s.metrics.ObserveJobDuration(string(domain.JobCompleted), job.Duration())
	logger.Info("scene processed",
		"vectors", job.VectorCount,
		"duration", job.Duration(),
	)
	return nil
}

func (s *JobService) runScene(ctx context.Context, logger *slog.Logger, job *domain.Job, scene domain.DownloadResponse) error {
	if err := s.repo.RecordImage(ctx, job.ID, scene); err != nil {
		return err
	}

	if _, err := s.put(ctx, scene.Content, s.resultKey(job, "scene.tif")); err != nil {
		return err
	}

	r, err := raster.New(scene.Content)
	if err != nil {
		return fmt.Errorf("decoding scene: %w", err)
	}

	chain := pipeline.Canonical(s.cfg.Pipeline, pipeline.Deps{
		Predictor:   s.predictor,
		Transformer: s.transformer,
		Logger:      logger,
		Metrics:     s.metrics,
	})
	logger.Debug("pipeline built", "operations", chain.Operations())

	prediction, err := chain.Run(ctx, r)
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}

	vectors, err := s.vectorizer.Vectorize(ctx, prediction)
	if err != nil {
		return fmt.Errorf("vectorizing: %w", err)
	}
	vectors, err = pipeline.ReprojectVectors(ctx, s.transformer, vectors, domain.SRIDWGS84, s.cfg.ProjectionWorkers)
	if err != nil {
		return fmt.Errorf("reprojecting vectors: %w", err)
	}
	if err := s.repo.SaveVectors(ctx, job.ID, vectors); err != nil {
		return err
	}
	job.VectorCount = len(vectors)
	s.metrics.AddVectors(len(vectors))

	if job.ResultURL, err = s.put(ctx, prediction.Content(), s.resultKey(job, "prediction.tif")); err != nil {
		return err
	}

	png, err := s.preview.Render(prediction)
	if err != nil {
		return fmt.Errorf("rendering preview: %w", err)
	}
	if job.PreviewURL, err = s.put(ctx, png, s.resultKey(job, "preview.png")); err != nil {
		return err
	}
	return nil
}

func (s *JobService) put(ctx context.Context, data []byte, key string) (string, error) {
	start := time.Now()
	url, err := s.storage.Put(ctx, data, key)
	s.metrics.ObserveStorageDuration("put", time.Since(start))
	s.metrics.IncStorageOperations("put", err == nil)
	return url, err
}

func (s *JobService) resultKey(job *domain.Job, name string) string {
	return path.Join(s.cfg.ResultPrefix, job.ID, name)
}

// releaseImage drops the image row of a failed job so a new job can retry
// the scene.
func (s *JobService) releaseImage(job *domain.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.repo.ReleaseImage(ctx, job.ID); err != nil {
		s.logger.Error("failed to release image", "job", job.ID, "error", err)
	}
}

// fail records a failed job. The store is updated even when ctx is done.
func (s *JobService) fail(job *domain.Job, cause error) {
	if err := job.Fail(cause, s.now().UTC()); err != nil {
		s.logger.Error("cannot fail job", "job", job.ID, "status", job.Status, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		s.logger.Error("failed to record job failure", "job", job.ID, "error", err)
	}
	s.metrics.IncJobs(string(domain.JobFailed))
	s.metrics.ObserveJobDuration(string(domain.JobFailed), job.Duration())
}

// Get returns a job by ID.
func (s *JobService) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, id)
}

// List returns recent jobs, optionally filtered by status.
func (s *JobService) List(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.repo.ListJobs(ctx, status, limit)
}

// Vectors returns the vectors of a job.
func (s *JobService) Vectors(ctx context.Context, id string) ([]domain.Vector, error) {
	if _, err := s.repo.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Vectors(ctx, id)
}

// ExportGeoJSON returns the vectors of a job as a feature collection.
func (s *JobService) ExportGeoJSON(ctx context.Context, id string) (*geojson.FeatureCollection, error) {
	vectors, err := s.Vectors(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.FeatureCollection(vectors)
}
