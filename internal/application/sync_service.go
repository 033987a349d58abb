package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/input"
	"github.com/jobrunner/flotsam/internal/ports/output"
)

// ErrRateLimited is returned when the sync API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultTriggerCooldown is the minimum time between manual syncs.
const DefaultTriggerCooldown = 30 * time.Second

// Submitter starts processing a stored scene.
type Submitter interface {
	Submit(ctx context.Context, sceneKey string) (*domain.Job, error)
}

// SyncService periodically scans storage and submits jobs for new scenes.
type SyncService struct {
	scenes   *SceneProvider
	repo     output.JobRepository
	jobs     Submitter
	interval time.Duration
	logger   *slog.Logger

	// Lifecycle management
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Manual triggers
	limiter *rate.Limiter

	// Prevents concurrent scans submitting the same scene twice
	syncOpMutex sync.Mutex

	nextSync time.Time
	syncMu   sync.RWMutex
}

// NewSyncService creates a new sync service.
func NewSyncService(
	scenes *SceneProvider,
	repo output.JobRepository,
	jobs Submitter,
	interval time.Duration,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		scenes:   scenes,
		repo:     repo,
		jobs:     jobs,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		limiter:  rate.NewLimiter(rate.Every(DefaultTriggerCooldown), 1),
	}
}

// Start runs an initial scan and then scans every interval.
func (s *SyncService) Start(ctx context.Context) {
	s.logger.Info("starting sync service", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *SyncService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextSync(time.Now().Add(s.interval))
	s.doSync(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled sync triggered")
			s.setNextSync(time.Now().Add(s.interval))
			s.doSync(ctx)
		}
	}
}

// Stop gracefully stops the sync service.
func (s *SyncService) Stop() {
	s.logger.Info("stopping sync service")
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// TriggerSync scans storage now. Manual scans are limited to one per
// DefaultTriggerCooldown; callers above the limit get ErrRateLimited.
func (s *SyncService) TriggerSync(ctx context.Context) (input.SyncResult, error) {
	if !s.limiter.Allow() {
		return input.SyncResult{}, ErrRateLimited
	}
	return s.Sync(ctx)
}

func (s *SyncService) doSync(ctx context.Context) {
	result, err := s.Sync(ctx)
	if err != nil {
		s.logger.Error("sync failed", "error", err)
		return
	}
	s.logger.Info("sync completed",
		"scenes", result.ScenesFound,
		"submitted", result.JobsSubmitted,
	)
}

// Sync submits a job for every stored scene that has none yet. A scene
// that cannot be submitted is logged and retried on the next scan.
func (s *SyncService) Sync(ctx context.Context) (input.SyncResult, error) {
	s.syncOpMutex.Lock()
	defer s.syncOpMutex.Unlock()

	scenes, err := s.scenes.List(ctx)
	if err != nil {
		return input.SyncResult{}, err
	}

	submitted := 0
	for _, obj := range scenes {
		if err := ctx.Err(); err != nil {
			return input.SyncResult{}, err
		}

		known, err := s.repo.SceneKnown(ctx, obj.Key)
		if err != nil {
			return input.SyncResult{}, err
		}
		if known {
			continue
		}

		job, err := s.jobs.Submit(ctx, obj.Key)
		if err != nil {
			s.logger.Warn("failed to submit scene", "scene", obj.Key, "error", err)
			continue
		}
		s.logger.Debug("scene submitted", "scene", obj.Key, "job", job.ID)
		submitted++
	}

	return input.SyncResult{
		ScenesFound:     len(scenes),
		JobsSubmitted:   submitted,
		SyncedAt:        time.Now().UTC(),
		NextScheduledAt: s.getNextSync(),
	}, nil
}

func (s *SyncService) setNextSync(t time.Time) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.nextSync = t
}

func (s *SyncService) getNextSync() time.Time {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()
	return s.nextSync
}

// Interval returns the sync interval.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}
