package output

import (
	"context"

	"github.com/jobrunner/flotsam/internal/domain"
)

// JobRepository defines the secondary port for job, image, model and vector
// persistence.
type JobRepository interface {
	// CreateJob stores a new job.
	CreateJob(ctx context.Context, job *domain.Job) error

	// UpdateJob stores the status, counters and URLs of a job.
	UpdateJob(ctx context.Context, job *domain.Job) error

	// GetJob returns a job by ID.
	GetJob(ctx context.Context, id string) (*domain.Job, error)

	// ListJobs returns the most recent jobs, optionally filtered by status.
	ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error)

	// SceneKnown reports whether a job already exists for a scene key.
	SceneKnown(ctx context.Context, sceneKey string) (bool, error)

	// RecordImage stores the metadata of a processed scene. It returns
	// domain.ErrDuplicate when the same image was recorded before.
	RecordImage(ctx context.Context, jobID string, scene domain.DownloadResponse) error

	// ReleaseImage removes the image recorded by a job so the scene can be
	// processed again by a new job.
	ReleaseImage(ctx context.Context, jobID string) error

	// RegisterModel stores a model description, ignoring known models.
	RegisterModel(ctx context.Context, model domain.Model) error

	// SaveVectors stores the vectors of a job.
	SaveVectors(ctx context.Context, jobID string, vectors []domain.Vector) error

	// Vectors returns the vectors of a job.
	Vectors(ctx context.Context, jobID string) ([]domain.Vector, error)

	// Ping checks that the store answers.
	Ping(ctx context.Context) error
}
