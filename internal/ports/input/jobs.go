// Package input defines the primary/driving ports of the application.
package input

import (
	"context"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/flotsam/internal/domain"
)

// JobService defines the primary port for scene processing jobs.
type JobService interface {
	// Submit creates a job for a stored scene and processes it asynchronously.
	Submit(ctx context.Context, sceneKey string) (*domain.Job, error)

	// Get returns a job by ID.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// List returns recent jobs, optionally filtered by status.
	List(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error)

	// Vectors returns the vectors of a job in EPSG:4326.
	Vectors(ctx context.Context, id string) ([]domain.Vector, error)

	// ExportGeoJSON returns the vectors of a job as a feature collection.
	ExportGeoJSON(ctx context.Context, id string) (*geojson.FeatureCollection, error)
}

// SyncTrigger starts a storage scan on demand.
type SyncTrigger interface {
	TriggerSync(ctx context.Context) (SyncResult, error)
}

// SyncResult contains the result of a storage scan.
type SyncResult struct {
	ScenesFound     int       `json:"scenes_found"`
	JobsSubmitted   int       `json:"jobs_submitted"`
	SyncedAt        time.Time `json:"synced_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy      bool              // Overall health status
	Ready        bool              // Ready to accept requests
	JobsInFlight int               // Jobs currently processing
	Components   map[string]string // Component statuses
}
