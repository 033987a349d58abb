// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/output"
	"github.com/jobrunner/flotsam/internal/raster"
)

// acquisitionPattern matches the compact timestamp most providers put in
// scene names, e.g. S2B_MSIL2A_20240301T021509_N0510.
var acquisitionPattern = regexp.MustCompile(`(\d{8}T\d{6})`)

// SceneProvider reads scenes from object storage.
type SceneProvider struct {
	storage     output.ObjectStorage
	transformer output.CoordinateTransformer
	metrics     output.MetricsCollector
	logger      *slog.Logger
	provider    string
	now         func() time.Time
}

// NewSceneProvider creates a scene provider. provider names the storage
// backend in recorded image metadata.
func NewSceneProvider(
	storage output.ObjectStorage,
	transformer output.CoordinateTransformer,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	provider string,
) *SceneProvider {
	return &SceneProvider{
		storage:     storage,
		transformer: transformer,
		metrics:     metrics,
		logger:      logger,
		provider:    provider,
		now:         time.Now,
	}
}

// List returns the scene objects in storage ordered by key.
func (p *SceneProvider) List(ctx context.Context) ([]output.StorageObject, error) {
	start := time.Now()
	objects, err := p.storage.List(ctx)
	p.metrics.ObserveStorageDuration("list", time.Since(start))
	p.metrics.IncStorageOperations("list", err == nil)
	if err != nil {
		return nil, err
	}

	scenes := make([]output.StorageObject, 0, len(objects))
	for _, obj := range objects {
		if IsSceneKey(obj.Key) {
			scenes = append(scenes, obj)
		}
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Key < scenes[j].Key })
	return scenes, nil
}

// Fetch downloads a scene and describes it from its raster header.
func (p *SceneProvider) Fetch(ctx context.Context, obj output.StorageObject) (domain.DownloadResponse, error) {
	requested := p.now().UTC()
	content, err := p.read(ctx, obj.Key)
	if err != nil {
		return domain.DownloadResponse{}, err
	}

	r, err := raster.New(content)
	if err != nil {
		return domain.DownloadResponse{}, fmt.Errorf("decoding scene %s: %w", obj.Key, err)
	}

	bbox, err := p.footprint(ctx, r)
	if err != nil {
		return domain.DownloadResponse{}, fmt.Errorf("scene %s footprint: %w", obj.Key, err)
	}

	p.logger.Debug("scene fetched",
		"key", obj.Key,
		"bytes", len(content),
		"crs", r.CRS(),
		"size", r.Size().String(),
	)

	return domain.DownloadResponse{
		ImageID:          SceneID(obj.Key),
		Content:          content,
		Timestamp:        acquisitionTime(obj),
		BBox:             bbox,
		CRS:              r.CRS(),
		Size:             r.Size(),
		CloudCover:       -1,
		Provider:         p.provider,
		RequestTimestamp: requested,
	}, nil
}

func (p *SceneProvider) read(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	content, err := func() ([]byte, error) {
		rc, err := p.storage.GetReader(ctx, key)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rc.Close() }()
		return io.ReadAll(rc)
	}()
	p.metrics.ObserveStorageDuration("read", time.Since(start))
	p.metrics.IncStorageOperations("read", err == nil)
	if err != nil {
		return nil, fmt.Errorf("reading scene %s: %w", key, err)
	}
	return content, nil
}

// footprint returns the scene bounds in EPSG:4326.
func (p *SceneProvider) footprint(ctx context.Context, r *raster.Raster) (domain.BoundingBox, error) {
	bounds := r.Bounds()
	if r.CRS() == domain.SRIDWGS84 {
		return bounds, nil
	}
	if !p.transformer.IsSupported(r.CRS(), domain.SRIDWGS84) {
		return domain.BoundingBox{}, fmt.Errorf("EPSG:%d: %w", r.CRS(), domain.ErrUnsupportedCRS)
	}

	corners := []orb.Point{
		{bounds.MinX, bounds.MinY},
		{bounds.MaxX, bounds.MinY},
		{bounds.MaxX, bounds.MaxY},
		{bounds.MinX, bounds.MaxY},
	}
	pts, err := p.transformer.Transform(ctx, corners, r.CRS(), domain.SRIDWGS84)
	if err != nil {
		return domain.BoundingBox{}, err
	}
	return domain.BoundingBoxFromBound(orb.MultiPoint(pts).Bound()), nil
}

// acquisitionTime prefers a timestamp embedded in the scene name and falls
// back to the object's modification time.
func acquisitionTime(obj output.StorageObject) time.Time {
	if m := acquisitionPattern.FindString(path.Base(obj.Key)); m != "" {
		if t, err := time.Parse("20060102T150405", m); err == nil {
			return t.UTC()
		}
	}
	if obj.LastModified > 0 {
		return time.Unix(obj.LastModified, 0).UTC()
	}
	return time.Time{}
}

// IsSceneKey reports whether key names a GeoTIFF scene.
func IsSceneKey(key string) bool {
	ext := strings.ToLower(path.Ext(key))
	return ext == ".tif" || ext == ".tiff"
}

// SceneID derives the image id from a scene key: its base name without
// extension.
func SceneID(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}
