package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/jobrunner/flotsam/internal/adapters/watcher"
	"github.com/jobrunner/flotsam/internal/config"
	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/pipeline"
	"github.com/jobrunner/flotsam/internal/raster"
)

func validPipeline() config.PipelineConfig {
	threshold := 128.0
	return config.PipelineConfig{
		WindowHeight:  8,
		WindowWidth:   8,
		Offset:        2,
		DivisibleBy:   1,
		Blend:         "first",
		Sigma:         1,
		TargetDType:   "uint8",
		Resampling:    "nearest",
		MaskCRS:       domain.SRIDWGS84,
		Threshold:     &threshold,
		VectorizeMode: "polygon",
		ModelName:     "floating-debris-index",
		ModelVersion:  "1",
		JobTimeout:    time.Minute,
		Concurrency:   1,
		PreviewMaxDim: 64,
	}
}

func TestPipelineConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.PipelineConfig)
		wantErr error
		check   func(*testing.T, pipeline.Config)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, c pipeline.Config) {
				if c.Window != (domain.HeightWidth{Height: 8, Width: 8}) || c.Blend != pipeline.BlendFirst {
					t.Errorf("config = %+v", c)
				}
				if c.TargetDType != domain.Uint8 || c.Mask != nil {
					t.Errorf("dtype %v mask %v", c.TargetDType, c.Mask)
				}
			},
		},
		{
			name: "mask",
			mutate: func(c *config.PipelineConfig) {
				c.MaskWKT = "POLYGON((120 14,122 14,122 16,120 16,120 14))"
				c.Crop = true
			},
			check: func(t *testing.T, c pipeline.Config) {
				poly, ok := c.Mask.(orb.Polygon)
				if !ok || len(poly[0]) != 5 {
					t.Fatalf("mask = %#v", c.Mask)
				}
				if c.MaskCRS != domain.SRIDWGS84 || !c.Crop {
					t.Errorf("mask crs %d crop %v", c.MaskCRS, c.Crop)
				}
			},
		},
		{
			name:   "keep prediction dtype",
			mutate: func(c *config.PipelineConfig) { c.TargetDType = "" },
			check: func(t *testing.T, c pipeline.Config) {
				if c.TargetDType != domain.DTypeInvalid {
					t.Errorf("TargetDType = %v", c.TargetDType)
				}
			},
		},
		{"bad blend", func(c *config.PipelineConfig) { c.Blend = "average" }, domain.ErrInvalidInput, nil},
		{"bad resampling", func(c *config.PipelineConfig) { c.Resampling = "cubic" }, domain.ErrUnsupported, nil},
		{"bad dtype", func(c *config.PipelineConfig) { c.TargetDType = "complex64" }, domain.ErrUnsupportedDType, nil},
		{"bad mask", func(c *config.PipelineConfig) { c.MaskWKT = "POLYGON((" }, domain.ErrInvalidInput, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validPipeline()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			got, err := PipelineConfig(cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("PipelineConfig() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("PipelineConfig() error = %v", err)
			}
			tt.check(t, got)
		})
	}
}

func TestModel(t *testing.T) {
	cfg := validPipeline()
	cfg.Bands = []int{2, 3, 4, 8}
	m := Model(cfg)
	if m.Name != "floating-debris-index" || m.Version != "1" || len(m.Bands) != 4 {
		t.Errorf("Model() = %+v", m)
	}
	if m.WindowSize != (domain.HeightWidth{Height: 8, Width: 8}) || m.Offset != 2 {
		t.Errorf("Model() geometry = %+v", m)
	}
}

func TestSceneKey(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name string
		path string
		want string
		ok   bool
	}{
		{"top level", filepath.Join(root, "a.tif"), "a.tif", true},
		{"nested", filepath.Join(root, "inbox", "2024", "b.tif"), "inbox/2024/b.tif", true},
		{"root itself", root, "", false},
		{"outside", filepath.Join(filepath.Dir(root), "other.tif"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sceneKey(root, tt.path)
			if got != tt.want || ok != tt.ok {
				t.Errorf("sceneKey() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestInitStorageUnknownType(t *testing.T) {
	if _, err := initStorage(context.Background(), config.StorageConfig{Type: "ftp"}); err == nil {
		t.Error("initStorage() should reject unknown storage types")
	}
}

// writeScene stores a two-band scene whose second band marks a 2x2 block.
func writeScene(t *testing.T, path string) {
	t.Helper()
	g := raster.NewGrid(8, 8, 2, domain.Uint8, 32651, domain.NorthUp(500000, 1600000, 10))
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			g.Set(0, row, col, 50)
			g.Set(1, row, col, 40)
		}
	}
	for _, rc := range [][2]int{{2, 2}, {2, 3}, {3, 2}, {3, 3}} {
		g.Set(1, rc[0], rc[1], 250)
	}
	data, err := raster.Encode(g)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func newTestApp(t *testing.T) (*App, string) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 18080, ShutdownTimeout: time.Second},
		Storage:  config.StorageConfig{Type: "local", LocalPath: root, ResultsPrefix: "results"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "jobs.db")},
		Pipeline: validPipeline(),
		Inference: config.InferenceConfig{
			Mode:    "local",
			RedBand: 1,
			NIRBand: 2,
		},
		Projection: config.ProjectionConfig{Engine: "builtin", Workers: 2},
		Sync:       config.SyncConfig{Enabled: true, Interval: time.Hour},
		Logging:    config.LoggingConfig{Level: "error", Format: "text"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, root
}

func TestAppWiring(t *testing.T) {
	a, _ := newTestApp(t)

	if a.SyncService == nil || a.HealthService == nil || a.HTTPServer == nil {
		t.Fatal("services not wired")
	}
	if a.Watcher != nil || a.MetricsServer != nil {
		t.Error("disabled components should stay nil")
	}
	if !a.HealthService.IsReady(context.Background()) {
		t.Error("job store should be ready")
	}
}

func TestAppProcessesInboxScene(t *testing.T) {
	a, root := newTestApp(t)
	ctx := context.Background()
	path := filepath.Join(root, "inbox", "S2B_MSIL2A_20240301T021509_T51PTS.tif")
	writeScene(t, path)

	event := watcher.Event{Path: path, Operation: watcher.OpCreate}
	if err := a.handleFileEvent(ctx, event); err != nil {
		t.Fatalf("handleFileEvent() error = %v", err)
	}
	a.Jobs.Wait()

	jobs, err := a.Jobs.List(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	job := jobs[0]
	if job.Status != domain.JobCompleted {
		t.Fatalf("job %s: %s", job.Status, job.Error)
	}
	if job.SceneKey != "inbox/S2B_MSIL2A_20240301T021509_T51PTS.tif" || job.VectorCount == 0 {
		t.Errorf("job = %+v", job)
	}
	for _, name := range []string{"scene.tif", "prediction.tif", "preview.png"} {
		if _, err := os.Stat(filepath.Join(root, "results", job.ID, name)); err != nil {
			t.Errorf("result %s: %v", name, err)
		}
	}

	fc, err := a.Jobs.ExportGeoJSON(ctx, job.ID)
	if err != nil {
		t.Fatalf("ExportGeoJSON() error = %v", err)
	}
	if len(fc.Features) != job.VectorCount {
		t.Errorf("features = %d, want %d", len(fc.Features), job.VectorCount)
	}

	// A second event for the same scene, result files and deletions are ignored.
	events := []watcher.Event{
		event,
		{Path: filepath.Join(root, "results", job.ID, "scene.tif"), Operation: watcher.OpCreate},
		{Path: path, Operation: watcher.OpDelete},
	}
	for _, e := range events {
		if err := a.handleFileEvent(ctx, e); err != nil {
			t.Fatalf("handleFileEvent(%v) error = %v", e, err)
		}
	}
	a.Jobs.Wait()
	if jobs, _ := a.Jobs.List(ctx, "", 10); len(jobs) != 1 {
		t.Errorf("jobs = %d after repeated events, want 1", len(jobs))
	}
}
