package inference

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/output"
	"github.com/jobrunner/flotsam/internal/raster"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type countingMetrics struct {
	output.NoOpMetrics
	calls   atomic.Int32
	failed  atomic.Int32
	retries atomic.Int32
}

func (m *countingMetrics) ObserveInference(success bool, _ time.Duration) {
	m.calls.Add(1)
	if !success {
		m.failed.Add(1)
	}
}

func (m *countingMetrics) IncInferenceRetries() { m.retries.Add(1) }

func fastConfig(endpoint string) RemoteConfig {
	return RemoteConfig{
		Endpoint:       endpoint,
		Timeout:        time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

// statusServer answers with the given statuses in order, then 200.
func statusServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		if r.Header.Get("Content-Type") != "image/tiff" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if n <= len(statuses) {
			http.Error(w, "model busy", statuses[n-1])
			return
		}
		_, _ = w.Write(append([]byte("ok:"), body...))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRemotePredictor(t *testing.T) {
	tests := []struct {
		name        string
		statuses    []int
		wantHits    int32
		wantRetries int32
		wantErr     bool
		wantStatus  int
		wantMaxed   bool
	}{
		{"success", nil, 1, 0, false, 0, false},
		{"retry on 503", []int{503}, 2, 1, false, 0, false},
		{"retry on 429 then 500", []int{429, 500}, 3, 2, false, 0, false},
		{"exhausted", []int{502, 502, 502}, 3, 2, true, 502, true},
		{"client error is permanent", []int{400}, 1, 0, true, 400, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := statusServer(t, tt.statuses...)
			metrics := &countingMetrics{}
			p, err := NewRemotePredictor(fastConfig(srv.URL), metrics, testLogger())
			if err != nil {
				t.Fatal(err)
			}

			got, err := p.Predict(context.Background(), []byte("tiff"))
			if hits.Load() != tt.wantHits {
				t.Errorf("hits = %d, want %d", hits.Load(), tt.wantHits)
			}
			if metrics.retries.Load() != tt.wantRetries {
				t.Errorf("retries = %d, want %d", metrics.retries.Load(), tt.wantRetries)
			}
			if metrics.calls.Load() != tt.wantHits {
				t.Errorf("observed calls = %d, want %d", metrics.calls.Load(), tt.wantHits)
			}

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Predict() error = %v", err)
				}
				if string(got) != "ok:tiff" {
					t.Errorf("Predict() = %q", got)
				}
				return
			}

			var infErr *domain.InferenceError
			if !errors.As(err, &infErr) || infErr.StatusCode != tt.wantStatus {
				t.Errorf("Predict() error = %v, want InferenceError with status %d", err, tt.wantStatus)
			}
			var maxErr *domain.MaxRetriesExceededError
			if errors.As(err, &maxErr) != tt.wantMaxed {
				t.Errorf("MaxRetriesExceededError = %v, want %v", errors.As(err, &maxErr), tt.wantMaxed)
			}
			if tt.wantMaxed && maxErr.Attempts != 3 {
				t.Errorf("Attempts = %d, want 3", maxErr.Attempts)
			}
		})
	}
}

func TestRemotePredictorNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := NewRemotePredictor(fastConfig(url), nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Predict(context.Background(), []byte("x"))
	var maxErr *domain.MaxRetriesExceededError
	if !errors.As(err, &maxErr) {
		t.Fatalf("Predict() error = %v, want MaxRetriesExceededError", err)
	}
	if !errors.Is(err, domain.ErrTransient) {
		t.Errorf("error %v does not wrap ErrTransient", err)
	}
}

func TestRemotePredictorCancelled(t *testing.T) {
	srv, hits := statusServer(t, 503, 503, 503)
	cfg := fastConfig(srv.URL)
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	p, err := NewRemotePredictor(cfg, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Predict(ctx, []byte("x")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Predict() error = %v, want DeadlineExceeded", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestNewRemotePredictorRequiresEndpoint(t *testing.T) {
	_, err := NewRemotePredictor(RemoteConfig{}, nil, testLogger())
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("error = %v, want ConfigError", err)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{" 1 ", time.Second},
		{"-2", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.header); got != tt.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func encodeWindow(t *testing.T, red, nir []float64, nodata *float64) []byte {
	t.Helper()
	g := raster.NewGrid(1, len(red), 3, domain.Float32, 32651, domain.NorthUp(500000, 1600000, 10))
	copy(g.Bands[0], red)
	copy(g.Bands[2], nir)
	if nodata != nil {
		g.NoData, g.HasNoData = *nodata, true
	}
	data, err := raster.Encode(g)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func decodeScores(t *testing.T, payload []byte) []float64 {
	t.Helper()
	if len(payload)%4 != 0 {
		t.Fatalf("payload length %d is not a multiple of 4", len(payload))
	}
	out := make([]float64, len(payload)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:])))
	}
	return out
}

func TestIndexPredictor(t *testing.T) {
	p, err := NewIndexPredictor(1, 3)
	if err != nil {
		t.Fatal(err)
	}

	nodata := float64(-9999)
	payload := encodeWindow(t,
		[]float64{0.1, 0.3, 0.2, 0, -9999},
		[]float64{0.3, 0.1, 0.2, 0, 0.5},
		&nodata,
	)
	got, err := p.Predict(context.Background(), payload)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	want := []float64{0.75, 0.25, 0.5, 0, 0}
	scores := decodeScores(t, got)
	if len(scores) != len(want) {
		t.Fatalf("got %d scores, want %d", len(scores), len(want))
	}
	for i := range want {
		if math.Abs(scores[i]-want[i]) > 1e-6 {
			t.Errorf("score %d = %v, want %v", i, scores[i], want[i])
		}
	}
}

func TestIndexPredictorErrors(t *testing.T) {
	if _, err := NewIndexPredictor(2, 2); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("NewIndexPredictor(2, 2) error = %v", err)
	}
	if _, err := NewIndexPredictor(0, 1); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("NewIndexPredictor(0, 1) error = %v", err)
	}

	p, _ := NewIndexPredictor(1, 4)
	payload := encodeWindow(t, []float64{1}, []float64{1}, nil)
	if _, err := p.Predict(context.Background(), payload); !errors.Is(err, domain.ErrBandMismatch) {
		t.Errorf("Predict() with missing band error = %v, want ErrBandMismatch", err)
	}
	if _, err := p.Predict(context.Background(), []byte("not a tiff")); err == nil {
		t.Error("Predict() of garbage succeeded")
	}
}
