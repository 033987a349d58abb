// Package inference provides predictor adapters: a remote HTTP model server
// and an in-process spectral index model.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/output"
)

// RemoteConfig holds remote predictor configuration.
type RemoteConfig struct {
	Endpoint       string
	Timeout        time.Duration // per attempt
	MaxRetries     int           // attempts after the first
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Rate           float64 // requests per second, 0 disables limiting
	Burst          int
}

// RemotePredictor posts GeoTIFF windows to a model server and returns the
// raw float32 response body.
type RemotePredictor struct {
	client   *http.Client
	endpoint string
	cfg      RemoteConfig
	limiter  *rate.Limiter
	metrics  output.MetricsCollector
	logger   *slog.Logger
}

// NewRemotePredictor creates a remote predictor.
func NewRemotePredictor(cfg RemoteConfig, metrics output.MetricsCollector, logger *slog.Logger) (*RemotePredictor, error) {
	if cfg.Endpoint == "" {
		return nil, &domain.ConfigError{Field: "inference.endpoint", Message: "required for remote inference"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(cfg.Burst, 1))
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}

	return &RemotePredictor{
		client:   &http.Client{},
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		cfg:      cfg,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Predict implements output.Predictor.
func (p *RemotePredictor) Predict(ctx context.Context, payload []byte) ([]byte, error) {
	attempts := p.cfg.MaxRetries + 1
	backoff := p.cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		body, wait, err := p.post(ctx, payload)
		p.metrics.ObserveInference(err == nil, time.Since(start))
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !domain.IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		if attempt == attempts {
			break
		}

		delay := min(max(backoff, wait), p.cfg.MaxBackoff)
		p.logger.Warn("inference attempt failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		p.metrics.IncInferenceRetries()
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, p.cfg.MaxBackoff)
	}

	return nil, &domain.MaxRetriesExceededError{
		Operation: "inference",
		Attempts:  attempts,
		Err:       lastErr,
	}
}

// post performs one request. The returned duration is the server's
// Retry-After hint, zero when absent.
func (p *RemotePredictor) post(ctx context.Context, payload []byte) ([]byte, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, &domain.InferenceError{Err: err}
	}
	req.Header.Set("Content-Type", "image/tiff")
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, &domain.InferenceError{Err: fmt.Errorf("%w: %v", domain.ErrTransient, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &domain.InferenceError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: reading body: %v", domain.ErrTransient, err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, retryAfter(resp.Header.Get("Retry-After")), &domain.InferenceError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", domain.ErrTransient, summarize(body)),
		}
	default:
		return nil, 0, &domain.InferenceError{
			StatusCode: resp.StatusCode,
			Err:        errors.New(summarize(body)),
		}
	}
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func summarize(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
