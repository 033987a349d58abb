package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/output"
)

// HTTPStorage reads scenes from a read-only HTTP(S) mirror. The mirror
// announces its scenes in an index file. Each line holds a key, optionally
// followed by the size in bytes and an RFC3339 modification time:
//
//	inbox/S2B_MSIL2A_20240301T021509_T51PTS.tif 1048576 2024-03-01T03:00:00Z
//
// Blank lines and lines starting with # are ignored.
type HTTPStorage struct {
	client   *http.Client
	base     *url.URL
	index    string
	username string
	password string
}

// HTTPConfig holds HTTP storage configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string // default: index.txt
	Timeout   time.Duration
	Username  string
	Password  string
}

// NewHTTPStorage creates an adapter for the mirror at cfg.BaseURL.
func NewHTTPStorage(cfg HTTPConfig) (*HTTPStorage, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, &domain.ConfigError{Field: "storage.http.base_url", Message: fmt.Sprintf("invalid mirror URL %q", cfg.BaseURL)}
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.txt"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &HTTPStorage{
		client:   &http.Client{Timeout: cfg.Timeout},
		base:     base,
		index:    cfg.IndexFile,
		username: cfg.Username,
		password: cfg.Password,
	}, nil
}

// List returns the scenes announced in the index file.
func (s *HTTPStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	resp, err := s.fetch(ctx, http.MethodGet, "list", s.index)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var objects []output.StorageObject
	scanner := bufio.NewScanner(resp.Body)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		obj, err := parseIndexLine(line)
		if err != nil {
			return nil, &domain.StorageError{Operation: "list", Key: fmt.Sprintf("%s:%d", s.index, n), Err: err}
		}
		if IsSceneKey(obj.Key) {
			objects = append(objects, obj)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: s.index, Err: err}
	}
	return objects, nil
}

// parseIndexLine reads "key [size [modified]]".
func parseIndexLine(line string) (output.StorageObject, error) {
	fields := strings.Fields(line)
	obj := output.StorageObject{Key: fields[0]}
	if len(fields) > 3 {
		return obj, fmt.Errorf("%d fields: %w", len(fields), domain.ErrInvalidInput)
	}
	if len(fields) > 1 {
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || size < 0 {
			return obj, fmt.Errorf("size %q: %w", fields[1], domain.ErrInvalidInput)
		}
		obj.Size = size
	}
	if len(fields) > 2 {
		modified, err := time.Parse(time.RFC3339, fields[2])
		if err != nil {
			return obj, fmt.Errorf("modified %q: %w", fields[2], domain.ErrInvalidInput)
		}
		obj.LastModified = modified.Unix()
	}
	return obj, nil
}

// Download writes a scene to dest.
func (s *HTTPStorage) Download(ctx context.Context, key string, dest string) error {
	body, err := s.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	f, err := os.Create(dest) //#nosec G304 -- dest is a controlled local path
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return &domain.StorageError{Operation: "download", Key: key, Err: err}
	}
	return f.Close()
}

// GetReader streams a scene from the mirror.
func (s *HTTPStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.fetch(ctx, http.MethodGet, "read", key)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Exists checks a scene with a HEAD request.
func (s *HTTPStorage) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.fetch(ctx, http.MethodHead, "exists", key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	_ = resp.Body.Close()
	return true, nil
}

// Put is not supported on a mirror.
func (s *HTTPStorage) Put(_ context.Context, _ []byte, key string) (string, error) {
	return "", &domain.StorageError{Operation: "put", Key: key, Err: domain.ErrUnsupported}
}

// fetch issues a request for key and returns the response of a 200 answer.
// Failures come back as *domain.StorageError; throttling, server errors and
// network errors wrap ErrStorageUnavailable.
func (s *HTTPStorage) fetch(ctx context.Context, method, op, key string) (*http.Response, error) {
	if slices.Contains(strings.Split(key, "/"), "..") {
		return nil, &domain.StorageError{Operation: op, Key: key, Err: domain.ErrInvalidInput}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base.JoinPath(key).String(), nil)
	if err != nil {
		return nil, &domain.StorageError{Operation: op, Key: key, Err: err}
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.StorageError{Operation: op, Key: key, Err: fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)}
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	_ = resp.Body.Close()

	status := fmt.Errorf("HTTP %d", resp.StatusCode)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		status = fmt.Errorf("%w: %v", domain.ErrNotFound, status)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		status = fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, status)
	}
	return nil, &domain.StorageError{Operation: op, Key: key, Err: status}
}
