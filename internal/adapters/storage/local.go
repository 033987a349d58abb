// Package storage provides object storage adapters for scenes and results.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/output"
)

// IsSceneKey reports whether key names a GeoTIFF scene.
func IsSceneKey(key string) bool {
	ext := strings.ToLower(filepath.Ext(key))
	return ext == ".tif" || ext == ".tiff"
}

// LocalStorage implements ObjectStorage on a local directory.
type LocalStorage struct {
	basePath     string
	resultPrefix string
}

// NewLocalStorage creates a new local storage adapter. Objects under
// resultPrefix are written results and are not listed as scenes.
func NewLocalStorage(basePath, resultPrefix string) *LocalStorage {
	return &LocalStorage{basePath: basePath, resultPrefix: strings.Trim(resultPrefix, "/")}
}

// List returns all scene files below the base directory.
func (s *LocalStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if s.resultPrefix != "" && relPath == s.resultPrefix {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsSceneKey(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, output.StorageObject{
			Key:          relPath,
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: s.basePath, Err: err}
	}

	return objects, nil
}

// Download copies a file to the destination.
func (s *LocalStorage) Download(ctx context.Context, key string, dest string) error {
	srcPath := s.FullPath(key)
	if srcPath == dest {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return &domain.StorageError{Operation: "download", Key: key, Err: notFound(err)}
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	_, err = io.Copy(dst, src)
	return err
}

// GetReader returns a reader for the given object.
func (s *LocalStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.FullPath(key))
	if err != nil {
		return nil, &domain.StorageError{Operation: "read", Key: key, Err: notFound(err)}
	}
	return f, nil
}

// Exists checks if a file exists.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.FullPath(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Put writes data to key, creating directories as needed, and returns a
// file:// URL. The file is renamed into place so readers never see a
// partial object.
func (s *LocalStorage) Put(ctx context.Context, data []byte, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := s.FullPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &domain.StorageError{Operation: "put", Key: key, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", &domain.StorageError{Operation: "put", Key: key, Err: err}
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return "", &domain.StorageError{Operation: "put", Key: key, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", &domain.StorageError{Operation: "put", Key: key, Err: err}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	return err
}
