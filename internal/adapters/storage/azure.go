package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/output"
)

// AzureStorage implements ObjectStorage for Azure Blob Storage.
type AzureStorage struct {
	client       *azblob.Client
	container    string
	prefix       string
	resultPrefix string
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	Prefix           string
	ResultPrefix     string
}

// NewAzureStorage creates a new Azure Blob Storage adapter.
func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, err
	}
	return &AzureStorage{
		client:       client,
		container:    cfg.Container,
		prefix:       strings.Trim(cfg.Prefix, "/"),
		resultPrefix: strings.Trim(cfg.ResultPrefix, "/"),
	}, nil
}

func newAzureClient(cfg AzureConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	return azblob.NewClientWithSharedKeyCredential(url, cred, nil)
}

// List returns all scene blobs in the container below the prefix.
func (s *AzureStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &s.prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &domain.StorageError{Operation: "list", Key: s.container, Err: err}
		}

		for _, item := range page.Segment.BlobItems {
			if obj, ok := s.blobToStorageObject(item); ok {
				objects = append(objects, obj)
			}
		}
	}

	return objects, nil
}

// blobToStorageObject converts a blob item, skipping results and files
// that are not scenes.
func (s *AzureStorage) blobToStorageObject(item *container.BlobItem) (output.StorageObject, bool) {
	if item.Name == nil {
		return output.StorageObject{}, false
	}
	relKey := strings.TrimPrefix(strings.TrimPrefix(*item.Name, s.prefix), "/")
	if !IsSceneKey(relKey) || isResult(relKey, s.resultPrefix) {
		return output.StorageObject{}, false
	}

	obj := output.StorageObject{Key: relKey}
	if p := item.Properties; p != nil {
		if p.ContentLength != nil {
			obj.Size = *p.ContentLength
		}
		if p.LastModified != nil {
			obj.LastModified = p.LastModified.Unix()
		}
		if p.ETag != nil {
			obj.ETag = string(*p.ETag)
		}
	}
	return obj, true
}

// Download downloads a blob to the local filesystem.
func (s *AzureStorage) Download(ctx context.Context, key string, dest string) error {
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
	defer func() { _ = f.Close() }()

	_, err = io.Copy(f, body)
	return err
}

// GetReader returns a reader for the given blob.
func (s *AzureStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.fullKey(key), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			err = fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		}
		return nil, &domain.StorageError{Operation: "read", Key: key, Err: err}
	}
	return resp.Body, nil
}

// Exists checks if a blob exists.
func (s *AzureStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.ServiceClient().
		NewContainerClient(s.container).
		NewBlobClient(s.fullKey(key)).
		GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, &domain.StorageError{Operation: "head", Key: key, Err: err}
}

// Put uploads data as a block blob and returns its URL.
func (s *AzureStorage) Put(ctx context.Context, data []byte, key string) (string, error) {
	full := s.fullKey(key)
	_, err := s.client.UploadBuffer(ctx, s.container, full, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: stringPtr(contentType(key))},
	})
	if err != nil {
		return "", &domain.StorageError{Operation: "put", Key: key, Err: err}
	}
	return strings.TrimSuffix(s.client.URL(), "/") + "/" + s.container + "/" + full, nil
}

func (s *AzureStorage) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func stringPtr(s string) *string {
	return &s
}
