package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// BlobStorage reads images from a single Azure storage account.
type BlobStorage interface {
	GetImage(ctx context.Context, blobURL string) ([]byte, error)
	// Owns reports whether the URL points into this account.
	Owns(u *url.URL) bool
}

type azureStorage struct {
	client   *azblob.Client
	host     string
	maxBytes int64
}

func NewAzureStorage(accountName, accountKey string, maxBytes int64) (BlobStorage, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}

	host := fmt.Sprintf("%s.blob.core.windows.net", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential("https://"+host, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &azureStorage{client: client, host: host, maxBytes: maxBytes}, nil
}

func (s *azureStorage) Owns(u *url.URL) bool {
	return u != nil && strings.EqualFold(u.Hostname(), s.host)
}

func (s *azureStorage) GetImage(ctx context.Context, blobURL string) ([]byte, error) {
	containerName, blobName, err := ParseBlobURL(blobURL)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	body := resp.Body
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrImageTooLarge
	}
	return data, nil
}

// ParseBlobURL splits https://<account>.blob.core.windows.net/<container>/<blob>
// into container and blob names. The legacy form /<container>?blob=<name> is
// also accepted.
func ParseBlobURL(blobURL string) (string, string, error) {
	u, err := url.Parse(blobURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid blob URL: %w", err)
	}
	path := strings.TrimPrefix(u.Path, "/")
	containerName, blobName, _ := strings.Cut(path, "/")
	if blobName == "" {
		blobName = u.Query().Get("blob")
	}
	if containerName == "" || blobName == "" {
		return "", "", fmt.Errorf("invalid blob URL %q: expected /<container>/<blob>", blobURL)
	}
	return containerName, blobName, nil
}
