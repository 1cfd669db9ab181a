package repository

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	apperrors "github.com/anime-shed/text-extractor-go/internal/errors"
	"github.com/anime-shed/text-extractor-go/internal/logger"
	"github.com/anime-shed/text-extractor-go/internal/storage"
	"github.com/anime-shed/text-extractor-go/pkg/validation"
)

// imageRepository routes URLs on the configured Azure account through the
// blob client and everything else through plain HTTP.
type imageRepository struct {
	fetcher   storage.ImageFetcher
	blob      storage.BlobStorage
	validator *validation.URLValidator
}

// NewImageRepository creates a repository. blob may be nil when no Azure
// account is configured.
func NewImageRepository(fetcher storage.ImageFetcher, blob storage.BlobStorage) ImageRepository {
	return &imageRepository{
		fetcher:   fetcher,
		blob:      blob,
		validator: validation.NewURLValidator(),
	}
}

func (r *imageRepository) ValidateImageURL(imageURL string) error {
	return r.validator.ValidateImageURL(imageURL)
}

func (r *imageRepository) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	if err := r.ValidateImageURL(imageURL); err != nil {
		return nil, err
	}
	u, err := url.Parse(imageURL)
	if err != nil {
		return nil, apperrors.NewValidationError("Invalid URL format", ErrInvalidImageURL)
	}

	var data []byte
	if r.blob != nil && r.blob.Owns(u) {
		logger.FromContext(ctx).WithField("host", u.Host).Debug("Fetching image from blob storage")
		data, err = r.blob.GetImage(ctx, imageURL)
	} else {
		data, err = r.fetcher.FetchImage(ctx, imageURL)
	}
	if err != nil {
		return nil, mapFetchError(ctx, err)
	}
	return data, nil
}

func mapFetchError(ctx context.Context, err error) error {
	var statusErr *storage.StatusError
	switch {
	case errors.Is(err, storage.ErrImageTooLarge):
		return apperrors.NewValidationError("Image too large", err)
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return apperrors.NewTimeoutError("Timed out fetching image", err)
	case errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound:
		return apperrors.NewNotFoundError("Image not found", errors.Join(ErrImageNotFound, err))
	case errors.As(err, &statusErr) && statusErr.Code < 500:
		return apperrors.NewValidationError("Image URL rejected by host", err)
	default:
		return apperrors.NewNetworkError("Failed to fetch image", err)
	}
}
