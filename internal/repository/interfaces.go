package repository

import "context"

// ImageRepository retrieves image bytes for URL-based requests.
type ImageRepository interface {
	// FetchImage downloads the image at imageURL.
	FetchImage(ctx context.Context, imageURL string) ([]byte, error)

	// ValidateImageURL checks scheme and host before any network access.
	ValidateImageURL(imageURL string) error
}
