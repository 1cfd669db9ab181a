package validation

import (
	"fmt"
	"mime"
	"slices"
	"strings"

	apperrors "github.com/anime-shed/text-extractor-go/internal/errors"
)

const (
	DefaultMaxLength = 512
	MinMaxLength     = 64
	MaxMaxLength     = 1024
)

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/jpg", "image/webp"}

// RequestValidator checks upload parameters against configured limits.
type RequestValidator struct {
	maxImageSize int64
	maxBatchSize int
}

func NewRequestValidator(maxImageSize int64, maxBatchSize int) *RequestValidator {
	return &RequestValidator{maxImageSize: maxImageSize, maxBatchSize: maxBatchSize}
}

// ValidateContentType accepts the JPEG, PNG and WebP media types. Parameters
// such as charset are ignored.
func (v *RequestValidator) ValidateContentType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if !slices.Contains(allowedImageTypes, mediaType) {
		return apperrors.NewValidationError(
			fmt.Sprintf("Invalid file type %q. Allowed: %s", contentType, strings.Join(allowedImageTypes, ", ")), nil)
	}
	return nil
}

func (v *RequestValidator) ValidateImageSize(size int64) error {
	if size <= 0 {
		return apperrors.NewValidationError("Image is empty", nil)
	}
	if v.maxImageSize > 0 && size > v.maxImageSize {
		return apperrors.NewValidationError(
			fmt.Sprintf("File too large. Maximum size: %dMB", v.maxImageSize/(1<<20)), nil)
	}
	return nil
}

// ResolveMaxLength applies the default for a zero value and rejects values
// outside MinMaxLength..MaxMaxLength.
func (v *RequestValidator) ResolveMaxLength(maxLength int) (int, error) {
	if maxLength == 0 {
		return DefaultMaxLength, nil
	}
	if maxLength < MinMaxLength || maxLength > MaxMaxLength {
		return 0, apperrors.NewValidationError(
			fmt.Sprintf("max_length must be between %d and %d", MinMaxLength, MaxMaxLength), nil)
	}
	return maxLength, nil
}

func (v *RequestValidator) ValidateBatchSize(n int) error {
	if n == 0 {
		return apperrors.NewValidationError("No images provided", nil)
	}
	if v.maxBatchSize > 0 && n > v.maxBatchSize {
		return apperrors.NewValidationError(
			fmt.Sprintf("Maximum %d images allowed per batch", v.maxBatchSize), nil)
	}
	return nil
}
