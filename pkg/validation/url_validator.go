package validation

import (
	"net/url"
	"slices"
	"strings"

	apperrors "github.com/anime-shed/text-extractor-go/internal/errors"
)

// MaxURLLength bounds image URLs accepted by extract-url.
const MaxURLLength = 2048

// URLValidator checks image URLs before they are fetched.
type URLValidator struct {
	allowedSchemes []string
	// allowedHosts is matched against the hostname without port. Empty
	// allows any host.
	allowedHosts []string
}

func NewURLValidator() *URLValidator {
	return &URLValidator{allowedSchemes: []string{"http", "https"}}
}

func NewURLValidatorWithOptions(schemes []string, hosts []string) *URLValidator {
	lowered := make([]string, len(hosts))
	for i, h := range hosts {
		lowered[i] = strings.ToLower(h)
	}
	return &URLValidator{allowedSchemes: schemes, allowedHosts: lowered}
}

// ValidateImageURL returns a validation AppError describing the first
// problem found.
func (v *URLValidator) ValidateImageURL(imageURL string) error {
	if strings.TrimSpace(imageURL) == "" {
		return apperrors.NewValidationError("URL cannot be empty", nil)
	}
	if len(imageURL) > MaxURLLength {
		return apperrors.NewValidationError("URL too long", nil)
	}

	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return apperrors.NewValidationError("Invalid URL format", err)
	}
	if !slices.Contains(v.allowedSchemes, strings.ToLower(parsedURL.Scheme)) {
		return apperrors.NewValidationError("URL scheme not allowed", nil)
	}
	if parsedURL.Hostname() == "" {
		return apperrors.NewValidationError("URL must have a valid host", nil)
	}
	if parsedURL.User != nil {
		return apperrors.NewValidationError("URL must not embed credentials", nil)
	}
	if len(v.allowedHosts) > 0 && !slices.Contains(v.allowedHosts, strings.ToLower(parsedURL.Hostname())) {
		return apperrors.NewValidationError("URL host not allowed", nil)
	}
	return nil
}
