package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/text-extractor-go/internal/logger"
)

// ErrImageTooLarge is returned when the body exceeds the configured limit.
var ErrImageTooLarge = errors.New("image exceeds maximum size")

// StatusError reports a non-200 response from the image host.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	if e.Code >= 500 {
		return fmt.Sprintf("server error: status code %d", e.Code)
	}
	return fmt.Sprintf("client error: status code %d", e.Code)
}

// ImageFetcher downloads raw image bytes.
type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) ([]byte, error)
}

type HTTPFetcherOptions struct {
	Timeout  time.Duration
	MaxBytes int64
	Attempts int
	// Backoff returns the wait before retry n (1-based).
	Backoff func(retry int) time.Duration
}

func DefaultHTTPFetcherOptions() HTTPFetcherOptions {
	return HTTPFetcherOptions{
		Timeout:  30 * time.Second,
		MaxBytes: 10 << 20,
		Attempts: 3,
		Backoff:  func(retry int) time.Duration { return time.Duration(retry) * time.Second },
	}
}

// HTTPImageFetcher retries connection failures and 5xx responses. 4xx
// responses fail immediately.
type HTTPImageFetcher struct {
	client *http.Client
	opts   HTTPFetcherOptions
}

func NewHTTPImageFetcher(opts HTTPFetcherOptions) *HTTPImageFetcher {
	def := DefaultHTTPFetcherOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.Backoff == nil {
		opts.Backoff = def.Backoff
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		MaxIdleConns:           10,
		MaxIdleConnsPerHost:    2,
		IdleConnTimeout:        30 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  10 * time.Second,
		ExpectContinueTimeout:  1 * time.Second,
		MaxResponseHeaderBytes: 4096,
	}

	return &HTTPImageFetcher{
		opts: opts,
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
	}
}

func (h *HTTPImageFetcher) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	log := logger.FromContext(ctx).WithField("url", imageURL)

	var lastErr error
	for attempt := 0; attempt < h.opts.Attempts; attempt++ {
		if attempt > 0 {
			wait := h.opts.Backoff(attempt)
			log.WithFields(logrus.Fields{"attempt": attempt + 1, "wait": wait.String()}).
				WithError(lastErr).Warn("Retrying image download")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch image: %w", ctx.Err())
			}
		}

		data, retryable, err := h.fetchOnce(ctx, imageURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("failed to fetch image: %w", lastErr)
}

func (h *HTTPImageFetcher) fetchOnce(ctx context.Context, imageURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif, */*")
	req.Header.Set("User-Agent", "Text-Extractor/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		// A cancelled caller is not worth retrying.
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return nil, true, &StatusError{Code: resp.StatusCode}
	default:
		return nil, false, &StatusError{Code: resp.StatusCode}
	}

	if resp.ContentLength > h.opts.MaxBytes {
		return nil, false, ErrImageTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, h.opts.MaxBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("read image body: %w", err)
	}
	if int64(len(data)) > h.opts.MaxBytes {
		return nil, false, ErrImageTooLarge
	}
	return data, false, nil
}
