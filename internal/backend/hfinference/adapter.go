// Package hfinference recognizes text through a hosted inference endpoint
// that accepts raw image bytes and answers with generated_text.
package hfinference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/text-extractor-go/internal/backend"
	"github.com/anime-shed/text-extractor-go/internal/logger"
	"github.com/anime-shed/text-extractor-go/internal/normalizer"
)

const (
	Name = "hf-inference"

	// The endpoint returns no score, so every success reports this value.
	placeholderConfidence = 0.85
	defaultTimeout        = 30 * time.Second
	maxErrorBody          = 512
)

type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
	// EncodeFormat is "png" (default) or "jpeg".
	EncodeFormat string
	HTTPClient   *http.Client
}

type Adapter struct {
	cfg      Config
	client   *http.Client
	prepared atomic.Bool
}

func New(cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.EncodeFormat == "" {
		cfg.EncodeFormat = "png"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
		}
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() string { return Name }

// Prepare validates the endpoint. The API is stateless so there is no session
// to open.
func (a *Adapter) Prepare(ctx context.Context) error {
	u, err := url.Parse(a.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid inference endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid inference endpoint %q: must be an absolute http(s) URL", a.cfg.Endpoint)
	}
	a.prepared.Store(true)
	return nil
}

func (a *Adapter) Recognize(ctx context.Context, img *normalizer.CanonicalImage, maxLength int) (backend.Result, error) {
	if !a.prepared.Load() {
		return backend.Result{}, backend.ErrNotPrepared
	}
	if img == nil {
		return backend.Result{}, backend.ErrNilImage
	}
	start := time.Now()
	log := logger.FromContext(ctx).WithFields(logrus.Fields{"backend": Name, "model": a.cfg.Model})

	payload, contentType, err := img.Encode(a.cfg.EncodeFormat)
	if err != nil {
		return backend.Fatal(Name, err.Error(), time.Since(start)), nil
	}

	withAuth := a.cfg.APIKey != ""
	status, body, err := a.post(ctx, payload, contentType, withAuth)
	if err != nil {
		return a.transportFailure(log, err, start), nil
	}

	// One unauthenticated retry when the key is rejected; a second rejection
	// is terminal.
	if withAuth && (status == http.StatusForbidden || status == http.StatusGone) {
		log.WithField("status", status).Warn("Credentials rejected, retrying on the free tier")
		status, body, err = a.post(ctx, payload, contentType, false)
		if err != nil {
			return a.transportFailure(log, err, start), nil
		}
	}

	return a.interpret(log, status, body, start), nil
}

func (a *Adapter) post(ctx context.Context, payload []byte, contentType string, withAuth bool) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if withAuth {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (a *Adapter) interpret(log *logrus.Entry, status int, body []byte, start time.Time) backend.Result {
	elapsed := time.Since(start)
	switch status {
	case http.StatusOK:
		text, err := parseGeneratedText(body)
		if err != nil {
			log.WithError(err).Error("Unexpected inference response")
			return backend.Fatal(Name, err.Error(), elapsed)
		}
		return backend.Succeeded(Name, text, placeholderConfidence, elapsed).WithDevice("remote")
	case http.StatusServiceUnavailable:
		hint := "Model is loading, retry shortly"
		if eta := estimatedTime(body); eta > 0 {
			hint = fmt.Sprintf("%s (estimated %.0fs)", hint, eta)
		}
		log.Info("Inference model is still loading")
		return backend.Degraded(Name, hint, elapsed)
	case http.StatusForbidden, http.StatusGone, http.StatusUnauthorized:
		log.WithField("status", status).Error("Inference API rejected the request")
		return backend.Fatal(Name, fmt.Sprintf("inference API rejected the request (status %d): %s", status, truncate(body)), elapsed)
	default:
		log.WithField("status", status).Error("Inference API returned an error")
		return backend.Fatal(Name, fmt.Sprintf("inference API returned status %d: %s", status, truncate(body)), elapsed)
	}
}

func (a *Adapter) transportFailure(log *logrus.Entry, err error, start time.Time) backend.Result {
	elapsed := time.Since(start)
	if isTimeout(err) {
		log.WithError(err).Warn("Inference request timed out")
		return backend.Transient(Name, fmt.Sprintf("inference request timed out after %s", a.cfg.Timeout), elapsed)
	}
	log.WithError(err).Warn("Inference request failed")
	return backend.Transient(Name, fmt.Sprintf("inference request failed: %v", err), elapsed)
}

func (a *Adapter) Describe() backend.Metadata {
	tier := backend.TierFree
	if a.cfg.APIKey != "" {
		tier = backend.TierAuthenticated
	}
	return backend.Metadata{
		Name:               Name,
		Kind:               "remote-inference",
		Model:              a.cfg.Model,
		Ready:              a.prepared.Load(),
		CredentialsPresent: a.cfg.APIKey != "",
		RateLimitTier:      tier,
		Device:             "remote",
		Extra: map[string]string{
			"endpoint": a.cfg.Endpoint,
			"timeout":  a.cfg.Timeout.String(),
		},
	}
}

func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

type generation struct {
	GeneratedText *string `json:"generated_text"`
	Error         string  `json:"error"`
}

// parseGeneratedText accepts either a single object or an array of objects
// and returns the first generated_text.
func parseGeneratedText(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", errors.New("empty inference response")
	}

	var gens []generation
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &gens); err != nil {
			return "", fmt.Errorf("decode inference response: %w", err)
		}
	case '{':
		var g generation
		if err := json.Unmarshal(trimmed, &g); err != nil {
			return "", fmt.Errorf("decode inference response: %w", err)
		}
		gens = append(gens, g)
	default:
		return "", fmt.Errorf("unexpected inference response: %s", truncate(trimmed))
	}

	for _, g := range gens {
		if g.GeneratedText != nil {
			return strings.TrimSpace(*g.GeneratedText), nil
		}
		if g.Error != "" {
			return "", fmt.Errorf("inference error: %s", g.Error)
		}
	}
	return "", errors.New("inference response has no generated_text")
}

func estimatedTime(body []byte) float64 {
	var loading struct {
		EstimatedTime float64 `json:"estimated_time"`
	}
	if err := json.Unmarshal(body, &loading); err != nil {
		return 0
	}
	return loading.EstimatedTime
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
