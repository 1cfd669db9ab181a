// Package cloudvision recognizes text with the Google Cloud Vision
// images:annotate REST API.
package cloudvision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/anime-shed/text-extractor-go/internal/backend"
	"github.com/anime-shed/text-extractor-go/internal/logger"
	"github.com/anime-shed/text-extractor-go/internal/normalizer"
)

const (
	Name = "cloud-vision"

	DefaultEndpoint = "https://vision.googleapis.com"
	visionScope     = "https://www.googleapis.com/auth/cloud-vision"
	defaultTimeout  = 30 * time.Second

	heuristicBase    = 50.0
	heuristicPerRune = 0.5
	heuristicCap     = 95.0
)

type Config struct {
	Endpoint      string
	APIKey        string
	LanguageHints []string
	Timeout       time.Duration
	// HTTPClient is used as-is when set, skipping credential discovery.
	HTTPClient *http.Client
}

type Adapter struct {
	cfg      Config
	mu       sync.RWMutex
	client   *http.Client
	tier     string
	prepared bool
}

func New(cfg Config) *Adapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.LanguageHints) == 0 {
		cfg.LanguageHints = []string{"hi", "en"}
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Name() string { return Name }

// Prepare resolves credentials. An API key takes precedence over
// Application Default Credentials.
func (a *Adapter) Prepare(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.prepared {
		return nil
	}

	u, err := url.Parse(a.cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid vision endpoint %q", a.cfg.Endpoint)
	}

	switch {
	case a.cfg.HTTPClient != nil:
		a.client = a.cfg.HTTPClient
		a.tier = backend.TierKeyed
		if a.cfg.APIKey == "" {
			a.tier = backend.TierServiceAcct
		}
	case a.cfg.APIKey != "":
		a.client = &http.Client{}
		a.tier = backend.TierKeyed
	default:
		// The token source outlives this call and refreshes in the background.
		ts, err := google.DefaultTokenSource(context.WithoutCancel(ctx), visionScope)
		if err != nil {
			return fmt.Errorf("no vision credentials: set GOOGLE_VISION_API_KEY or application default credentials: %w", err)
		}
		a.client = oauth2.NewClient(context.WithoutCancel(ctx), ts)
		a.tier = backend.TierServiceAcct
	}

	logger.WithFields(logrus.Fields{
		"endpoint":       a.cfg.Endpoint,
		"tier":           a.tier,
		"language_hints": a.cfg.LanguageHints,
	}).Info("Cloud Vision client ready")
	a.prepared = true
	return nil
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image        imageContent  `json:"image"`
	Features     []feature     `json:"features"`
	ImageContext *imageContext `json:"imageContext,omitempty"`
}

type imageContent struct {
	Content string `json:"content"`
}

type feature struct {
	Type string `json:"type"`
}

type imageContext struct {
	LanguageHints []string `json:"languageHints,omitempty"`
}

type annotateResponse struct {
	Responses []imageResponse `json:"responses"`
	Error     *apiError       `json:"error,omitempty"`
}

type imageResponse struct {
	TextAnnotations []textAnnotation `json:"textAnnotations"`
	Error           *apiError        `json:"error,omitempty"`
}

type textAnnotation struct {
	Description string   `json:"description"`
	Locale      string   `json:"locale,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// Recognize ignores maxLength; the API returns the full detected text.
func (a *Adapter) Recognize(ctx context.Context, img *normalizer.CanonicalImage, maxLength int) (backend.Result, error) {
	a.mu.RLock()
	client, prepared := a.client, a.prepared
	a.mu.RUnlock()
	if !prepared {
		return backend.Result{}, backend.ErrNotPrepared
	}
	if img == nil {
		return backend.Result{}, backend.ErrNilImage
	}
	start := time.Now()
	log := logger.FromContext(ctx).WithField("backend", Name)

	raw, _, err := img.Encode("png")
	if err != nil {
		return backend.Fatal(Name, err.Error(), time.Since(start)), nil
	}
	body, err := json.Marshal(annotateRequest{Requests: []imageRequest{{
		Image:        imageContent{Content: base64.StdEncoding.EncodeToString(raw)},
		Features:     []feature{{Type: "TEXT_DETECTION"}},
		ImageContext: &imageContext{LanguageHints: a.cfg.LanguageHints},
	}}})
	if err != nil {
		return backend.Fatal(Name, fmt.Sprintf("encode request: %v", err), time.Since(start)), nil
	}

	status, respBody, err := a.post(ctx, client, body)
	if err != nil {
		if isTimeout(err) {
			log.WithError(err).Warn("Vision request timed out")
			return backend.Transient(Name, fmt.Sprintf("vision request timed out after %s", a.cfg.Timeout), time.Since(start)), nil
		}
		log.WithError(err).Warn("Vision request failed")
		return backend.Transient(Name, fmt.Sprintf("vision request failed: %v", err), time.Since(start)), nil
	}

	var parsed annotateResponse
	decodeErr := json.Unmarshal(respBody, &parsed)
	if status != http.StatusOK {
		msg := fmt.Sprintf("vision API returned status %d", status)
		if decodeErr == nil && parsed.Error != nil {
			msg = fmt.Sprintf("%s: %s", msg, parsed.Error.Message)
		}
		log.WithField("status", status).Error("Vision API returned an error")
		return backend.Fatal(Name, msg, time.Since(start)), nil
	}
	if decodeErr != nil {
		return backend.Fatal(Name, fmt.Sprintf("decode vision response: %v", decodeErr), time.Since(start)), nil
	}
	if parsed.Error != nil {
		return backend.Fatal(Name, "vision API error: "+parsed.Error.Message, time.Since(start)), nil
	}
	if len(parsed.Responses) == 0 {
		return backend.Succeeded(Name, "", 0, time.Since(start)).WithDevice("remote"), nil
	}
	r := parsed.Responses[0]
	if r.Error != nil {
		log.WithField("code", r.Error.Code).Error("Vision annotation failed")
		return backend.Fatal(Name, "vision API error: "+r.Error.Message, time.Since(start)), nil
	}
	if len(r.TextAnnotations) == 0 {
		return backend.Succeeded(Name, "", 0, time.Since(start)).WithDevice("remote"), nil
	}

	text := strings.TrimSpace(r.TextAnnotations[0].Description)
	conf := confidence(text, r.TextAnnotations[1:])
	return backend.Succeeded(Name, text, conf/100, time.Since(start)).WithDevice("remote"), nil
}

func (a *Adapter) post(ctx context.Context, client *http.Client, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	endpoint := strings.TrimRight(a.cfg.Endpoint, "/") + "/v1/images:annotate"
	if a.cfg.APIKey != "" {
		endpoint += "?key=" + url.QueryEscape(a.cfg.APIKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// confidence returns a percentage: the mean word confidence when the API
// reports any, otherwise an estimate from text length capped at 95.
func confidence(text string, words []textAnnotation) float64 {
	var sum float64
	var n int
	for _, w := range words {
		if w.Confidence != nil {
			sum += *w.Confidence * 100
			n++
		}
	}
	if n > 0 {
		return sum / float64(n)
	}
	if text == "" {
		return 0
	}
	return min(heuristicCap, heuristicBase+heuristicPerRune*float64(utf8.RuneCountInString(text)))
}

func (a *Adapter) Describe() backend.Metadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tier := a.tier
	if tier == "" {
		tier = backend.TierServiceAcct
		if a.cfg.APIKey != "" {
			tier = backend.TierKeyed
		}
	}
	return backend.Metadata{
		Name:               Name,
		Kind:               "cloud-api",
		Model:              "TEXT_DETECTION",
		Ready:              a.prepared,
		CredentialsPresent: a.cfg.APIKey != "" || a.client != nil,
		RateLimitTier:      tier,
		Device:             "remote",
		Languages:          append([]string(nil), a.cfg.LanguageHints...),
		Extra:              map[string]string{"endpoint": a.cfg.Endpoint},
	}
}

func (a *Adapter) Close() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client != nil {
		a.client.CloseIdleConnections()
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
