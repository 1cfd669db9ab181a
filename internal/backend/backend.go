// Package backend defines the contract every text-recognition backend
// implements and the result values they return.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/anime-shed/text-extractor-go/internal/normalizer"
)

// ErrNotPrepared is returned by Recognize when Prepare has not succeeded.
var ErrNotPrepared = errors.New("backend: recognize called before prepare")

// ErrNilImage is returned by Recognize for a nil image.
var ErrNilImage = errors.New("backend: nil image")

// Outcome classifies a recognition call.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeDegraded  Outcome = "degraded"  // recoverable, e.g. model still loading
	OutcomeTransient Outcome = "transient" // timeout or connection failure
	OutcomeFatal     Outcome = "fatal"
)

// Rate limit tiers reported in Metadata.
const (
	TierAuthenticated = "authenticated"
	TierFree          = "free"
	TierLocal         = "local"
	TierKeyed         = "api-key"
	TierServiceAcct   = "service-account"
)

// Adapter is implemented by each backend family.
//
// Recognize returns a non-nil error only on misuse (ErrNotPrepared,
// ErrNilImage). Operational failures are reported through Result.
type Adapter interface {
	Name() string
	Prepare(ctx context.Context) error
	Recognize(ctx context.Context, img *normalizer.CanonicalImage, maxLength int) (Result, error)
	Describe() Metadata
	Close() error
}

// Result is the outcome of one recognition call. Build it with Succeeded,
// Degraded, Transient or Fatal so that a failed result always has empty text
// and a message.
type Result struct {
	Success        bool          `json:"success"`
	Text           string        `json:"text"`
	Confidence     float64       `json:"confidence"`
	ProcessingTime time.Duration `json:"processing_time"`
	Backend        string        `json:"backend"`
	Message        string        `json:"message,omitempty"`
	Device         string        `json:"device,omitempty"`
	Outcome        Outcome       `json:"outcome"`
}

func Succeeded(backend, text string, confidence float64, elapsed time.Duration) Result {
	return Result{
		Success:        true,
		Text:           text,
		Confidence:     clampConfidence(confidence),
		ProcessingTime: elapsed,
		Backend:        backend,
		Outcome:        OutcomeSuccess,
	}
}

// Degraded is success-shaped but carries no text, only a hint for the caller.
func Degraded(backend, hint string, elapsed time.Duration) Result {
	return Result{
		Success:        true,
		ProcessingTime: elapsed,
		Backend:        backend,
		Message:        hint,
		Outcome:        OutcomeDegraded,
	}
}

func Transient(backend, message string, elapsed time.Duration) Result {
	return failed(backend, message, elapsed, OutcomeTransient)
}

func Fatal(backend, message string, elapsed time.Duration) Result {
	return failed(backend, message, elapsed, OutcomeFatal)
}

func failed(backend, message string, elapsed time.Duration, outcome Outcome) Result {
	if message == "" {
		message = "recognition failed"
	}
	return Result{
		Success:        false,
		ProcessingTime: elapsed,
		Backend:        backend,
		Message:        message,
		Outcome:        outcome,
	}
}

// WithDevice returns a copy of r reporting the inference device.
func (r Result) WithDevice(device string) Result {
	r.Device = device
	return r
}

func clampConfidence(c float64) float64 {
	switch {
	case c != c || c < 0: // NaN or negative
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// Metadata describes an adapter for health and model-info endpoints.
type Metadata struct {
	Name               string            `json:"name"`
	Kind               string            `json:"kind"`
	Model              string            `json:"model,omitempty"`
	Ready              bool              `json:"ready"`
	CredentialsPresent bool              `json:"credentials_present"`
	RateLimitTier      string            `json:"rate_limit_tier"`
	Device             string            `json:"device,omitempty"`
	Languages          []string          `json:"languages,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}
