// Package tesseract recognizes text with a local Tesseract engine.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/anime-shed/text-extractor-go/internal/backend"
	"github.com/anime-shed/text-extractor-go/internal/imageproc"
	"github.com/anime-shed/text-extractor-go/internal/logger"
	"github.com/anime-shed/text-extractor-go/internal/normalizer"
)

const (
	Name = "tesseract"

	// fallbackConfidence is reported when only the reduced language set worked.
	fallbackConfidence = 0.5
	// blurSigma matches a 5x5 Gaussian kernel.
	blurSigma = 1.0
)

// Output is what an Engine reports for one image. WordConfidences are on the
// engine's 0..100 scale; negative values mean no text was found for a token.
type Output struct {
	Text            string
	WordConfidences []float64
}

// Engine runs OCR on an encoded image. Implementations must be safe for
// concurrent use.
type Engine interface {
	Recognize(ctx context.Context, image []byte, languages []string) (Output, error)
	Version() string
	Close() error
}

type Config struct {
	// Languages is the primary set, "+"-separated (e.g. "hin+eng").
	Languages string
	// FallbackLanguage is tried once when the primary set fails.
	FallbackLanguage string
	// Engine overrides the build default. Used by tests.
	Engine Engine
}

type Adapter struct {
	cfg      Config
	primary  []string
	fallback []string
	mu       sync.RWMutex
	engine   Engine
	prepared bool
}

func New(cfg Config) *Adapter {
	if cfg.Languages == "" {
		cfg.Languages = "hin+eng"
	}
	a := &Adapter{
		cfg:     cfg,
		primary: splitLanguages(cfg.Languages),
		engine:  cfg.Engine,
	}
	if cfg.FallbackLanguage != "" {
		a.fallback = []string{cfg.FallbackLanguage}
	}
	return a
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Prepare(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.prepared {
		return nil
	}
	if a.engine == nil {
		engine, err := NewEngine()
		if err != nil {
			return fmt.Errorf("tesseract engine: %w", err)
		}
		a.engine = engine
	}
	logger.WithFields(logrus.Fields{
		"version":   a.engine.Version(),
		"languages": a.primary,
		"fallback":  a.fallback,
	}).Info("Tesseract engine ready")
	a.prepared = true
	return nil
}

// Recognize ignores maxLength; Tesseract has no generation budget.
func (a *Adapter) Recognize(ctx context.Context, img *normalizer.CanonicalImage, maxLength int) (backend.Result, error) {
	a.mu.RLock()
	engine, prepared := a.engine, a.prepared
	a.mu.RUnlock()
	if !prepared {
		return backend.Result{}, backend.ErrNotPrepared
	}
	if img == nil {
		return backend.Result{}, backend.ErrNilImage
	}
	start := time.Now()
	log := logger.FromContext(ctx).WithField("backend", Name)

	payload, err := Preprocess(img.Image())
	if err != nil {
		return backend.Fatal(Name, err.Error(), time.Since(start)), nil
	}

	out, err := engine.Recognize(ctx, payload, a.primary)
	if err == nil {
		text := strings.TrimSpace(out.Text)
		return backend.Succeeded(Name, text, MeanConfidence(out.WordConfidences), time.Since(start)).WithDevice("cpu"), nil
	}
	if len(a.fallback) == 0 {
		log.WithError(err).Error("Tesseract recognition failed")
		return backend.Fatal(Name, fmt.Sprintf("tesseract failed: %v", err), time.Since(start)), nil
	}

	log.WithError(err).WithField("fallback", a.fallback).Warn("Primary languages failed, retrying with fallback")
	out, fbErr := engine.Recognize(ctx, payload, a.fallback)
	if fbErr != nil {
		log.WithError(fbErr).Error("Tesseract fallback recognition failed")
		return backend.Fatal(Name, fmt.Sprintf("tesseract failed: %v", errors.Join(err, fbErr)), time.Since(start)), nil
	}
	text := strings.TrimSpace(out.Text)
	return backend.Succeeded(Name, text, fallbackConfidence, time.Since(start)).WithDevice("cpu"), nil
}

func (a *Adapter) Describe() backend.Metadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	meta := backend.Metadata{
		Name:          Name,
		Kind:          "local-engine",
		Model:         "tesseract",
		Ready:         a.prepared,
		RateLimitTier: backend.TierLocal,
		Device:        "cpu",
		Languages:     append([]string(nil), a.primary...),
	}
	if a.engine != nil {
		meta.Extra = map[string]string{"version": a.engine.Version()}
	}
	return meta
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine == nil {
		return nil
	}
	return a.engine.Close()
}

// Preprocess applies grayscale, Gaussian blur and an Otsu threshold and
// returns the result PNG-encoded.
func Preprocess(img image.Image) ([]byte, error) {
	gray := imaging.Grayscale(img)
	blurred := imaging.Blur(gray, blurSigma)
	bin := imageproc.Otsu(imageproc.ToGray(blurred))

	var buf bytes.Buffer
	if err := png.Encode(&buf, bin); err != nil {
		return nil, fmt.Errorf("encode preprocessed image: %w", err)
	}
	return buf.Bytes(), nil
}

// MeanConfidence averages the non-negative word confidences and rescales to
// 0..1. It is 0 when no word has a valid confidence.
func MeanConfidence(confs []float64) float64 {
	valid := make([]float64, 0, len(confs))
	for _, c := range confs {
		if c >= 0 {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return 0
	}
	return stat.Mean(valid, nil) / 100
}

func splitLanguages(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "+") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
