// Package trocr runs a locally hosted vision encoder-decoder model
// (TrOCR-style, exported to ONNX) with beam search decoding.
package trocr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/text-extractor-go/internal/backend"
	"github.com/anime-shed/text-extractor-go/internal/logger"
	"github.com/anime-shed/text-extractor-go/internal/normalizer"
)

const (
	Name = "trocr"

	// Scores are not derived from logits; every success reports this value.
	placeholderConfidence = 0.85
	defaultNumBeams       = 4
)

// Model runs the vision encoder and hands back a decoder bound to its
// hidden states.
type Model interface {
	Encode(ctx context.Context, pixels []float32) (Decoder, error)
	Close() error
}

// Decoder is a Stepper holding per-image state that must be released.
type Decoder interface {
	Stepper
	Close() error
}

type Config struct {
	EncoderPath string
	DecoderPath string
	VocabPath   string
	// LibraryPath points at the onnxruntime shared library.
	LibraryPath string
	ModelName   string

	NumBeams   int
	StartToken int64
	EOSToken   int64
	PadToken   int64

	// Model and Tokenizer override loading from disk. Used by tests.
	Model     Model
	Tokenizer *Tokenizer
}

type Adapter struct {
	cfg Config

	mu        sync.Mutex
	model     Model
	tokenizer *Tokenizer
	prepared  atomic.Bool
}

func New(cfg Config) *Adapter {
	if cfg.NumBeams <= 0 {
		cfg.NumBeams = defaultNumBeams
	}
	if cfg.StartToken == 0 && cfg.EOSToken == 0 && cfg.PadToken == 0 {
		cfg.StartToken, cfg.EOSToken, cfg.PadToken = 2, 2, 1
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "trocr-onnx"
	}
	return &Adapter{cfg: cfg, model: cfg.Model, tokenizer: cfg.Tokenizer}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Prepare(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.prepared.Load() {
		return nil
	}
	start := time.Now()

	if a.tokenizer == nil {
		tok, err := LoadTokenizer(a.cfg.VocabPath)
		if err != nil {
			return err
		}
		a.tokenizer = tok
	}
	if a.model == nil {
		m, err := OpenModel(a.cfg)
		if err != nil {
			return fmt.Errorf("load trocr model: %w", err)
		}
		a.model = m
	}

	logger.WithFields(logrus.Fields{
		"model":      a.cfg.ModelName,
		"vocab_size": a.tokenizer.Size(),
		"num_beams":  a.cfg.NumBeams,
		"load_time":  time.Since(start).String(),
	}).Info("TrOCR model loaded")
	a.prepared.Store(true)
	return nil
}

// Recognize holds the adapter lock for the whole call; the model is run one
// image at a time.
func (a *Adapter) Recognize(ctx context.Context, img *normalizer.CanonicalImage, maxLength int) (backend.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.prepared.Load() {
		return backend.Result{}, backend.ErrNotPrepared
	}
	if img == nil {
		return backend.Result{}, backend.ErrNilImage
	}
	start := time.Now()
	log := logger.FromContext(ctx).WithFields(logrus.Fields{"backend": Name, "max_length": maxLength})

	dec, err := a.model.Encode(ctx, PixelValues(img.Image()))
	if err != nil {
		return a.failure(log, err, start), nil
	}
	defer func() {
		if err := dec.Close(); err != nil {
			log.WithError(err).Warn("Failed to release decoder state")
		}
	}()

	ids, err := BeamSearch(ctx, dec, SearchConfig{
		NumBeams:      a.cfg.NumBeams,
		MaxLength:     maxLength,
		LengthPenalty: 1.0,
		StartToken:    a.cfg.StartToken,
		EOSToken:      a.cfg.EOSToken,
	})
	if err != nil {
		return a.failure(log, err, start), nil
	}

	text := a.tokenizer.Decode(ids)
	log.WithField("tokens", len(ids)).Debug("Generation finished")
	return backend.Succeeded(Name, text, placeholderConfidence, time.Since(start)).WithDevice("cpu"), nil
}

func (a *Adapter) failure(log *logrus.Entry, err error, start time.Time) backend.Result {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.WithError(err).Warn("Generation interrupted")
		return backend.Transient(Name, fmt.Sprintf("generation interrupted: %v", err), time.Since(start))
	}
	log.WithError(err).Error("Generation failed")
	return backend.Fatal(Name, fmt.Sprintf("generation failed: %v", err), time.Since(start))
}

// Describe does not take the adapter lock, so it never waits on a running
// generation.
func (a *Adapter) Describe() backend.Metadata {
	return backend.Metadata{
		Name:          Name,
		Kind:          "local-model",
		Model:         a.cfg.ModelName,
		Ready:         a.prepared.Load(),
		RateLimitTier: backend.TierLocal,
		Device:        "cpu",
		Extra: map[string]string{
			"num_beams":  fmt.Sprint(a.cfg.NumBeams),
			"image_size": fmt.Sprint(ImageSize),
		},
	}
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model == nil {
		return nil
	}
	err := a.model.Close()
	a.model = nil
	a.prepared.Store(false)
	return err
}
