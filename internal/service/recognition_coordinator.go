// Package service coordinates text recognition across the configured backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/text-extractor-go/internal/analyzer"
	"github.com/anime-shed/text-extractor-go/internal/backend"
	apperrors "github.com/anime-shed/text-extractor-go/internal/errors"
	"github.com/anime-shed/text-extractor-go/internal/logger"
	"github.com/anime-shed/text-extractor-go/internal/normalizer"
	"github.com/anime-shed/text-extractor-go/internal/observer"
)

// State of the coordinator. The only transition is Uninitialized to Ready.
type State int32

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "uninitialized"
}

const notReadyMessage = "Model not loaded. Please try again later."

type Health struct {
	Ready       bool             `json:"ready"`
	BackendName string           `json:"backend_name"`
	Backend     backend.Metadata `json:"backend"`
}

// Coordinator is the single entry point for recognition requests.
type Coordinator interface {
	// Prepare readies the backend. It is idempotent and safe to call
	// concurrently; a failure leaves the coordinator uninitialized.
	Prepare(ctx context.Context) error

	// Extract recognizes text in one image. A degraded backend response is
	// returned with a nil error and a hint in Result.Message.
	Extract(ctx context.Context, img *normalizer.CanonicalImage, maxLength int) (backend.Result, error)

	// ExtractWithExpected is Extract plus an accuracy report when expected
	// is non-empty and recognition produced a result.
	ExtractWithExpected(ctx context.Context, img *normalizer.CanonicalImage, maxLength int, expected string) (backend.Result, *analyzer.Accuracy, error)

	// BatchExtract processes images one after another. Failures are recorded
	// at their index and never stop the batch. With WithItemTimeout each
	// image gets its own deadline.
	BatchExtract(ctx context.Context, imgs []*normalizer.CanonicalImage, maxLength int) []backend.Result

	Health() Health
	Close() error
}

type recognitionCoordinator struct {
	adapter  backend.Adapter
	analyzer analyzer.TextAnalyzer
	events   observer.Subject

	itemTimeout time.Duration

	state     atomic.Int32
	prepareMu sync.Mutex
}

// Option configures a coordinator.
type Option func(*recognitionCoordinator)

// WithItemTimeout gives every image of a batch its own deadline, derived
// from the batch context. Zero leaves items bounded by the batch context.
func WithItemTimeout(d time.Duration) Option {
	return func(c *recognitionCoordinator) {
		c.itemTimeout = d
	}
}

// NewRecognitionCoordinator wraps adapter. events may be nil.
func NewRecognitionCoordinator(adapter backend.Adapter, textAnalyzer analyzer.TextAnalyzer, events observer.Subject, opts ...Option) Coordinator {
	if textAnalyzer == nil {
		textAnalyzer = analyzer.NewTextAnalyzer(analyzer.DefaultOptions())
	}
	c := &recognitionCoordinator{
		adapter:  adapter,
		analyzer: textAnalyzer,
		events:   events,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *recognitionCoordinator) State() State {
	return State(c.state.Load())
}

func (c *recognitionCoordinator) Prepare(ctx context.Context) error {
	if c.State() == StateReady {
		return nil
	}
	c.prepareMu.Lock()
	defer c.prepareMu.Unlock()
	if c.State() == StateReady {
		return nil
	}

	start := time.Now()
	log := logger.FromContext(ctx).WithField("backend", c.adapter.Name())
	log.Info("Preparing recognition backend")
	if err := c.adapter.Prepare(ctx); err != nil {
		log.WithError(err).Error("Failed to prepare recognition backend")
		return fmt.Errorf("prepare %s: %w", c.adapter.Name(), err)
	}
	c.state.Store(int32(StateReady))
	log.WithField("duration", time.Since(start).String()).Info("Recognition backend ready")
	return nil
}

func (c *recognitionCoordinator) Extract(ctx context.Context, img *normalizer.CanonicalImage, maxLength int) (backend.Result, error) {
	if c.State() != StateReady {
		return backend.Result{}, apperrors.NewNotReadyError(notReadyMessage)
	}
	if img == nil {
		return backend.Result{}, apperrors.NewInvalidImageError("No image provided", backend.ErrNilImage)
	}

	name := c.adapter.Name()
	c.publish(ctx, observer.RecognitionEvent{
		EventType: observer.RecognitionStarted,
		Backend:   name,
		Metadata:  map[string]interface{}{"max_length": maxLength, "width": img.Width(), "height": img.Height()},
	})

	res, err := c.adapter.Recognize(ctx, img, maxLength)
	if err != nil {
		c.publish(ctx, observer.RecognitionEvent{
			EventType:    observer.RecognitionFailed,
			Backend:      name,
			Outcome:      string(backend.OutcomeFatal),
			ErrorMessage: err.Error(),
		})
		if errors.Is(err, backend.ErrNotPrepared) {
			return backend.Result{}, apperrors.NewNotReadyError(notReadyMessage)
		}
		return backend.Result{}, apperrors.NewInternalError("Recognition backend misuse", err)
	}

	event := observer.RecognitionEvent{
		Backend:        name,
		ProcessingTime: res.ProcessingTime,
		Success:        res.Success,
		Outcome:        string(res.Outcome),
		ErrorMessage:   res.Message,
	}
	switch res.Outcome {
	case backend.OutcomeSuccess:
		event.EventType = observer.RecognitionCompleted
		event.ErrorMessage = ""
		event.Metadata = map[string]interface{}{"confidence": res.Confidence, "chars": len([]rune(res.Text))}
		c.publish(ctx, event)
		return res, nil
	case backend.OutcomeDegraded:
		event.EventType = observer.RecognitionDegraded
		c.publish(ctx, event)
		return res, nil
	case backend.OutcomeTransient:
		event.EventType = observer.RecognitionFailed
		c.publish(ctx, event)
		return res, apperrors.NewTransientBackendError(res.Message, nil)
	default:
		event.EventType = observer.RecognitionFailed
		c.publish(ctx, event)
		return res, apperrors.NewFatalBackendError("Error processing image", errors.New(res.Message)).WithDetails(res.Message)
	}
}

func (c *recognitionCoordinator) ExtractWithExpected(ctx context.Context, img *normalizer.CanonicalImage, maxLength int, expected string) (backend.Result, *analyzer.Accuracy, error) {
	res, err := c.Extract(ctx, img, maxLength)
	if err != nil || expected == "" || res.Outcome != backend.OutcomeSuccess {
		return res, nil, err
	}
	acc := c.analyzer.Compare(expected, res.Text)
	logger.FromContext(ctx).WithFields(logrus.Fields{
		"cer": acc.CER,
		"wer": acc.WER,
	}).Debug("Computed recognition accuracy")
	return res, &acc, nil
}

func (c *recognitionCoordinator) BatchExtract(ctx context.Context, imgs []*normalizer.CanonicalImage, maxLength int) []backend.Result {
	results := make([]backend.Result, len(imgs))
	for i, img := range imgs {
		results[i] = c.extractItem(ctx, img, maxLength)
	}
	return results
}

func (c *recognitionCoordinator) extractItem(ctx context.Context, img *normalizer.CanonicalImage, maxLength int) backend.Result {
	if c.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.itemTimeout)
		defer cancel()
	}
	res, err := c.Extract(ctx, img, maxLength)
	if err != nil && res.Message == "" {
		res = backend.Fatal(c.adapter.Name(), errorMessage(err), 0)
	}
	return res
}

func (c *recognitionCoordinator) Health() Health {
	return Health{
		Ready:       c.State() == StateReady,
		BackendName: c.adapter.Name(),
		Backend:     c.adapter.Describe(),
	}
}

func (c *recognitionCoordinator) Close() error {
	return c.adapter.Close()
}

func (c *recognitionCoordinator) publish(ctx context.Context, event observer.RecognitionEvent) {
	if c.events == nil {
		return
	}
	if event.Source == "" {
		event.Source = SourceFromContext(ctx)
	}
	c.events.NotifyObservers(ctx, event)
}

func errorMessage(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.Message
	}
	return err.Error()
}
