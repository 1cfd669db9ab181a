// Package backendtest provides a scriptable backend.Adapter for tests.
package backendtest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anime-shed/text-extractor-go/internal/backend"
	"github.com/anime-shed/text-extractor-go/internal/normalizer"
)

// Fake is a backend.Adapter whose results are chosen by a callback.
type Fake struct {
	NameValue  string
	PrepareErr error
	// Respond produces the result for a call; nil means a fixed success.
	Respond func(call int, img *normalizer.CanonicalImage, maxLength int) backend.Result
	// Delay, when set, holds a call for the returned duration. A call whose
	// ctx ends first returns a transient result, as network backends do.
	Delay func(call int) time.Duration

	prepared atomic.Bool
	calls    atomic.Int32
	closed   atomic.Bool

	mu        sync.Mutex
	maxLength []int
}

func (f *Fake) Name() string {
	if f.NameValue == "" {
		return "fake"
	}
	return f.NameValue
}

func (f *Fake) Prepare(ctx context.Context) error {
	if f.PrepareErr != nil {
		return f.PrepareErr
	}
	f.prepared.Store(true)
	return nil
}

func (f *Fake) Recognize(ctx context.Context, img *normalizer.CanonicalImage, maxLength int) (backend.Result, error) {
	if !f.prepared.Load() {
		return backend.Result{}, backend.ErrNotPrepared
	}
	if img == nil {
		return backend.Result{}, backend.ErrNilImage
	}
	call := int(f.calls.Add(1))
	f.mu.Lock()
	f.maxLength = append(f.maxLength, maxLength)
	f.mu.Unlock()

	if f.Delay != nil {
		if d := f.Delay(call); d > 0 {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return backend.Transient(f.Name(), "request timed out, please retry", d), nil
			}
		}
	}
	if f.Respond == nil {
		return backend.Succeeded(f.Name(), "नमस्ते", 0.9, time.Millisecond), nil
	}
	return f.Respond(call, img, maxLength), nil
}

func (f *Fake) Describe() backend.Metadata {
	return backend.Metadata{
		Name:          f.Name(),
		Kind:          "fake",
		Ready:         f.prepared.Load(),
		RateLimitTier: backend.TierLocal,
	}
}

func (f *Fake) Close() error {
	f.closed.Store(true)
	return nil
}

// Calls reports how many Recognize calls reached the callback.
func (f *Fake) Calls() int { return int(f.calls.Load()) }

// Closed reports whether Close was called.
func (f *Fake) Closed() bool { return f.closed.Load() }

// MaxLengths returns the maxLength argument of every call, in order.
func (f *Fake) MaxLengths() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.maxLength...)
}
