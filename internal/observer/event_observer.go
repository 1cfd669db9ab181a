package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RecognitionEvent describes one step of handling an OCR request.
type RecognitionEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	Backend        string                 `json:"backend"`
	Source         string                 `json:"source,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Success        bool                   `json:"success"`
	Outcome        string                 `json:"outcome,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

type EventType string

const (
	RecognitionStarted   EventType = "recognition_started"
	RecognitionCompleted EventType = "recognition_completed"
	// RecognitionDegraded is a success-shaped result without text, e.g. a
	// remote model that is still loading.
	RecognitionDegraded EventType = "recognition_degraded"
	RecognitionFailed   EventType = "recognition_failed"
	ImageFetched        EventType = "image_fetched"
	ImageFetchFailed    EventType = "image_fetch_failed"
)

type Observer interface {
	OnEvent(ctx context.Context, event RecognitionEvent)
	GetObserverName() string
}

type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event RecognitionEvent)
}

// LoggingObserver writes every event as a structured log line.
type LoggingObserver struct {
	logger *logrus.Logger
}

func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) OnEvent(ctx context.Context, event RecognitionEvent) {
	fields := logrus.Fields{
		"event_type":      event.EventType,
		"backend":         event.Backend,
		"processing_time": event.ProcessingTime.String(),
		"success":         event.Success,
	}
	if event.Source != "" {
		fields["source"] = event.Source
	}
	if event.Outcome != "" {
		fields["outcome"] = event.Outcome
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithContext(ctx).WithFields(fields)
	switch event.EventType {
	case RecognitionStarted, ImageFetched:
		entry.Debug("Recognition event")
	case RecognitionCompleted:
		entry.Info("Text recognition completed")
	case RecognitionDegraded:
		entry.Warn("Text recognition degraded")
	case RecognitionFailed:
		entry.Error("Text recognition failed")
	case ImageFetchFailed:
		entry.Error("Image fetch failed")
	default:
		entry.Info("Recognition event occurred")
	}
}

func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// EventPublisher fans events out to observers on separate goroutines.
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
	pending   sync.WaitGroup
}

func NewEventPublisher() *EventPublisher {
	return &EventPublisher{}
}

func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i:i], p.observers[i+1:]...)
			return
		}
	}
}

// NotifyObservers does not block on observers. Use Flush to wait for
// delivery.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event RecognitionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	// Delivery outlives the request.
	ctx = context.WithoutCancel(ctx)
	for _, observer := range observers {
		p.pending.Add(1)
		go func(obs Observer) {
			defer p.pending.Done()
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}

// Flush waits for all in-flight deliveries.
func (p *EventPublisher) Flush() {
	p.pending.Wait()
}
