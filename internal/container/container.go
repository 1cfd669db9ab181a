package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/anime-shed/text-extractor-go/internal/analyzer"
	"github.com/anime-shed/text-extractor-go/internal/config"
	"github.com/anime-shed/text-extractor-go/internal/factory"
	"github.com/anime-shed/text-extractor-go/internal/logger"
	"github.com/anime-shed/text-extractor-go/internal/normalizer"
	"github.com/anime-shed/text-extractor-go/internal/observer"
	"github.com/anime-shed/text-extractor-go/internal/service"
	"github.com/anime-shed/text-extractor-go/internal/transport"
)

const defaultPrepareRetry = 30 * time.Second

// Container holds all application dependencies
type Container struct {
	config      *config.Config
	registry    *prometheus.Registry
	events      *observer.EventPublisher
	coordinator service.Coordinator
	handler     http.Handler

	prepareRetry time.Duration
}

// NewContainer builds the dependency graph. The backend is created but not
// prepared; call Prepare or PrepareInBackground.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger.SetLevel(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(observer.NewMetricsObserver(registry))

	components := factory.NewComponentFactory(cfg)
	adapter, err := components.BackendFactory.CreateBackend(ctx, cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	images, err := components.StorageFactory.CreateRepository()
	if err != nil {
		_ = adapter.Close()
		return nil, fmt.Errorf("failed to create image repository: %w", err)
	}

	coordinator := service.NewRecognitionCoordinator(adapter, analyzer.NewTextAnalyzer(analyzer.DefaultOptions()), events,
		service.WithItemTimeout(cfg.RequestTimeout))
	handler := transport.NewHandler(transport.Deps{
		Coordinator: coordinator,
		Images:      images,
		Normalizer:  normalizer.New(cfg.MaxImageDimension, nil),
		Registry:    registry,
		Events:      events,
	}, cfg)

	return &Container{
		config:       cfg,
		registry:     registry,
		events:       events,
		coordinator:  coordinator,
		handler:      handler,
		prepareRetry: defaultPrepareRetry,
	}, nil
}

// Prepare readies the backend once.
func (c *Container) Prepare(ctx context.Context) error {
	return c.coordinator.Prepare(ctx)
}

// PrepareInBackground retries Prepare until it succeeds or ctx is done. The
// HTTP server answers 503 on recognition routes until then.
func (c *Container) PrepareInBackground(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			err := c.coordinator.Prepare(ctx)
			if err == nil {
				return
			}
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			logger.FromContext(ctx).WithError(err).
				WithField("retry_in", c.prepareRetry.String()).
				Warn("Backend not ready, will retry")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.prepareRetry):
			}
		}
	}()
	return done
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

func (c *Container) Coordinator() service.Coordinator {
	return c.coordinator
}

// Close releases the backend and waits for pending event deliveries.
func (c *Container) Close() error {
	err := c.coordinator.Close()
	c.events.Flush()
	return err
}
