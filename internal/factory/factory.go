package factory

import (
	"context"
	"fmt"

	"github.com/anime-shed/text-extractor-go/internal/backend"
	"github.com/anime-shed/text-extractor-go/internal/backend/cloudvision"
	"github.com/anime-shed/text-extractor-go/internal/backend/hfinference"
	"github.com/anime-shed/text-extractor-go/internal/backend/tesseract"
	"github.com/anime-shed/text-extractor-go/internal/backend/trocr"
	"github.com/anime-shed/text-extractor-go/internal/cache"
	"github.com/anime-shed/text-extractor-go/internal/config"
	"github.com/anime-shed/text-extractor-go/internal/logger"
	"github.com/anime-shed/text-extractor-go/internal/repository"
	"github.com/anime-shed/text-extractor-go/internal/storage"
)

const cachePrefix = "ocr:"

// BackendFactory creates recognition adapters
type BackendFactory interface {
	CreateBackend(ctx context.Context, name string) (backend.Adapter, error)
}

// StorageFactory creates the image repository used by URL requests
type StorageFactory interface {
	CreateRepository() (repository.ImageRepository, error)
}

type backendFactory struct {
	cfg *config.Config
}

// NewBackendFactory creates a backend factory reading settings from cfg
func NewBackendFactory(cfg *config.Config) BackendFactory {
	return &backendFactory{cfg: cfg}
}

// CreateBackend builds the adapter registered under name. When a Redis URL
// is configured the adapter is wrapped with a result cache; an unreachable
// Redis disables caching instead of failing startup.
func (f *backendFactory) CreateBackend(ctx context.Context, name string) (backend.Adapter, error) {
	var adapter backend.Adapter
	switch name {
	case config.BackendHFInference:
		hf := f.cfg.HFInference
		adapter = hfinference.New(hfinference.Config{
			Endpoint: hf.APIURL,
			Model:    hf.Model,
			APIKey:   hf.APIKey,
			Timeout:  hf.Timeout,
		})
	case config.BackendTesseract:
		adapter = tesseract.New(tesseract.Config{
			Languages:        f.cfg.Tesseract.Languages,
			FallbackLanguage: f.cfg.Tesseract.FallbackLanguage,
		})
	case config.BackendCloudVision:
		cv := f.cfg.CloudVision
		adapter = cloudvision.New(cloudvision.Config{
			Endpoint:      cv.Endpoint,
			APIKey:        cv.APIKey,
			LanguageHints: cv.LanguageHints,
			Timeout:       cv.Timeout,
		})
	case config.BackendTrOCR:
		t := f.cfg.TrOCR
		adapter = trocr.New(trocr.Config{
			EncoderPath: t.EncoderPath,
			DecoderPath: t.DecoderPath,
			VocabPath:   t.VocabPath,
			LibraryPath: t.LibraryPath,
			ModelName:   f.cfg.HFInference.Model,
			NumBeams:    t.NumBeams,
		})
	default:
		return nil, fmt.Errorf("unsupported backend: %s", name)
	}

	if f.cfg.Cache.RedisURL == "" {
		return adapter, nil
	}
	store, err := cache.NewRedisCache(ctx, f.cfg.Cache.RedisURL, cachePrefix)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Result cache unavailable, continuing without it")
		return adapter, nil
	}
	return backend.WithCache(adapter, store, f.cfg.Cache.TTL), nil
}

type storageFactory struct {
	cfg *config.Config
}

// NewStorageFactory creates a storage factory reading settings from cfg
func NewStorageFactory(cfg *config.Config) StorageFactory {
	return &storageFactory{cfg: cfg}
}

// CreateRepository wires plain HTTP fetching and, when an account is
// configured, Azure blob access.
func (f *storageFactory) CreateRepository() (repository.ImageRepository, error) {
	opts := storage.DefaultHTTPFetcherOptions()
	opts.Timeout = f.cfg.ImageFetchTimeout
	opts.MaxBytes = f.cfg.MaxImageSize
	fetcher := storage.NewHTTPImageFetcher(opts)

	var blob storage.BlobStorage
	if f.cfg.Azure.AccountName != "" {
		var err error
		blob, err = storage.NewAzureStorage(f.cfg.Azure.AccountName, f.cfg.Azure.AccountKey, f.cfg.MaxImageSize)
		if err != nil {
			return nil, fmt.Errorf("azure storage: %w", err)
		}
	}
	return repository.NewImageRepository(fetcher, blob), nil
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	BackendFactory BackendFactory
	StorageFactory StorageFactory
}

// NewComponentFactory creates a new component factory
func NewComponentFactory(cfg *config.Config) *ComponentFactory {
	return &ComponentFactory{
		BackendFactory: NewBackendFactory(cfg),
		StorageFactory: NewStorageFactory(cfg),
	}
}
