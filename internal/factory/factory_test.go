package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anime-shed/text-extractor-go/internal/backend"
	"github.com/anime-shed/text-extractor-go/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		ImageFetchTimeout: 5 * time.Second,
		MaxImageSize:      1 << 20,
		HFInference: config.HFInferenceConfig{
			APIURL:  "https://api-inference.huggingface.co/models/test/model",
			Model:   "test/model",
			Timeout: time.Second,
		},
		Tesseract:   config.TesseractConfig{Languages: "hin+eng", FallbackLanguage: "hin"},
		CloudVision: config.CloudVisionConfig{Endpoint: "https://vision.googleapis.com", APIKey: "k"},
		TrOCR:       config.TrOCRConfig{NumBeams: 4},
	}
}

func TestCreateBackend(t *testing.T) {
	f := NewBackendFactory(testConfig())
	for _, name := range []string{
		config.BackendHFInference,
		config.BackendTesseract,
		config.BackendCloudVision,
		config.BackendTrOCR,
	} {
		t.Run(name, func(t *testing.T) {
			adapter, err := f.CreateBackend(context.Background(), name)
			require.NoError(t, err)
			assert.Equal(t, name, adapter.Name())
			assert.False(t, adapter.Describe().Ready, "adapters start unprepared")
		})
	}
}

func TestCreateBackend_Unsupported(t *testing.T) {
	_, err := NewBackendFactory(testConfig()).CreateBackend(context.Background(), "paddle")
	assert.Error(t, err)
}

func TestCreateBackend_UnreachableCacheIsSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.RedisURL = "not a url"

	adapter, err := NewBackendFactory(cfg).CreateBackend(context.Background(), config.BackendHFInference)
	require.NoError(t, err)
	assert.Equal(t, config.BackendHFInference, adapter.Name())

	_, err = adapter.Recognize(context.Background(), nil, 512)
	assert.ErrorIs(t, err, backend.ErrNotPrepared)
}

func TestCreateRepository(t *testing.T) {
	repo, err := NewStorageFactory(testConfig()).CreateRepository()
	require.NoError(t, err)
	assert.Error(t, repo.ValidateImageURL("ftp://example.com/a.png"))
	assert.NoError(t, repo.ValidateImageURL("https://example.com/a.png"))

	cfg := testConfig()
	cfg.Azure.AccountName = "acct"
	cfg.Azure.AccountKey = "not base64!"
	_, err = NewStorageFactory(cfg).CreateRepository()
	assert.Error(t, err)
}

func TestNewComponentFactory(t *testing.T) {
	cf := NewComponentFactory(testConfig())
	assert.NotNil(t, cf.BackendFactory)
	assert.NotNil(t, cf.StorageFactory)
}
