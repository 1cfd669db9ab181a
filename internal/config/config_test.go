package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("OCR_BACKEND", "")
	t.Setenv("PORT", "")
	t.Setenv("HUGGINGFACE_MODEL", "")
	t.Setenv("HUGGINGFACE_API_URL", "")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend != BackendHFInference {
		t.Errorf("expected default backend %q, got %q", BackendHFInference, cfg.Backend)
	}
	if cfg.MaxImageDimension != 2048 {
		t.Errorf("expected max dimension 2048, got %d", cfg.MaxImageDimension)
	}
	if cfg.MaxImageSize != 10*1024*1024 {
		t.Errorf("expected 10MB image limit, got %d", cfg.MaxImageSize)
	}
	if cfg.HFInference.APIURL != "https://api-inference.huggingface.co/models/"+defaultHFModel {
		t.Errorf("unexpected api url %q", cfg.HFInference.APIURL)
	}
	if cfg.HFInference.Timeout != 30*time.Second {
		t.Errorf("expected 30s api timeout, got %s", cfg.HFInference.Timeout)
	}
	if cfg.PreprocessTimeout != 10*time.Second {
		t.Errorf("expected 10s preprocess timeout, got %s", cfg.PreprocessTimeout)
	}
	if cfg.ServerAddress() != "0.0.0.0:8000" {
		t.Errorf("unexpected address %q", cfg.ServerAddress())
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("OCR_BACKEND", "Tesseract")
	t.Setenv("API_TIMEOUT", "45")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000, https://example.com ,")
	t.Setenv("DEBUG", "true")
	t.Setenv("PREPROCESS_TIMEOUT", "750ms")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend != BackendTesseract {
		t.Errorf("expected tesseract backend, got %q", cfg.Backend)
	}
	if cfg.HFInference.Timeout != 45*time.Second {
		t.Errorf("expected bare integer to parse as seconds, got %s", cfg.HFInference.Timeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://example.com" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if !cfg.Debug {
		t.Error("expected debug mode")
	}
	if cfg.PreprocessTimeout != 750*time.Millisecond {
		t.Errorf("expected 750ms preprocess timeout, got %s", cfg.PreprocessTimeout)
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "99999"},
		{"unknown backend", "OCR_BACKEND", "abacus"},
		{"tiny dimension", "MAX_IMAGE_DIMENSION", "8"},
		{"image larger than body", "MAX_IMAGE_SIZE", "999999999999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
