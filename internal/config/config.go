package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendHFInference = "hf-inference"
	BackendTesseract   = "tesseract"
	BackendCloudVision = "cloud-vision"
	BackendTrOCR       = "trocr"
)

const defaultHFModel = "sabaridsnfuji/Hindi_Offline_Handwritten_OCR"

type Config struct {
	Host               string
	Port               string
	Debug              bool
	LogLevel           string
	RequestTimeout     time.Duration
	ImageFetchTimeout  time.Duration
	PreprocessTimeout  time.Duration
	MaxRequestBodySize int64
	MaxImageSize       int64
	MaxImageDimension  int
	MaxBatchSize       int
	AllowedOrigins     []string
	RateLimitRPS       float64
	RateLimitBurst     int

	Backend     string
	HFInference HFInferenceConfig
	Tesseract   TesseractConfig
	CloudVision CloudVisionConfig
	TrOCR       TrOCRConfig
	Azure       AzureConfig
	Cache       CacheConfig
}

type HFInferenceConfig struct {
	APIKey  string
	Model   string
	APIURL  string
	Timeout time.Duration
}

type TesseractConfig struct {
	Languages        string
	FallbackLanguage string
}

type CloudVisionConfig struct {
	APIKey        string
	Endpoint      string
	LanguageHints []string
	Timeout       time.Duration
}

type TrOCRConfig struct {
	EncoderPath string
	DecoderPath string
	VocabPath   string
	LibraryPath string
	NumBeams    int
}

type AzureConfig struct {
	AccountName string
	AccountKey  string
}

type CacheConfig struct {
	RedisURL string
	TTL      time.Duration
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// LoadFromEnv reads configuration from the environment. A .env file in the
// working directory, when present, is loaded first and never overrides
// variables that are already set.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	model := getEnvOrDefault("HUGGINGFACE_MODEL", defaultHFModel)
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8000"),
		Debug:              parseBoolOrDefault("DEBUG", false),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 60*time.Second),
		ImageFetchTimeout:  parseDurationOrDefault("IMAGE_FETCH_TIMEOUT", 30*time.Second),
		PreprocessTimeout:  parseDurationOrDefault("PREPROCESS_TIMEOUT", 10*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 50*1024*1024),
		MaxImageSize:       parseIntOrDefault("MAX_IMAGE_SIZE", 10*1024*1024),
		MaxImageDimension:  int(parseIntOrDefault("MAX_IMAGE_DIMENSION", 2048)),
		MaxBatchSize:       int(parseIntOrDefault("MAX_BATCH_SIZE", 10)),
		AllowedOrigins:     parseListOrDefault("ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:       parseFloatOrDefault("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     int(parseIntOrDefault("RATE_LIMIT_BURST", 10)),

		Backend: strings.ToLower(getEnvOrDefault("OCR_BACKEND", BackendHFInference)),
		HFInference: HFInferenceConfig{
			APIKey:  os.Getenv("HUGGINGFACE_API_KEY"),
			Model:   model,
			APIURL:  getEnvOrDefault("HUGGINGFACE_API_URL", "https://api-inference.huggingface.co/models/"+model),
			Timeout: parseDurationOrDefault("API_TIMEOUT", 30*time.Second),
		},
		Tesseract: TesseractConfig{
			Languages:        getEnvOrDefault("TESSERACT_LANGUAGES", "hin+eng"),
			FallbackLanguage: getEnvOrDefault("TESSERACT_FALLBACK_LANGUAGE", "hin"),
		},
		CloudVision: CloudVisionConfig{
			APIKey:        os.Getenv("GOOGLE_VISION_API_KEY"),
			Endpoint:      getEnvOrDefault("GOOGLE_VISION_ENDPOINT", "https://vision.googleapis.com"),
			LanguageHints: parseListOrDefault("GOOGLE_VISION_LANGUAGE_HINTS", []string{"hi", "en"}),
			Timeout:       parseDurationOrDefault("API_TIMEOUT", 30*time.Second),
		},
		TrOCR: TrOCRConfig{
			EncoderPath: getEnvOrDefault("TROCR_ENCODER_PATH", "models/trocr/encoder_model.onnx"),
			DecoderPath: getEnvOrDefault("TROCR_DECODER_PATH", "models/trocr/decoder_model.onnx"),
			VocabPath:   getEnvOrDefault("TROCR_VOCAB_PATH", "models/trocr/vocab.json"),
			LibraryPath: os.Getenv("ONNXRUNTIME_LIB"),
			NumBeams:    int(parseIntOrDefault("TROCR_NUM_BEAMS", 4)),
		},
		Azure: AzureConfig{
			AccountName: os.Getenv("AZURE_STORAGE_ACCOUNT"),
			AccountKey:  os.Getenv("AZURE_STORAGE_KEY"),
		},
		Cache: CacheConfig{
			RedisURL: os.Getenv("REDIS_URL"),
			TTL:      parseDurationOrDefault("CACHE_TTL", time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.MaxImageSize <= 0 || c.MaxImageSize > c.MaxRequestBodySize {
		return fmt.Errorf("MAX_IMAGE_SIZE must be in (0, %d] (got %d)", c.MaxRequestBodySize, c.MaxImageSize)
	}
	if c.MaxImageDimension < 32 {
		return fmt.Errorf("MAX_IMAGE_DIMENSION must be >= 32 (got %d)", c.MaxImageDimension)
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("MAX_BATCH_SIZE must be >= 1 (got %d)", c.MaxBatchSize)
	}
	if c.RequestTimeout <= 0 || c.ImageFetchTimeout <= 0 || c.HFInference.Timeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, fetch=%s, api=%s)",
			c.RequestTimeout, c.ImageFetchTimeout, c.HFInference.Timeout)
	}
	if c.PreprocessTimeout < 0 {
		return fmt.Errorf("PREPROCESS_TIMEOUT must be >= 0 (got %s)", c.PreprocessTimeout)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit values must be >= 0 (got rps=%v, burst=%d)", c.RateLimitRPS, c.RateLimitBurst)
	}

	switch c.Backend {
	case BackendHFInference:
		if strings.TrimSpace(c.HFInference.APIURL) == "" {
			return fmt.Errorf("HUGGINGFACE_API_URL must not be empty")
		}
	case BackendTesseract:
		if strings.TrimSpace(c.Tesseract.Languages) == "" {
			return fmt.Errorf("TESSERACT_LANGUAGES must not be empty")
		}
	case BackendCloudVision:
		if strings.TrimSpace(c.CloudVision.Endpoint) == "" {
			return fmt.Errorf("GOOGLE_VISION_ENDPOINT must not be empty")
		}
	case BackendTrOCR:
		if c.TrOCR.NumBeams < 1 {
			return fmt.Errorf("TROCR_NUM_BEAMS must be >= 1 (got %d)", c.TrOCR.NumBeams)
		}
	default:
		return fmt.Errorf("unsupported OCR_BACKEND: %q", c.Backend)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		value = strings.TrimSpace(value)
		if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
			return duration
		}
		// bare integers are seconds
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
