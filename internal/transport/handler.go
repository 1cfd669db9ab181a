package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/text-extractor-go/internal/analyzer"
	"github.com/anime-shed/text-extractor-go/internal/backend"
	"github.com/anime-shed/text-extractor-go/internal/config"
	apperrors "github.com/anime-shed/text-extractor-go/internal/errors"
	"github.com/anime-shed/text-extractor-go/internal/logger"
	"github.com/anime-shed/text-extractor-go/internal/normalizer"
	"github.com/anime-shed/text-extractor-go/internal/observer"
	"github.com/anime-shed/text-extractor-go/internal/repository"
	"github.com/anime-shed/text-extractor-go/internal/service"
	"github.com/anime-shed/text-extractor-go/pkg/models"
	"github.com/anime-shed/text-extractor-go/pkg/validation"
)

const (
	ServiceName = "Hindi OCR API"
	Version     = "1.0.0"
)

// Handler serves the OCR HTTP API.
type Handler struct {
	coordinator service.Coordinator
	images      repository.ImageRepository
	normalizer  *normalizer.Normalizer
	requests    *validation.RequestValidator
	events      observer.Subject
	cfg         *config.Config
}

// Deps are the collaborators of the HTTP layer. Registry and Events may be
// nil.
type Deps struct {
	Coordinator service.Coordinator
	Images      repository.ImageRepository
	Normalizer  *normalizer.Normalizer
	Registry    *prometheus.Registry
	Events      observer.Subject
}

func NewHandler(deps Deps, cfg *config.Config) http.Handler {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	h := &Handler{
		coordinator: deps.Coordinator,
		images:      deps.Images,
		normalizer:  deps.Normalizer,
		requests:    validation.NewRequestValidator(cfg.MaxImageSize, cfg.MaxBatchSize),
		events:      deps.Events,
		cfg:         cfg,
	}
	if h.normalizer == nil {
		h.normalizer = normalizer.New(cfg.MaxImageDimension, nil)
	}

	r := gin.New()
	var metrics *observer.HTTPMetrics
	if deps.Registry != nil {
		metrics = observer.NewHTTPMetrics(deps.Registry)
		r.Use(metrics.Middleware())
	}
	r.Use(
		requestID(),
		h.recovery(),
		requestLogger(),
		cors(cfg.AllowedOrigins),
		requestSizeLimiter(cfg.MaxRequestBodySize),
	)

	r.GET("/", h.serviceInfo)
	r.GET("/health", h.healthCheck)
	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/ocr", h.rateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, metrics))
	api.POST("/extract", h.extractUpload)
	api.POST("/extract-url", h.extractURL)
	api.POST("/extract-base64", h.extractBase64)
	api.POST("/extract-batch", h.extractBatch)
	api.GET("/model-info", h.modelInfo)

	r.NoRoute(func(c *gin.Context) {
		h.respondError(c, apperrors.NewNotFoundError("Not found", nil))
	})
	return r
}

func (h *Handler) serviceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, models.ServiceInfo{
		Name:    ServiceName,
		Version: Version,
		Backend: h.coordinator.Health().BackendName,
		Endpoints: map[string]string{
			"health":         "GET /health",
			"metrics":        "GET /metrics",
			"extract":        "POST /api/ocr/extract",
			"extract_url":    "POST /api/ocr/extract-url",
			"extract_base64": "POST /api/ocr/extract-base64",
			"extract_batch":  "POST /api/ocr/extract-batch",
			"model_info":     "GET /api/ocr/model-info",
		},
	})
}

func (h *Handler) healthCheck(c *gin.Context) {
	health := h.coordinator.Health()
	status := "starting"
	if health.Ready {
		status = "healthy"
	}
	modelName := health.Backend.Model
	if modelName == "" {
		modelName = health.BackendName
	}
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:      status,
		ModelLoaded: health.Ready,
		ModelName:   modelName,
		Backend:     health.BackendName,
		Version:     Version,
	})
}

func (h *Handler) modelInfo(c *gin.Context) {
	health := h.coordinator.Health()
	c.JSON(http.StatusOK, gin.H{
		"model_loaded": health.Ready,
		"backend":      health.Backend,
		"max_length": gin.H{
			"default": validation.DefaultMaxLength,
			"min":     validation.MinMaxLength,
			"max":     validation.MaxMaxLength,
		},
		"max_image_size": h.cfg.MaxImageSize,
		"max_batch_size": h.cfg.MaxBatchSize,
	})
}

func (h *Handler) extractUpload(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		h.respondError(c, apperrors.NewValidationError("No image provided", err))
		return
	}
	opts, err := h.formOptions(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	data, err := h.readUpload(file)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ctx, cancel := h.requestContext(c, service.SourceUpload)
	defer cancel()
	img, err := h.normalizer.FromBytes(ctx, data, h.normalizeOptions(opts))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.recognize(ctx, c, service.SourceUpload, img, opts)
}

func (h *Handler) extractURL(c *gin.Context) {
	var req models.ExtractURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.NewValidationError("Invalid request format", err))
		return
	}
	opts, err := h.jsonOptions(req.Preprocess, req.MaxLength, req.ExpectedText)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.images.ValidateImageURL(req.ImageURL); err != nil {
		h.respondError(c, err)
		return
	}

	fetchCtx, cancelFetch := context.WithTimeout(c.Request.Context(), h.cfg.ImageFetchTimeout)
	defer cancelFetch()
	start := time.Now()
	data, err := h.images.FetchImage(fetchCtx, req.ImageURL)
	h.publishFetch(fetchCtx, req.ImageURL, time.Since(start), err)
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx, cancel := h.requestContext(c, service.SourceURL)
	defer cancel()
	img, err := h.normalizer.FromBytes(ctx, data, h.normalizeOptions(opts))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.recognize(ctx, c, service.SourceURL, img, opts)
}

func (h *Handler) extractBase64(c *gin.Context) {
	var req models.ExtractBase64Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.NewValidationError("Invalid request format", err))
		return
	}
	opts, err := h.jsonOptions(req.Preprocess, req.MaxLength, req.ExpectedText)
	if err != nil {
		h.respondError(c, err)
		return
	}
	data, err := normalizer.DecodeBase64(req.ImageBase64)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.requests.ValidateImageSize(int64(len(data))); err != nil {
		h.respondError(c, err)
		return
	}
	ctx, cancel := h.requestContext(c, service.SourceBase64)
	defer cancel()
	img, err := h.normalizer.FromBytes(ctx, data, h.normalizeOptions(opts))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.recognize(ctx, c, service.SourceBase64, img, opts)
}

func (h *Handler) extractBatch(c *gin.Context) {
	start := time.Now()
	form, err := c.MultipartForm()
	if err != nil {
		h.respondError(c, apperrors.NewValidationError("Invalid multipart form", err))
		return
	}
	files := form.File["images"]
	if err := h.requests.ValidateBatchSize(len(files)); err != nil {
		h.respondError(c, err)
		return
	}
	opts, err := h.formOptions(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !h.coordinator.Health().Ready {
		h.respondError(c, apperrors.NewNotReadyError("Model not loaded. Please try again later."))
		return
	}

	// Each image is bounded on its own, for preprocessing here and for
	// recognition by the coordinator's per-item timeout.
	ctx := service.WithSource(c.Request.Context(), service.SourceBatch)
	results := make([]models.OCRResponse, len(files))
	var (
		imgs    []*normalizer.CanonicalImage
		indexes []int
	)
	for i, file := range files {
		data, err := h.readUpload(file)
		if err == nil {
			var img *normalizer.CanonicalImage
			itemCtx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
			img, err = h.normalizer.FromBytes(itemCtx, data, h.normalizeOptions(opts))
			cancel()
			if err == nil {
				imgs = append(imgs, img)
				indexes = append(indexes, i)
				continue
			}
		}
		results[i] = models.OCRResponse{Success: false, Error: clientMessage(err)}
	}

	for j, res := range h.coordinator.BatchExtract(ctx, imgs, opts.maxLength) {
		i := indexes[j]
		if res.Outcome == backend.OutcomeTransient {
			results[i] = models.OCRResponse{
				Success:        true,
				Text:           "",
				ProcessingTime: res.ProcessingTime.Seconds(),
				Backend:        res.Backend,
				Message:        res.Message,
			}
			continue
		}
		if !res.Success {
			results[i] = models.OCRResponse{
				Success:        false,
				Backend:        res.Backend,
				ProcessingTime: res.ProcessingTime.Seconds(),
				Error:          res.Message,
			}
			continue
		}
		results[i] = toResponse(res, imgs[j], nil)
	}

	logger.FromContext(c.Request.Context()).WithFields(logrus.Fields{
		"images":        len(files),
		"total_time_ms": time.Since(start).Milliseconds(),
	}).Info("Batch extraction completed")

	c.JSON(http.StatusOK, models.BatchOCRResponse{
		Success:     true,
		Results:     results,
		TotalImages: len(files),
		TotalTime:   time.Since(start).Seconds(),
	})
}

// requestContext bounds preprocessing and recognition of a single image.
func (h *Handler) requestContext(c *gin.Context, source string) (context.Context, context.CancelFunc) {
	return context.WithTimeout(service.WithSource(c.Request.Context(), source), h.cfg.RequestTimeout)
}

func (h *Handler) normalizeOptions(opts requestOptions) normalizer.Options {
	return normalizer.Options{Preprocess: opts.preprocess, PreprocessTimeout: h.cfg.PreprocessTimeout}
}

func (h *Handler) recognize(ctx context.Context, c *gin.Context, source string, img *normalizer.CanonicalImage, opts requestOptions) {
	res, acc, err := h.coordinator.ExtractWithExpected(ctx, img, opts.maxLength, opts.expectedText)
	if err != nil {
		// Timeouts and dropped connections are reported as an empty
		// success with a retry hint.
		if apperrors.IsType(err, apperrors.ErrorTypeTransientBackend) {
			c.JSON(http.StatusOK, models.OCRResponse{
				Success:        true,
				Text:           "",
				ProcessingTime: res.ProcessingTime.Seconds(),
				Backend:        res.Backend,
				Message:        res.Message,
			})
			return
		}
		h.respondError(c, err)
		return
	}

	logger.FromContext(ctx).WithFields(logrus.Fields{
		"source":     source,
		"backend":    res.Backend,
		"outcome":    res.Outcome,
		"chars":      len([]rune(res.Text)),
		"confidence": res.Confidence,
	}).Info("Text extraction completed")
	c.JSON(http.StatusOK, toResponse(res, img, acc))
}

func toResponse(res backend.Result, img *normalizer.CanonicalImage, acc *analyzer.Accuracy) models.OCRResponse {
	info := img.OriginalInfo()
	return models.OCRResponse{
		Success:        res.Success,
		Text:           res.Text,
		Confidence:     res.Confidence,
		ProcessingTime: res.ProcessingTime.Seconds(),
		ImageInfo: &models.ImageInfo{
			Width:  info.Width,
			Height: info.Height,
			Mode:   info.Mode,
			Format: info.Format,
		},
		Device:   res.Device,
		Backend:  res.Backend,
		Message:  res.Message,
		Accuracy: acc,
	}
}

type requestOptions struct {
	preprocess   bool
	maxLength    int
	expectedText string
}

func (h *Handler) formOptions(c *gin.Context) (requestOptions, error) {
	opts := requestOptions{preprocess: true, expectedText: c.PostForm("expected_text")}
	if v := c.PostForm("preprocess"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, apperrors.NewValidationError("preprocess must be a boolean", err)
		}
		opts.preprocess = b
	}
	maxLength := 0
	if v := c.PostForm("max_length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, apperrors.NewValidationError("max_length must be an integer", err)
		}
		maxLength = n
	}
	n, err := h.requests.ResolveMaxLength(maxLength)
	if err != nil {
		return opts, err
	}
	opts.maxLength = n
	return opts, nil
}

func (h *Handler) jsonOptions(preprocess *bool, maxLength int, expected string) (requestOptions, error) {
	opts := requestOptions{preprocess: true, expectedText: expected}
	if preprocess != nil {
		opts.preprocess = *preprocess
	}
	n, err := h.requests.ResolveMaxLength(maxLength)
	if err != nil {
		return opts, err
	}
	opts.maxLength = n
	return opts, nil
}

func (h *Handler) readUpload(file *multipart.FileHeader) ([]byte, error) {
	if err := h.requests.ValidateContentType(file.Header.Get("Content-Type")); err != nil {
		return nil, err
	}
	if err := h.requests.ValidateImageSize(file.Size); err != nil {
		return nil, err
	}
	f, err := file.Open()
	if err != nil {
		return nil, apperrors.NewInvalidImageError("Could not read uploaded file", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.NewInvalidImageError("Could not read uploaded file", err)
	}
	return data, nil
}

func (h *Handler) publishFetch(ctx context.Context, imageURL string, elapsed time.Duration, err error) {
	if h.events == nil {
		return
	}
	event := observer.RecognitionEvent{
		EventType:      observer.ImageFetched,
		Source:         service.SourceURL,
		ProcessingTime: elapsed,
		Success:        err == nil,
		Metadata:       map[string]interface{}{"url": imageURL},
	}
	if err != nil {
		event.EventType = observer.ImageFetchFailed
		event.ErrorMessage = err.Error()
	}
	h.events.NotifyObservers(ctx, event)
}

// respondError renders the error envelope. Detail is withheld on 5xx
// responses unless debug mode is on.
func (h *Handler) respondError(c *gin.Context, err error) {
	code := apperrors.GetStatusCode(err)
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		code = http.StatusRequestEntityTooLarge
		err = apperrors.NewValidationError(fmt.Sprintf("Request body exceeds %d bytes", maxBytesErr.Limit), err)
	}

	resp := models.ErrorResponse{
		Success:   false,
		Error:     clientMessage(err),
		RequestID: logger.RequestID(c.Request.Context()),
	}
	if code < http.StatusInternalServerError || h.cfg.Debug {
		resp.Detail = errorDetail(err)
	}

	entry := logger.FromContext(c.Request.Context()).WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}
	c.AbortWithStatusJSON(code, resp)
}

func clientMessage(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.Message
	}
	return "Internal server error"
}

func errorDetail(err error) string {
	appErr, ok := apperrors.As(err)
	if !ok {
		return err.Error()
	}
	if appErr.Details != "" {
		return appErr.Details
	}
	if appErr.Cause != nil {
		return appErr.Cause.Error()
	}
	return ""
}
