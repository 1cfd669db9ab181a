package models

// ExtractURLRequest is the JSON body of POST /api/ocr/extract-url.
type ExtractURLRequest struct {
	ImageURL     string `json:"image_url" binding:"required"`
	Preprocess   *bool  `json:"preprocess,omitempty"`
	MaxLength    int    `json:"max_length,omitempty"`
	ExpectedText string `json:"expected_text,omitempty"`
}

// ExtractBase64Request is the JSON body of POST /api/ocr/extract-base64.
// ImageBase64 may carry a data URI prefix.
type ExtractBase64Request struct {
	ImageBase64  string `json:"image_base64" binding:"required"`
	Preprocess   *bool  `json:"preprocess,omitempty"`
	MaxLength    int    `json:"max_length,omitempty"`
	ExpectedText string `json:"expected_text,omitempty"`
}

// OCRResponse is returned for a single image. Text is empty when Message
// carries a retry hint.
type OCRResponse struct {
	Success        bool       `json:"success"`
	Text           string     `json:"text"`
	Confidence     float64    `json:"confidence"`
	ProcessingTime float64    `json:"processing_time"`
	ImageInfo      *ImageInfo `json:"image_info,omitempty"`
	Device         string     `json:"device,omitempty"`
	Backend        string     `json:"backend,omitempty"`
	Message        string     `json:"message,omitempty"`
	Accuracy       *Accuracy  `json:"accuracy,omitempty"`
	// Error is set on failed entries of a batch.
	Error string `json:"error,omitempty"`
}

type BatchOCRResponse struct {
	Success     bool          `json:"success"`
	Results     []OCRResponse `json:"results"`
	TotalImages int           `json:"total_images"`
	TotalTime   float64       `json:"total_time"`
}

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelName   string `json:"model_name"`
	Backend     string `json:"backend"`
	Version     string `json:"version"`
}

type ServiceInfo struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Backend   string            `json:"backend"`
	Endpoints map[string]string `json:"endpoints"`
}
