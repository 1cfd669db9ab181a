package models

// Accuracy compares extracted text against a caller-supplied reference.
type Accuracy struct {
	CER          float64 `json:"cer"`
	WER          float64 `json:"wer"`
	MatchScore   float64 `json:"match_score"`
	EditDistance int     `json:"edit_distance"`
	ExactMatch   bool    `json:"exact_match"`
	// ReferenceWords is the word count WER was computed over.
	ReferenceWords int `json:"reference_words"`
}

// ImageInfo describes the uploaded image before normalization.
type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Mode   string `json:"mode"`
	Format string `json:"format"`
}
