//go:build !cgo || !ocr

package tesseract

import "errors"

// NewEngine fails in builds without Tesseract. Build with CGO_ENABLED=1 and
// -tags ocr to link libtesseract.
func NewEngine() (Engine, error) {
	return nil, errors.New("built without tesseract support")
}
