//go:build !cgo || !onnx

package trocr

import "errors"

// OpenModel fails in builds without onnxruntime. Build with CGO_ENABLED=1
// and -tags onnx to enable the local model.
func OpenModel(Config) (Model, error) {
	return nil, errors.New("built without onnxruntime support")
}
