//go:build !gocv

package normalizer

// NewDefaultPreprocessor returns the pure Go preprocessor. Build with -tags gocv
// to use OpenCV instead.
func NewDefaultPreprocessor(p PreprocessParams) Preprocessor {
	return NewGoPreprocessor(p)
}
