package imageproc

import (
	"errors"
	"fmt"
)

// ErrEmptyImage is returned for zero-area inputs.
var ErrEmptyImage = errors.New("imageproc: empty image")

func errInvalidBlockSize(n int) error {
	return fmt.Errorf("imageproc: block size must be odd and >= 3 (got %d)", n)
}

func errInvalidWindow(name string, n int) error {
	return fmt.Errorf("imageproc: %s window must be odd and >= 1 (got %d)", name, n)
}
