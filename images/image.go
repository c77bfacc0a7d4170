// Package images - Frame definition and preprocessing for density estimation.
package images

import (
	"image"
	"time"

	"github.com/pkg/errors"
)

// Frame is a single captured video frame with its provenance.
type Frame struct {
	// Image is the decoded pixel data in the source's native orientation.
	Image image.Image
	// SourceID identifies the capture source that produced the frame.
	SourceID string
	// Number is the sequential frame number within the source.
	Number int
	// Timestamp is the wall-clock capture time.
	Timestamp time.Time
}

// Validate checks that the frame carries a usable pixel buffer.
//
// Returns:
//   - error: An error if the frame has no image or zero dimensions.
func (f Frame) Validate() error {
	if f.Image == nil {
		return errors.New("frame has no image data")
	}
	b := f.Image.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return errors.Errorf("frame has invalid dimensions: %dx%d", b.Dx(), b.Dy())
	}
	return nil
}

// Width returns the frame width in pixels, or 0 for an empty frame.
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels, or 0 for an empty frame.
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}
