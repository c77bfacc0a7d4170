package images

import (
	"image"
	"math"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// ImageNet normalization constants used by the pretrained VGG frontend.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// downsampleDivisor is the spatial reduction the density network applies.
// Input dimensions are snapped to a multiple of it so the output map tiles
// the frame exactly.
const downsampleDivisor = 8

const (
	minInputDim = 256
	maxInputDim = 2048
)

// Tensor is a preprocessed frame in CHW float32 layout, ready for a model
// forward pass. It records the original frame geometry so density-map
// coordinates can be mapped back to source pixels.
type Tensor struct {
	// Data holds Channels*Height*Width float32 values.
	Data []float32
	// Channels, Height, Width describe the tensor layout.
	Channels int
	Height   int
	Width    int
	// OriginalWidth and OriginalHeight are the source frame dimensions.
	OriginalWidth  int
	OriginalHeight int
	// ScaleX and ScaleY map tensor coordinates back to source pixels.
	ScaleX float64
	ScaleY float64
}

// Preprocess converts a frame into the tensor layout the density network
// expects: resize by the scale factor, snap dimensions to the network's
// downsampling divisor, normalize with ImageNet statistics, and emit CHW
// float32 data.
//
// The function holds no state and is safe to call concurrently with
// distinct frames.
//
// Arguments:
//   - frame: The frame to preprocess.
//   - scaleFactor: Resize factor in (0, 1]; 0.5 halves each dimension.
//
// Returns:
//   - *Tensor: The preprocessed tensor with mapping metadata.
//   - error: An error if the frame or scale factor is invalid.
func Preprocess(frame Frame, scaleFactor float64) (*Tensor, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if scaleFactor <= 0 || scaleFactor > 1 {
		return nil, errors.Errorf("scale factor must be in (0, 1], got %v", scaleFactor)
	}

	srcW := frame.Width()
	srcH := frame.Height()

	dstW, dstH := targetDimensions(srcW, srcH, scaleFactor)

	img := frame.Image
	if dstW != srcW || dstH != srcH {
		img = resize.Resize(uint(dstW), uint(dstH), img, resize.Lanczos3)
	}

	t := &Tensor{
		Data:           make([]float32, 3*dstH*dstW),
		Channels:       3,
		Height:         dstH,
		Width:          dstW,
		OriginalWidth:  srcW,
		OriginalHeight: srcH,
		ScaleX:         float64(srcW) / float64(dstW),
		ScaleY:         float64(srcH) / float64(dstH),
	}

	plane := dstH * dstW
	bounds := img.Bounds()
	for y := 0; y < dstH; y++ {
		for x := 0; x < dstW; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*dstW + x
			t.Data[i] = (float32(r>>8)/255.0 - imagenetMean[0]) / imagenetStd[0]
			t.Data[plane+i] = (float32(g>>8)/255.0 - imagenetMean[1]) / imagenetStd[1]
			t.Data[2*plane+i] = (float32(b>>8)/255.0 - imagenetMean[2]) / imagenetStd[2]
		}
	}

	return t, nil
}

// targetDimensions applies the scale factor, clamps to sane bounds, and
// snaps both dimensions down to a multiple of the downsampling divisor.
func targetDimensions(w, h int, scale float64) (int, int) {
	dw := int(math.Round(float64(w) * scale))
	dh := int(math.Round(float64(h) * scale))

	dw = clampInt(dw, minInputDim, maxInputDim)
	dh = clampInt(dh, minInputDim, maxInputDim)

	dw = (dw / downsampleDivisor) * downsampleDivisor
	dh = (dh / downsampleDivisor) * downsampleDivisor
	return dw, dh
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MatToImage wraps raw BGR bytes from a capture backend into an image.Image.
// Stride is the number of bytes per row (width*3 when tightly packed).
func MatToImage(data []byte, width, height, stride int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid dimensions: %dx%d", width, height)
	}
	if stride < width*3 || len(data) < stride*height {
		return nil, errors.Errorf("buffer too small for %dx%d frame", width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := data[y*stride:]
		for x := 0; x < width; x++ {
			o := img.PixOffset(x, y)
			// BGR to RGBA.
			img.Pix[o] = row[x*3+2]
			img.Pix[o+1] = row[x*3+1]
			img.Pix[o+2] = row[x*3]
			img.Pix[o+3] = 0xff
		}
	}
	return img, nil
}
