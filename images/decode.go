package images

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/cshum/vipsgen/vips"
	"github.com/pkg/errors"
)

// Format identifies the encoding of a snapshot payload.
type Format int

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatWebP
)

// String returns the MIME subtype for the format.
func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	default:
		return "unknown"
	}
}

// SniffFormat inspects the leading bytes of a payload and reports its
// encoding. Returns FormatUnknown when no known signature matches.
func SniffFormat(b []byte) Format {
	switch {
	case len(b) >= 3 && b[0] == 0xff && b[1] == 0xd8 && b[2] == 0xff:
		return FormatJPEG
	case len(b) >= 8 && bytes.Equal(b[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}):
		return FormatPNG
	case len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP")):
		return FormatWebP
	default:
		return FormatUnknown
	}
}

// DecodeSnapshot decodes an encoded snapshot (JPEG, PNG or WebP) into a
// Go-native image.Image, bounding the longer side to maxDim when positive.
// Snapshots arriving over the analyze endpoint are untrusted, so decoding
// goes through vips with FailOnError set.
//
// Arguments:
//   - payload: The encoded image bytes.
//   - maxDim: Upper bound on the longer side in pixels; 0 disables scaling.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if the payload is empty, unrecognized or corrupt.
func DecodeSnapshot(payload []byte, maxDim int) (image.Image, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty snapshot payload")
	}

	format := SniffFormat(payload)
	if format == FormatUnknown {
		return nil, errors.New("unrecognized snapshot format")
	}

	img, err := vips.NewImageFromBuffer(payload, &vips.LoadOptions{
		Access: vips.AccessSequential,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load snapshot")
	}
	defer img.Close()

	if maxDim > 0 && (img.Width() > maxDim || img.Height() > maxDim) {
		err = img.ThumbnailImage(maxDim, &vips.ThumbnailImageOptions{
			Height: maxDim,
			FailOn: vips.FailOnError,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to scale snapshot")
		}
	}

	switch format {
	case FormatPNG:
		buf, err := img.PngsaveBuffer(&vips.PngsaveBufferOptions{})
		if err != nil || len(buf) == 0 {
			return nil, errors.New("failed to encode snapshot")
		}
		decoded, err := png.Decode(bytes.NewReader(buf))
		return decoded, errors.Wrap(err, "failed to decode PNG snapshot")
	case FormatWebP:
		buf, err := img.WebpsaveBuffer(&vips.WebpsaveBufferOptions{})
		if err != nil || len(buf) == 0 {
			return nil, errors.New("failed to encode snapshot")
		}
		decoded, err := webp.Decode(bytes.NewReader(buf))
		return decoded, errors.Wrap(err, "failed to decode WebP snapshot")
	default:
		buf, err := img.JpegsaveBuffer(&vips.JpegsaveBufferOptions{})
		if err != nil || len(buf) == 0 {
			return nil, errors.New("failed to encode snapshot")
		}
		decoded, err := jpeg.Decode(bytes.NewReader(buf))
		return decoded, errors.Wrap(err, "failed to decode JPEG snapshot")
	}
}
