package transcoder

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"math"

	"image-uploader-go/internal/media"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// Encoder serializes a raster into one of the supported output formats.
// quality is in (0,1]; encoders for lossless formats may ignore it.
type Encoder interface {
	Encode(w io.Writer, img image.Image, format media.Format, quality float64) error
}

// ImagingEncoder encodes JPEG and PNG through imaging and lossy WebP through libwebp.
type ImagingEncoder struct{}

// NewImagingEncoder creates a new ImagingEncoder.
func NewImagingEncoder() *ImagingEncoder {
	return &ImagingEncoder{}
}

// Encode implements Encoder.
func (e *ImagingEncoder) Encode(w io.Writer, img image.Image, format media.Format, quality float64) error {
	switch format {
	case media.FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(percent(quality)))
	case media.FormatPNG:
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case media.FormatWEBP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(percent(quality))})
	default:
		return fmt.Errorf("unsupported output format: %q", format)
	}
}

func percent(q float64) int {
	p := int(math.Round(q * 100))
	if p < 1 {
		return 1
	}
	if p > 100 {
		return 100
	}
	return p
}
