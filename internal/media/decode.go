package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxDecodePixels caps the raster size Decode will allocate.
const MaxDecodePixels = 100_000_000

// ErrTooManyPixels is returned when an image header declares a raster larger than MaxDecodePixels.
var ErrTooManyPixels = errors.New("image exceeds maximum pixel count")

// Dimensions are the display dimensions of an image in pixels.
type Dimensions struct {
	Width  int
	Height int
}

// DecodeConfig reads only the image header and returns the display dimensions
// together with the detected container format. EXIF orientations that rotate
// the image by 90 degrees swap width and height.
func DecodeConfig(data []byte) (Dimensions, string, error) {
	if len(data) == 0 {
		return Dimensions{}, "", fmt.Errorf("empty image payload")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dimensions{}, "", fmt.Errorf("decode image header: %w", err)
	}
	dims := Dimensions{Width: cfg.Width, Height: cfg.Height}
	if format == "jpeg" && Orientation(data).SwapsAxes() {
		dims.Width, dims.Height = dims.Height, dims.Width
	}
	return dims, format, nil
}

// Decode fully decodes data into an upright raster.
func Decode(data []byte) (image.Image, error) {
	dims, _, err := DecodeConfig(data)
	if err != nil {
		return nil, err
	}
	if int64(dims.Width)*int64(dims.Height) > MaxDecodePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, dims.Width, dims.Height)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// ExifOrientation is the value of the EXIF Orientation tag (1-8).
type ExifOrientation int

// SwapsAxes reports whether displaying the image requires a 90 degree rotation.
func (o ExifOrientation) SwapsAxes() bool {
	return o >= 5 && o <= 8
}

// Orientation returns the EXIF orientation of data, or 1 when the payload
// carries no readable EXIF block.
func Orientation(data []byte) ExifOrientation {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return ExifOrientation(v)
}
