package transcoder

import (
	"errors"
	"fmt"
	"math"

	"image-uploader-go/internal/media"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidOptions is wrapped by every error returned from Options.Check.
var ErrInvalidOptions = errors.New("invalid transcode options")

const (
	// MaxRetries bounds the size-budget loop: one initial encode plus at most
	// this many lower-quality re-encodes.
	MaxRetries = 5
	// QualityStep is subtracted from the quality on every retry.
	QualityStep = 0.2
	// QualityFloor is the lowest quality a retry will request.
	QualityFloor = 0.1
)

var validate = validator.New()

// Options controls a single transcode. Zero MaxWidth, MaxHeight or
// MaxSizeBytes leave the corresponding limit unset.
type Options struct {
	MaxWidth     int          `mapstructure:"max_width" json:"maxWidth,omitempty" validate:"gte=0"`
	MaxHeight    int          `mapstructure:"max_height" json:"maxHeight,omitempty" validate:"gte=0"`
	Quality      float64      `mapstructure:"quality" json:"quality" validate:"gt=0,lte=1"`
	Format       media.Format `mapstructure:"format" json:"format" validate:"required"`
	MaxSizeBytes int64        `mapstructure:"max_size_bytes" json:"maxSizeBytes,omitempty" validate:"gte=0"`
}

// Check reports whether the options are well formed.
func (o Options) Check() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if !o.Format.Valid() {
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidOptions, o.Format)
	}
	return nil
}

// WithQuality returns a copy of o using quality q.
func (o Options) WithQuality(q float64) Options {
	o.Quality = q
	return o
}

// NextQuality returns the quality for the next size-budget retry.
// The result is rounded to two decimals and never drops below QualityFloor.
func NextQuality(q float64) float64 {
	return math.Max(QualityFloor, round2(q-QualityStep))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
