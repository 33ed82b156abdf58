// Package transcoder decodes uploaded images, fits them into a bounding box,
// and re-encodes them to a target format under an optional byte budget.
package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"image-uploader-go/internal/logger"
	"image-uploader-go/internal/media"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// Outcome describes the result of transcoding a single input.
// On failure File holds the original input unchanged.
type Outcome struct {
	OK                      bool            `json:"ok"`
	InputBytes              int             `json:"inputBytes"`
	OutputBytes             int             `json:"outputBytes"`
	CompressionRatioPercent float64         `json:"compressionRatioPercent"`
	File                    *media.RawInput `json:"-"`
	Width                   int             `json:"width,omitempty"`
	Height                  int             `json:"height,omitempty"`
	Quality                 float64         `json:"quality,omitempty"`
	Attempts                int             `json:"attempts,omitempty"`
	WithinBudget            bool            `json:"withinBudget"`
	Duration                time.Duration   `json:"duration"`
	Error                   string          `json:"error,omitempty"`
}

// Transcoder defines the interface for image transcoding.
type Transcoder interface {
	// Transcode never returns an error; faults are reported through Outcome.
	Transcode(ctx context.Context, input media.RawInput, opts Options) Outcome
}

// DefaultTranscoder is the default implementation of the Transcoder interface.
type DefaultTranscoder struct {
	encoder Encoder
	logger  logrus.FieldLogger
}

// NewDefaultTranscoder creates a DefaultTranscoder. A nil encoder selects
// ImagingEncoder and a nil logger discards output.
func NewDefaultTranscoder(encoder Encoder, log logrus.FieldLogger) *DefaultTranscoder {
	if encoder == nil {
		encoder = NewImagingEncoder()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &DefaultTranscoder{encoder: encoder, logger: log}
}

type attempt struct {
	data    []byte
	quality float64
}

// Transcode implements Transcoder.
func (t *DefaultTranscoder) Transcode(ctx context.Context, input media.RawInput, opts Options) Outcome {
	start := time.Now()
	log := logger.WithFileOperation(t.logger, input.Name, "transcode")

	fail := func(err error) Outcome {
		log.WithError(err).Debug("transcode failed")
		original := input
		return Outcome{
			InputBytes:  input.Size(),
			OutputBytes: input.Size(),
			File:        &original,
			Duration:    time.Since(start),
			Error:       err.Error(),
		}
	}

	if err := opts.Check(); err != nil {
		return fail(err)
	}

	src, err := media.Decode(input.Data)
	if err != nil {
		return fail(err)
	}

	bounds := src.Bounds()
	width, height := FitDimensions(bounds.Dx(), bounds.Dy(), opts.MaxWidth, opts.MaxHeight)
	surface := render(src, width, height, opts.Format)

	var (
		best     *attempt
		fits     bool
		attempts int
		current  = opts
	)
	for retry := 0; ; retry++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		var buf bytes.Buffer
		if err := t.encoder.Encode(&buf, surface, current.Format, current.Quality); err != nil {
			return fail(fmt.Errorf("encode %s: %w", current.Format, err))
		}
		attempts++

		a := &attempt{data: buf.Bytes(), quality: current.Quality}
		if best == nil || len(a.data) < len(best.data) {
			best = a
		}
		if opts.MaxSizeBytes <= 0 || int64(len(a.data)) <= opts.MaxSizeBytes {
			best, fits = a, true
			break
		}
		if retry >= MaxRetries {
			break
		}
		next := NextQuality(current.Quality)
		if next >= current.Quality {
			break
		}
		log.WithFields(logrus.Fields{
			"size":    len(a.data),
			"budget":  opts.MaxSizeBytes,
			"quality": next,
		}).Debug("output over budget, retrying at lower quality")
		current = current.WithQuality(next)
	}

	if !fits {
		log.WithFields(logrus.Fields{
			"size":     len(best.data),
			"budget":   opts.MaxSizeBytes,
			"attempts": attempts,
		}).Warn("no attempt met the size budget, keeping the smallest")
	}

	out := media.RawInput{
		Name:     media.ReplaceExtension(input.Name, opts.Format),
		MimeType: opts.Format.MimeType(),
		Data:     best.data,
	}
	return Outcome{
		OK:                      true,
		InputBytes:              input.Size(),
		OutputBytes:             out.Size(),
		CompressionRatioPercent: CompressionRatio(input.Size(), out.Size()),
		File:                    &out,
		Width:                   width,
		Height:                  height,
		Quality:                 best.quality,
		Attempts:                attempts,
		WithinBudget:            fits,
		Duration:                time.Since(start),
	}
}

// FitDimensions scales w×h down to fit maxW and then maxH, preserving the
// aspect ratio. The width clamp is applied first and the height clamp works
// from its result. Zero bounds are ignored.
func FitDimensions(w, h, maxW, maxH int) (int, int) {
	fw, fh := float64(w), float64(h)
	if maxW > 0 && fw > float64(maxW) {
		fh = fh * float64(maxW) / fw
		fw = float64(maxW)
	}
	if maxH > 0 && fh > float64(maxH) {
		fw = fw * float64(maxH) / fh
		fh = float64(maxH)
	}
	return max(1, int(math.Round(fw))), max(1, int(math.Round(fh)))
}

// CompressionRatio returns the percentage saved going from in to out bytes.
// It is negative when the output is larger.
func CompressionRatio(in, out int) float64 {
	if in == 0 {
		return 0
	}
	return float64(in-out) / float64(in) * 100
}

func render(src image.Image, width, height int, format media.Format) *image.NRGBA {
	var surface *image.NRGBA
	if b := src.Bounds(); b.Dx() == width && b.Dy() == height {
		surface = imaging.Clone(src)
	} else {
		surface = imaging.Resize(src, width, height, imaging.Lanczos)
	}
	if format == media.FormatJPEG {
		bg := imaging.New(width, height, color.White)
		surface = imaging.Overlay(bg, surface, image.Pt(0, 0), 1.0)
	}
	return surface
}
