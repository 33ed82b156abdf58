// Package validation checks raw uploads against a RuleSet before any
// expensive work is done on them.
//
// Validation is total: every problem, including an undecodable payload, is
// reported as a violation string and never as an error.
package validation

import (
	"fmt"
	"strings"

	"image-uploader-go/internal/media"
)

// Outcome is the result of validating one input.
type Outcome struct {
	OK         bool     `json:"ok"`
	Violations []string `json:"violations,omitempty"`
	Width      int      `json:"width,omitempty"`
	Height     int      `json:"height,omitempty"`
}

// Validator validates inputs. The batch coordinator depends on this interface.
type Validator interface {
	Validate(input media.RawInput, rules RuleSet) Outcome
}

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc func(input media.RawInput, rules RuleSet) Outcome

// Validate calls f.
func (f ValidatorFunc) Validate(input media.RawInput, rules RuleSet) Outcome {
	return f(input, rules)
}

// Engine is the default Validator.
var Engine Validator = ValidatorFunc(Validate)

// Validate runs every check in rules against input and collects all violations.
func Validate(input media.RawInput, rules RuleSet) Outcome {
	var violations []string

	if !rules.Allows(input.MimeType) {
		violations = append(violations, fmt.Sprintf("file type %s is not allowed (allowed: %s)",
			displayMime(input.MimeType), strings.Join(rules.AllowedMimeTypes, ", ")))
	}

	if rules.MaxSizeBytes > 0 && int64(input.Size()) > rules.MaxSizeBytes {
		violations = append(violations, fmt.Sprintf("file size %s exceeds maximum of %s",
			formatKB(int64(input.Size())), formatKB(rules.MaxSizeBytes)))
	}

	out := Outcome{}
	if rules.HasDimensionBounds() {
		dims, _, err := media.DecodeConfig(input.Data)
		if err != nil {
			violations = append(violations, fmt.Sprintf("could not read image dimensions: %v", err))
		} else {
			out.Width, out.Height = dims.Width, dims.Height
			violations = append(violations, checkDimensions(dims, rules)...)
		}
	}

	out.Violations = violations
	out.OK = len(violations) == 0
	return out
}

func checkDimensions(d media.Dimensions, r RuleSet) []string {
	var v []string
	if r.MaxWidth > 0 && d.Width > r.MaxWidth {
		v = append(v, fmt.Sprintf("image width %dpx exceeds maximum of %dpx", d.Width, r.MaxWidth))
	}
	if r.MaxHeight > 0 && d.Height > r.MaxHeight {
		v = append(v, fmt.Sprintf("image height %dpx exceeds maximum of %dpx", d.Height, r.MaxHeight))
	}
	if r.MinWidth > 0 && d.Width < r.MinWidth {
		v = append(v, fmt.Sprintf("image width %dpx is below minimum of %dpx", d.Width, r.MinWidth))
	}
	if r.MinHeight > 0 && d.Height < r.MinHeight {
		v = append(v, fmt.Sprintf("image height %dpx is below minimum of %dpx", d.Height, r.MinHeight))
	}
	return v
}

func formatKB(n int64) string {
	return fmt.Sprintf("%.1fKB", float64(n)/1024)
}

func displayMime(m string) string {
	if m == "" {
		return "(unknown)"
	}
	return m
}
