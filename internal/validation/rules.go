package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRules is wrapped by every error returned from RuleSet.Check.
var ErrInvalidRules = errors.New("invalid validation rules")

var validate = validator.New()

// RuleSet holds the constraints an input must satisfy before it is transcoded.
// A zero dimension bound means the bound is not set.
type RuleSet struct {
	MaxSizeBytes     int64    `mapstructure:"max_size_bytes" json:"maxSizeBytes" validate:"gt=0"`
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types" json:"allowedMimeTypes" validate:"min=1,dive,required"`
	MaxWidth         int      `mapstructure:"max_width" json:"maxWidth,omitempty" validate:"gte=0"`
	MaxHeight        int      `mapstructure:"max_height" json:"maxHeight,omitempty" validate:"gte=0"`
	MinWidth         int      `mapstructure:"min_width" json:"minWidth,omitempty" validate:"gte=0"`
	MinHeight        int      `mapstructure:"min_height" json:"minHeight,omitempty" validate:"gte=0"`
}

// Check reports whether the rule set is well formed.
func (r RuleSet) Check() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if r.MaxWidth > 0 && r.MinWidth > r.MaxWidth {
		return fmt.Errorf("%w: min width %d exceeds max width %d", ErrInvalidRules, r.MinWidth, r.MaxWidth)
	}
	if r.MaxHeight > 0 && r.MinHeight > r.MaxHeight {
		return fmt.Errorf("%w: min height %d exceeds max height %d", ErrInvalidRules, r.MinHeight, r.MaxHeight)
	}
	return nil
}

// HasDimensionBounds reports whether any width or height bound is set.
func (r RuleSet) HasDimensionBounds() bool {
	return r.MaxWidth > 0 || r.MaxHeight > 0 || r.MinWidth > 0 || r.MinHeight > 0
}

// Allows reports whether mimeType is in the allowed set. Matching is case-insensitive.
func (r RuleSet) Allows(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, m := range r.AllowedMimeTypes {
		if strings.ToLower(m) == mimeType {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no memory with r.
func (r RuleSet) Clone() RuleSet {
	c := r
	c.AllowedMimeTypes = append([]string(nil), r.AllowedMimeTypes...)
	return c
}
