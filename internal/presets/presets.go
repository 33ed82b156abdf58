// Package presets holds the named rule and transcode tables callers pick by
// key instead of building options by hand.
package presets

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"image-uploader-go/internal/media"
	"image-uploader-go/internal/transcoder"
	"image-uploader-go/internal/validation"
)

var (
	// ErrUnknownPreset is returned by Registry.Get for names it does not hold.
	ErrUnknownPreset = errors.New("unknown preset")
	// ErrInvalidPreset wraps rule or option errors of a configured preset.
	ErrInvalidPreset = errors.New("invalid preset")
)

// DefaultName is the preset used when a caller names none.
const DefaultName = "default"

const (
	kb = 1024
	mb = 1024 * kb
)

// Preset is a named combination of validation rules, transcode options and
// a default destination folder.
type Preset struct {
	Name        string             `mapstructure:"name" json:"name"`
	Description string             `mapstructure:"description" json:"description"`
	Folder      string             `mapstructure:"folder" json:"folder"`
	Rules       validation.RuleSet `mapstructure:"rules" json:"rules"`
	Transcode   transcoder.Options `mapstructure:"transcode" json:"transcode"`
}

// Check validates the rules and options of the preset.
func (p Preset) Check() error {
	if err := p.Rules.Check(); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidPreset, p.Name, err)
	}
	if err := p.Transcode.Check(); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidPreset, p.Name, err)
	}
	return nil
}

func (p Preset) clone() Preset {
	p.Rules = p.Rules.Clone()
	return p
}

func commonImageTypes() []string {
	return []string{"image/jpeg", "image/png", "image/webp", "image/gif"}
}

// Builtin returns the built-in presets.
func Builtin() []Preset {
	return []Preset{
		{
			Name:        DefaultName,
			Description: "General purpose uploads for posts and pages",
			Folder:      "uploads",
			Rules: validation.RuleSet{
				MaxSizeBytes:     10 * mb,
				AllowedMimeTypes: commonImageTypes(),
				MaxWidth:         8000,
				MaxHeight:        8000,
				MinWidth:         100,
				MinHeight:        100,
			},
			Transcode: transcoder.Options{
				MaxWidth:     1920,
				MaxHeight:    1080,
				Quality:      0.8,
				Format:       media.FormatWEBP,
				MaxSizeBytes: 500 * kb,
			},
		},
		{
			Name:        "avatar",
			Description: "Small square profile pictures",
			Folder:      "avatars",
			Rules: validation.RuleSet{
				MaxSizeBytes:     5 * mb,
				AllowedMimeTypes: []string{"image/jpeg", "image/png", "image/webp"},
				MaxWidth:         4096,
				MaxHeight:        4096,
				MinWidth:         64,
				MinHeight:        64,
			},
			Transcode: transcoder.Options{
				MaxWidth:     400,
				MaxHeight:    400,
				Quality:      0.85,
				Format:       media.FormatWEBP,
				MaxSizeBytes: 100 * kb,
			},
		},
		{
			Name:        "gallery",
			Description: "Large portfolio images",
			Folder:      "gallery",
			Rules: validation.RuleSet{
				MaxSizeBytes:     20 * mb,
				AllowedMimeTypes: commonImageTypes(),
				MaxWidth:         10000,
				MaxHeight:        10000,
				MinWidth:         200,
				MinHeight:        200,
			},
			Transcode: transcoder.Options{
				MaxWidth:     2560,
				MaxHeight:    1440,
				Quality:      0.85,
				Format:       media.FormatWEBP,
				MaxSizeBytes: 1 * mb,
			},
		},
		{
			Name:        "document",
			Description: "Scans and screenshots where legibility matters",
			Folder:      "documents",
			Rules: validation.RuleSet{
				MaxSizeBytes:     15 * mb,
				AllowedMimeTypes: []string{"image/jpeg", "image/png", "image/webp"},
				MaxWidth:         10000,
				MaxHeight:        10000,
			},
			Transcode: transcoder.Options{
				MaxWidth:     2480,
				MaxHeight:    3508,
				Quality:      0.9,
				Format:       media.FormatJPEG,
				MaxSizeBytes: 2 * mb,
			},
		},
		{
			Name:        "cover",
			Description: "Post and project cover images",
			Folder:      "covers",
			Rules: validation.RuleSet{
				MaxSizeBytes:     10 * mb,
				AllowedMimeTypes: []string{"image/jpeg", "image/png", "image/webp"},
				MaxWidth:         8000,
				MaxHeight:        8000,
				MinWidth:         1200,
				MinHeight:        600,
			},
			Transcode: transcoder.Options{
				MaxWidth:     1600,
				MaxHeight:    900,
				Quality:      0.8,
				Format:       media.FormatJPEG,
				MaxSizeBytes: 300 * kb,
			},
		},
	}
}

// Default returns the built-in default preset.
func Default() Preset {
	return Builtin()[0]
}

// Registry is a read-only lookup table of presets.
type Registry struct {
	presets map[string]Preset
}

// RuleOverride holds the rule fields a config override sets. A nil field
// keeps the base value and an explicit zero clears an optional bound.
type RuleOverride struct {
	MaxSizeBytes     *int64   `mapstructure:"max_size_bytes"`
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types"`
	MaxWidth         *int     `mapstructure:"max_width"`
	MaxHeight        *int     `mapstructure:"max_height"`
	MinWidth         *int     `mapstructure:"min_width"`
	MinHeight        *int     `mapstructure:"min_height"`
}

// TranscodeOverride holds the transcode fields a config override sets.
type TranscodeOverride struct {
	MaxWidth     *int     `mapstructure:"max_width"`
	MaxHeight    *int     `mapstructure:"max_height"`
	Quality      *float64 `mapstructure:"quality"`
	Format       *string  `mapstructure:"format"`
	MaxSizeBytes *int64   `mapstructure:"max_size_bytes"`
}

// Override is a preset entry from the config file.
type Override struct {
	Description *string           `mapstructure:"description"`
	Folder      *string           `mapstructure:"folder"`
	Rules       RuleOverride      `mapstructure:"rules"`
	Transcode   TranscodeOverride `mapstructure:"transcode"`
}

// NewRegistry builds a registry from the built-in presets plus overrides.
// An override replaces the fields it sets on the preset with the same name.
// New names start from the default preset.
func NewRegistry(overrides map[string]Override) (*Registry, error) {
	r := &Registry{presets: make(map[string]Preset)}
	for _, p := range Builtin() {
		r.presets[p.Name] = p
	}

	for name, o := range overrides {
		name = strings.ToLower(strings.TrimSpace(name))
		base, ok := r.presets[name]
		if !ok {
			base = r.presets[DefaultName].clone()
			base.Description = ""
			base.Folder = name
		}
		merged, err := merge(base, o)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidPreset, name, err)
		}
		merged.Name = name
		if err := merged.Check(); err != nil {
			return nil, err
		}
		r.presets[name] = merged
	}
	return r, nil
}

// Get returns the preset called name. An empty name selects the default.
func (r *Registry) Get(name string) (Preset, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultName
	}
	p, ok := r.presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %s (available: %s)", ErrUnknownPreset, name, strings.Join(r.Names(), ", "))
	}
	return p.clone(), nil
}

// Names returns the preset names in alphabetical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.presets))
	for n := range r.presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every preset ordered by name.
func (r *Registry) All() []Preset {
	out := make([]Preset, 0, len(r.presets))
	for _, n := range r.Names() {
		out = append(out, r.presets[n].clone())
	}
	return out
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setInt64(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}

func merge(base Preset, o Override) (Preset, error) {
	if o.Description != nil {
		base.Description = *o.Description
	}
	if o.Folder != nil && *o.Folder != "" {
		base.Folder = *o.Folder
	}

	r := &base.Rules
	setInt64(&r.MaxSizeBytes, o.Rules.MaxSizeBytes)
	if o.Rules.AllowedMimeTypes != nil {
		r.AllowedMimeTypes = append([]string(nil), o.Rules.AllowedMimeTypes...)
	}
	setInt(&r.MaxWidth, o.Rules.MaxWidth)
	setInt(&r.MaxHeight, o.Rules.MaxHeight)
	setInt(&r.MinWidth, o.Rules.MinWidth)
	setInt(&r.MinHeight, o.Rules.MinHeight)

	t := &base.Transcode
	setInt(&t.MaxWidth, o.Transcode.MaxWidth)
	setInt(&t.MaxHeight, o.Transcode.MaxHeight)
	if o.Transcode.Quality != nil {
		t.Quality = *o.Transcode.Quality
	}
	if o.Transcode.Format != nil {
		f, err := media.ParseFormat(*o.Transcode.Format)
		if err != nil {
			return base, err
		}
		t.Format = f
	}
	setInt64(&t.MaxSizeBytes, o.Transcode.MaxSizeBytes)
	return base, nil
}
