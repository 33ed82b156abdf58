package media

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is an output image format the transcoder can produce.
type Format string

const (
	FormatWEBP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// ParseFormat converts a user supplied format name into a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "webp":
		return FormatWEBP, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("unsupported output format: %q", s)
	}
}

// String returns the format name.
func (f Format) String() string {
	return string(f)
}

// Valid reports whether f is one of the supported output formats.
func (f Format) Valid() bool {
	switch f {
	case FormatWEBP, FormatJPEG, FormatPNG:
		return true
	default:
		return false
	}
}

// MimeType returns the MIME type written alongside encoded files.
func (f Format) MimeType() string {
	switch f {
	case FormatWEBP:
		return "image/webp"
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension including the leading dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatWEBP, FormatPNG:
		return "." + string(f)
	default:
		return ""
	}
}

// RawInput is an immutable image payload as submitted by a user.
type RawInput struct {
	Name     string
	MimeType string
	Data     []byte
}

// NewRawInput returns a RawInput holding its own copy of data.
func NewRawInput(name, mimeType string, data []byte) RawInput {
	buf := make([]byte, len(data))
	copy(buf, data)
	return RawInput{
		Name:     name,
		MimeType: strings.ToLower(strings.TrimSpace(mimeType)),
		Data:     buf,
	}
}

// Size returns the payload length in bytes.
func (r RawInput) Size() int {
	return len(r.Data)
}

// ReplaceExtension swaps the extension of name for the one of format f.
// Names without an extension get one appended.
func ReplaceExtension(name string, f Format) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		base = "image"
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = "image"
	}
	return stem + f.Extension()
}

// MimeTypeForExtension guesses a MIME type from a file name, used when
// reading local files that carry no declared type.
func MimeTypeForExtension(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
