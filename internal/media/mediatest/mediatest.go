// Package mediatest builds in-memory image fixtures for tests.
package mediatest

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
)

// Gradient returns a w×h RGBA image with a deterministic colour gradient.
func Gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 255) / max(w, 1)),
				G: uint8((y * 255) / max(h, 1)),
				B: uint8(((x + y) * 255) / max(w+h, 1)),
				A: 255,
			})
		}
	}
	return img
}

// Noise returns a w×h image of seeded random pixels, which compresses poorly.
func Noise(w, h int, seed int64) *image.NRGBA {
	r := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(r.Intn(256))
		img.Pix[i+1] = uint8(r.Intn(256))
		img.Pix[i+2] = uint8(r.Intn(256))
		img.Pix[i+3] = 255
	}
	return img
}

// PNG encodes a w×h gradient as PNG.
func PNG(w, h int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Gradient(w, h)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEG encodes a w×h gradient as JPEG at the given quality (1-100).
func JPEG(w, h, quality int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Gradient(w, h), &jpeg.Options{Quality: quality}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// NoisyPNG encodes a w×h noise image as PNG.
func NoisyPNG(w, h int, seed int64) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Noise(w, h, seed)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEGWithOrientation encodes a w×h gradient as JPEG and inserts an EXIF
// APP1 segment whose only IFD entry is the Orientation tag set to o.
// The stored raster stays w×h.
func JPEGWithOrientation(w, h, o int) []byte {
	raw := JPEG(w, h, 90)

	var tiff bytes.Buffer
	tiff.WriteString("MM\x00\x2a")
	binary.Write(&tiff, binary.BigEndian, uint32(8))      // IFD0 offset
	binary.Write(&tiff, binary.BigEndian, uint16(1))      // entry count
	binary.Write(&tiff, binary.BigEndian, uint16(0x0112)) // Orientation
	binary.Write(&tiff, binary.BigEndian, uint16(3))      // SHORT
	binary.Write(&tiff, binary.BigEndian, uint32(1))
	binary.Write(&tiff, binary.BigEndian, uint16(o))
	binary.Write(&tiff, binary.BigEndian, uint16(0))
	binary.Write(&tiff, binary.BigEndian, uint32(0)) // no next IFD

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)

	var out bytes.Buffer
	out.Write(raw[:2]) // SOI
	out.Write([]byte{0xff, 0xe1})
	binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(raw[2:])
	return out.Bytes()
}
