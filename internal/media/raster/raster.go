// Package raster decodes still images and prepares them for scoring and
// publishing.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ScoringSize is the square edge length frames are prepared at.
const ScoringSize = 224

// VariantQuality is the JPEG quality used for published variants.
const VariantQuality = 85

// ErrUndecodable is returned when bytes cannot be decoded as an image.
var ErrUndecodable = errors.New("image is not decodable")

// Decode reads an image from path honoring EXIF orientation.
func Decode(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUndecodable, path, err)
	}
	return img, nil
}

// DecodeBytes decodes an in-memory image.
func DecodeBytes(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return img, nil
}

// Config returns the dimensions and format name without decoding pixels.
func Config(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %s: %v", ErrUndecodable, path, err)
	}
	return cfg, format, nil
}

// PrepareForScoring converts img to RGB, center-crops it to a square and
// resizes it to ScoringSize with a bicubic filter.
func PrepareForScoring(img image.Image) *image.NRGBA {
	flat := flatten(img)
	return imaging.Fill(flat, ScoringSize, ScoringSize, imaging.Center, imaging.CatmullRom)
}

// Fit scales img so neither side exceeds maxSide, preserving aspect ratio.
// Images already within bounds are returned unscaled.
func Fit(img image.Image, maxSide int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
}

// EncodeJPEG writes img as JPEG at the given quality onto a white background.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if quality <= 0 {
		quality = VariantQuality
	}
	return jpeg.Encode(w, flatten(img), &jpeg.Options{Quality: quality})
}

// JPEGBytes is EncodeJPEG into a buffer.
func JPEGBytes(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, img, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveJPEG writes a JPEG file to path.
func SaveJPEG(path string, img image.Image, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeJPEG(f, img, quality); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// flatten composites transparency onto white so JPEG encoding and RGB
// scoring see the same pixels.
func flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), image.White.C)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
