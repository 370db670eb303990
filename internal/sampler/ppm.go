package sampler

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
)

// readPPM decodes one binary (P6) PPM image with an 8-bit max value from r.
// It returns io.EOF when the stream ends cleanly between images.
func readPPM(r *bufio.Reader) (image.Image, error) {
	magic, err := readToken(r)
	if err != nil {
		if errors.Is(err, io.EOF) && magic == "" {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("ppm header: %w", err)
	}
	if magic != "P6" {
		return nil, fmt.Errorf("ppm header: unexpected magic %q", magic)
	}
	var dims [3]int
	for i := range dims {
		tok, err := readToken(r)
		if err != nil {
			return nil, fmt.Errorf("ppm header: %w", err)
		}
		value, err := strconv.Atoi(tok)
		if err != nil || value <= 0 {
			return nil, fmt.Errorf("ppm header: invalid value %q", tok)
		}
		dims[i] = value
	}
	width, height, maxVal := dims[0], dims[1], dims[2]
	if maxVal > 255 {
		return nil, fmt.Errorf("ppm header: unsupported max value %d", maxVal)
	}
	// A single whitespace byte separates the header from the raster.
	if _, err := r.ReadByte(); err != nil {
		return nil, fmt.Errorf("ppm header: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	row := make([]byte, width*3)
	for y := range height {
		if _, err := io.ReadFull(r, row); err != nil {
			return nil, fmt.Errorf("ppm raster: %w", io.ErrUnexpectedEOF)
		}
		offset := y * img.Stride
		for x := range width {
			img.Pix[offset+x*4] = row[x*3]
			img.Pix[offset+x*4+1] = row[x*3+1]
			img.Pix[offset+x*4+2] = row[x*3+2]
			img.Pix[offset+x*4+3] = 0xff
		}
	}
	return img, nil
}

// readToken returns the next whitespace-delimited header token, skipping
// '#' comments. It stops before the delimiter that follows the token.
func readToken(r *bufio.Reader) (string, error) {
	var token []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return string(token), err
		}
		switch {
		case b == '#' && len(token) == 0:
			if _, err := r.ReadString('\n'); err != nil {
				return "", err
			}
		case isSpace(b):
			if len(token) > 0 {
				if err := r.UnreadByte(); err != nil {
					return "", err
				}
				return string(token), nil
			}
		default:
			token = append(token, b)
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}
