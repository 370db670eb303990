package intake

import (
	"bufio"
	"image/gif"
	"os"
)

// isAnimatedGIF reports whether path holds more than one frame.
func isAnimatedGIF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	all, err := gif.DecodeAll(bufio.NewReader(f))
	return err == nil && len(all.Image) > 1
}
