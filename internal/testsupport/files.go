package testsupport

import (
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

// WriteFile creates path with size bytes of filler content, creating parent
// directories as needed. Sizes below one byte write a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	mkdirParent(t, path)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	if _, err := io.CopyN(f, filler{}, max(size, 1)); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// filler is an endless reader of 'B' bytes.
type filler struct{}

func (filler) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'B'
	}
	return len(p), nil
}

func mkdirParent(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
}

// WriteImage writes a solid-colour image in the format implied by the path
// extension.
func WriteImage(t testing.TB, path string, width, height int, fill color.Color) {
	t.Helper()

	mkdirParent(t, path)
	img := imaging.New(width, height, fill)
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save image %s: %v", path, err)
	}
}
