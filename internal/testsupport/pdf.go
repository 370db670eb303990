package testsupport

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"testing"

	"github.com/disintegration/imaging"
)

const emptyPage = "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Resources << >> >>"

// WritePDF writes a one-page document with a correct xref table to path.
// catalogExtra is spliced into the catalog dictionary and extraObjects are
// appended starting at object number 5.
func WritePDF(t testing.TB, path, catalogExtra string, extraObjects ...string) {
	t.Helper()
	writePDF(t, path, emptyPage, catalogExtra, extraObjects...)
}

// WritePDFWithImage writes a one-page document that draws a single 8x8 RGB
// image XObject. filter names the stream filter (for example DCTDecode or
// JPXDecode) and data is the encoded image stream.
func WritePDFWithImage(t testing.TB, path, filter string, data []byte) {
	t.Helper()
	page := "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] " +
		"/Resources << /XObject << /Im1 5 0 R >> >> /Contents 6 0 R >>"
	xobject := fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width 8 /Height 8 "+
		"/ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /%s /Length %d >>\nstream\n%s\nendstream",
		filter, len(data), data)
	content := "q 100 0 0 100 50 50 cm /Im1 Do Q"
	contents := fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)
	writePDF(t, path, page, "", xobject, contents)
}

// JPEGBytes encodes an 8x8 solid image as JPEG, sized for WritePDFWithImage.
func JPEGBytes(t testing.TB, fill color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(8, 8, fill), imaging.JPEG); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func writePDF(t testing.TB, path, page, catalogExtra string, extraObjects ...string) {
	t.Helper()

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R " + catalogExtra + " >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		page,
		"<< /Title (Fixture) /Producer (mediaguard-test) >>",
	}
	objects = append(objects, extraObjects...)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 4 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	mkdirParent(t, path)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write pdf %s: %v", path, err)
	}
}
