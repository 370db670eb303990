package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"mediaguard/internal/fileutil"
	"mediaguard/internal/media/raster"
)

// ErrUnreadable is returned when the file cannot be parsed as a PDF.
var ErrUnreadable = errors.New("pdf is not readable")

// Report summarizes the structural checks run against a document.
type Report struct {
	Pages         int
	EmbeddedFiles int
	OpenAction    bool
	JavaScript    bool
	Launch        bool
	ScriptLinks   int
}

// ActiveContent reports whether the document carries anything that runs or
// unpacks on open, with a short reason.
func (r Report) ActiveContent() (bool, string) {
	switch {
	case r.EmbeddedFiles > 0:
		return true, "embedded files"
	case r.OpenAction:
		return true, "open action"
	case r.JavaScript:
		return true, "javascript"
	case r.Launch:
		return true, "launch action"
	case r.ScriptLinks > 0:
		return true, "javascript link"
	default:
		return false, ""
	}
}

// Inspect parses path and scans every object for active content.
func Inspect(path string) (Report, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	report := Report{Pages: ctx.PageCount}

	catalog, err := ctx.XRefTable.Catalog()
	if err != nil {
		return Report{}, fmt.Errorf("%w: catalog: %v", ErrUnreadable, err)
	}
	if _, ok := catalog["OpenAction"]; ok {
		report.OpenAction = true
	}
	if names, err := ctx.XRefTable.DereferenceDict(catalog["Names"]); err == nil && names != nil {
		if _, ok := names["EmbeddedFiles"]; ok {
			report.EmbeddedFiles++
		}
		if _, ok := names["JavaScript"]; ok {
			report.JavaScript = true
		}
	}

	for _, entry := range ctx.XRefTable.Table {
		if entry == nil || entry.Free || entry.Object == nil {
			continue
		}
		dict, ok := asDict(entry.Object)
		if !ok {
			continue
		}
		scanDict(dict, &report)
	}
	return report, nil
}

func asDict(obj types.Object) (types.Dict, bool) {
	switch v := obj.(type) {
	case types.Dict:
		return v, true
	case types.StreamDict:
		return v.Dict, true
	default:
		return nil, false
	}
}

func nameOf(obj types.Object) string {
	if n, ok := obj.(types.Name); ok {
		return string(n)
	}
	return ""
}

func scanDict(dict types.Dict, report *Report) {
	switch nameOf(dict["Type"]) {
	case "EmbeddedFile":
		report.EmbeddedFiles++
	case "Filespec":
		if _, ok := dict["EF"]; ok {
			report.EmbeddedFiles++
		}
	}
	switch nameOf(dict["S"]) {
	case "JavaScript":
		report.JavaScript = true
	case "Launch":
		report.Launch = true
	}
	if _, ok := dict["JS"]; ok {
		report.JavaScript = true
	}
	if uri, ok := dict["URI"]; ok && strings.Contains(strings.ToLower(uri.String()), "javascript") {
		report.ScriptLinks++
	}
	for _, value := range dict {
		scanValue(value, report)
	}
}

func scanValue(value types.Object, report *Report) {
	switch v := value.(type) {
	case types.Dict:
		scanDict(v, report)
	case types.Array:
		for _, item := range v {
			scanValue(item, report)
		}
	}
}

// Image is one embedded raster image.
type Image struct {
	Page  int
	ObjNr int
	Image image.Image
}

// Images yields each embedded image in page order, deduplicated by page and
// object number. Images that cannot be decoded are yielded as errors and
// iteration continues.
func Images(path string) iter.Seq2[Image, error] {
	return func(yield func(Image, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(Image{}, fmt.Errorf("%w: %v", ErrUnreadable, err))
			return
		}
		defer f.Close()

		pages, err := api.ExtractImagesRaw(f, nil, model.NewDefaultConfiguration())
		if err != nil {
			yield(Image{}, fmt.Errorf("%w: extract images: %v", ErrUnreadable, err))
			return
		}

		type key struct{ page, obj int }
		seen := map[key]bool{}
		for _, byObj := range pages {
			objNrs := make([]int, 0, len(byObj))
			for objNr := range byObj {
				objNrs = append(objNrs, objNr)
			}
			sort.Ints(objNrs)
			for _, objNr := range objNrs {
				raw := byObj[objNr]
				k := key{raw.PageNr, objNr}
				if seen[k] {
					continue
				}
				seen[k] = true
				data, err := io.ReadAll(raw)
				if err != nil {
					if !yield(Image{Page: raw.PageNr, ObjNr: objNr}, err) {
						return
					}
					continue
				}
				img, err := raster.DecodeBytes(data)
				if !yield(Image{Page: raw.PageNr, ObjNr: objNr, Image: img}, err) {
					return
				}
			}
		}
	}
}

// StripMetadata removes the information dictionary and XMP metadata from
// path in place.
func StripMetadata(path string) error {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	ctx.XRefTable.Info = nil
	catalog, err := ctx.XRefTable.Catalog()
	if err != nil {
		return fmt.Errorf("%w: catalog: %v", ErrUnreadable, err)
	}
	delete(catalog, "Metadata")

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := api.WriteContextFile(ctx, tmpPath); err != nil {
		return fmt.Errorf("write stripped pdf: %w", err)
	}
	if err := fileutil.SyncFile(tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace pdf: %w", err)
	}
	return nil
}

// HasHeader reports whether data starts like a PDF file.
func HasHeader(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\n\r "), []byte("%PDF-"))
}
