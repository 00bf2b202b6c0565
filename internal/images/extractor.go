package images

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"paperreader/internal/domain"
)

// Extractor saves the raster images embedded in a PDF, one file per image
// object, named img_001, img_002, ... in page order.
type Extractor struct {
	logger domain.Logger
}

// NewExtractor creates a new image extractor
func NewExtractor(logger domain.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// ImageID returns the identifier of the n-th extracted image, 1-based.
func ImageID(n int) string {
	return fmt.Sprintf("img_%03d", n)
}

// Extract writes every distinct image of sourcePath into outputDir and
// returns their ids. Images are keyed by PDF object number: an image object
// drawn on several pages is written once, while two objects with identical
// bytes are both written. Running it twice into the same non-empty outputDir
// is not idempotent; callers clear the directory first. On error, files
// already written stay.
func (e *Extractor) Extract(ctx context.Context, sourcePath, docID, outputDir string) ([]string, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	// No optimize pass: it merges byte-identical image objects.
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pdfCtx, err := api.ReadAndValidate(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}

	seen := make(map[int]bool)
	var ids []string
	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return ids, err
		}

		refs, err := pageImageRefs(pdfCtx, pageNr)
		if err != nil {
			return ids, fmt.Errorf("walk images of page %d: %w", pageNr, err)
		}

		for _, ref := range refs {
			if seen[ref.objNr] {
				continue
			}
			seen[ref.objNr] = true

			img, err := pdfcpu.ExtractImage(pdfCtx, ref.sd, false, ref.name, ref.objNr, false)
			if err != nil {
				return ids, fmt.Errorf("extract image obj %d on page %d: %w", ref.objNr, pageNr, err)
			}
			if img == nil || img.Reader == nil {
				e.logger.Warn("Skipping image with unsupported encoding", "doc_id", docID, "page", pageNr, "obj_nr", ref.objNr)
				continue
			}

			id := ImageID(len(ids) + 1)
			if err := writeImage(outputDir, id, *img); err != nil {
				return ids, err
			}
			ids = append(ids, id)
			e.logger.Debug("Extracted image", "doc_id", docID, "image_id", id, "page", pageNr, "obj_nr", ref.objNr, "type", img.FileType)
		}
	}

	e.logger.Info("Image extraction completed", "doc_id", docID, "images", len(ids), "pages", pdfCtx.PageCount)
	return ids, nil
}

type imageRef struct {
	objNr int
	name  string
	sd    *types.StreamDict
}

// pageImageRefs returns the image XObjects reachable from a page's
// resources, including those nested in form XObjects, ordered by object
// number.
func pageImageRefs(pdfCtx *model.Context, pageNr int) ([]imageRef, error) {
	_, _, attrs, err := pdfCtx.PageDict(pageNr, false)
	if err != nil {
		return nil, err
	}
	if attrs == nil || attrs.Resources == nil {
		return nil, nil
	}

	var refs []imageRef
	visited := make(map[int]bool)
	if err := collectImageRefs(pdfCtx, attrs.Resources, visited, &refs); err != nil {
		return nil, err
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].objNr < refs[j].objNr })
	return refs, nil
}

func collectImageRefs(pdfCtx *model.Context, resources types.Dict, visited map[int]bool, refs *[]imageRef) error {
	obj, found := resources.Find("XObject")
	if !found || obj == nil {
		return nil
	}
	xobjects, err := pdfCtx.DereferenceDict(obj)
	if err != nil || xobjects == nil {
		return err
	}

	names := make([]string, 0, len(xobjects))
	for name := range xobjects {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ref, ok := xobjects[name].(types.IndirectRef)
		if !ok {
			continue
		}
		objNr := ref.ObjectNumber.Value()
		if visited[objNr] {
			continue
		}
		visited[objNr] = true

		sd, _, err := pdfCtx.DereferenceStreamDict(ref)
		if err != nil {
			return fmt.Errorf("xobject %s: %w", name, err)
		}
		if sd == nil {
			continue
		}

		switch subtype := sd.Subtype(); {
		case subtype == nil:
		case *subtype == "Image":
			*refs = append(*refs, imageRef{objNr: objNr, name: name, sd: sd})
		case *subtype == "Form":
			formObj, found := sd.Find("Resources")
			if !found {
				continue
			}
			formRes, err := pdfCtx.DereferenceDict(formObj)
			if err != nil {
				return fmt.Errorf("form %s resources: %w", name, err)
			}
			if formRes != nil {
				if err := collectImageRefs(pdfCtx, formRes, visited, refs); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func writeImage(dir, id string, img model.Image) error {
	if img.Reader == nil {
		return fmt.Errorf("image %s has no data", id)
	}
	ext := strings.TrimPrefix(strings.ToLower(img.FileType), ".")
	if ext == "" {
		ext = "bin"
	}
	path := filepath.Join(dir, id+"."+ext)

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", id, err)
	}
	if _, err := io.Copy(out, img); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", id, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", id, err)
	}
	return nil
}
