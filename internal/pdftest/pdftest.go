// Package pdftest builds small, valid PDFs for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Image is a solid-color JPEG embedded once as an XObject.
type Image struct {
	Width, Height int
	Color         color.RGBA
}

// Page holds optional text and the indexes of the images it draws.
type Page struct {
	Text   []string
	Images []int
}

// Doc describes a PDF to build.
type Doc struct {
	Images []Image
	Pages  []Page
}

// ThreePagesTwoImages has two distinct images, the first drawn on pages 1
// and 3.
func ThreePagesTwoImages() Doc {
	return Doc{
		Images: []Image{
			{Width: 16, Height: 16, Color: color.RGBA{R: 200, A: 255}},
			{Width: 24, Height: 12, Color: color.RGBA{B: 200, A: 255}},
		},
		Pages: []Page{
			{Text: []string{"INTRODUCTION", "The first page shows a red square."}, Images: []int{0}},
			{Text: []string{"The second page shows a blue strip."}, Images: []int{1}},
			{Text: []string{"The third page shows the red square again."}, Images: []int{0}},
		},
	}
}

// TextOnly is a single page without images.
func TextOnly(lines ...string) Doc {
	return Doc{Pages: []Page{{Text: lines}}}
}

// Write builds doc into dir/name and returns the path.
func Write(t testing.TB, dir, name string, doc Doc) string {
	t.Helper()
	data, err := Build(doc)
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return path
}

// Build serializes doc with a correct cross-reference table.
func Build(doc Doc) ([]byte, error) {
	const (
		catalogObj = 1
		pagesObj   = 2
		fontObj    = 3
		firstImage = 4
	)
	firstPage := firstImage + len(doc.Images)

	var objects [][]byte
	add := func(body []byte) { objects = append(objects, body) }

	kids := make([]string, len(doc.Pages))
	for i := range doc.Pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPage+2*i)
	}
	add([]byte(fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesObj)))
	add([]byte(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(doc.Pages))))
	add([]byte("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"))

	for i, img := range doc.Images {
		data, err := encodeJPEG(img)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		dict := fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode /Length %d >>",
			img.Width, img.Height, len(data))
		add(stream(dict, data))
	}

	for i, page := range doc.Pages {
		var xobjects []string
		for _, idx := range page.Images {
			if idx < 0 || idx >= len(doc.Images) {
				return nil, fmt.Errorf("page %d references unknown image %d", i+1, idx)
			}
			xobjects = append(xobjects, fmt.Sprintf("/Im%d %d 0 R", idx, firstImage+idx))
		}
		resources := fmt.Sprintf("/Font << /F1 %d 0 R >>", fontObj)
		if len(xobjects) > 0 {
			resources += fmt.Sprintf(" /XObject << %s >>", strings.Join(xobjects, " "))
		}
		add([]byte(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << %s >> /Contents %d 0 R >>",
			pagesObj, resources, firstPage+2*i+1)))

		content := pageContent(page)
		add(stream(fmt.Sprintf("<< /Length %d >>", len(content)), content))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", i+1)
		buf.Write(body)
		buf.WriteString("\nendobj\n")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, catalogObj, xref)
	return buf.Bytes(), nil
}

func stream(dict string, data []byte) []byte {
	var b bytes.Buffer
	b.WriteString(dict)
	b.WriteString("\nstream\n")
	b.Write(data)
	b.WriteString("\nendstream")
	return b.Bytes()
}

func pageContent(page Page) []byte {
	var b bytes.Buffer
	y := 720
	for _, line := range page.Text {
		fmt.Fprintf(&b, "BT /F1 12 Tf 72 %d Td (%s) Tj ET\n", y, escape(line))
		y -= 36
	}
	for k, idx := range page.Images {
		fmt.Fprintf(&b, "q 100 0 0 100 72 %d cm /Im%d Do Q\n", 400-k*120, idx)
	}
	return b.Bytes()
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

func encodeJPEG(img Image) ([]byte, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", img.Width, img.Height)
	}
	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			rgba.SetRGBA(x, y, img.Color)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
