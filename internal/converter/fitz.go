package converter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"

	"paperreader/internal/device"
	"paperreader/internal/domain"
)

// FitzEngine extracts page text with MuPDF and shapes it into Markdown.
type FitzEngine struct {
	pageTimeout time.Duration
	logger      domain.Logger
	open        func(path string) (pageDoc, error)
}

// pageDoc is the part of a MuPDF document the engine reads. Its methods
// must not be called concurrently, and Close must not run while Text does.
type pageDoc interface {
	NumPage() int
	Text(pageNumber int) (string, error)
	Close() error
}

func openFitz(path string) (pageDoc, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// NewFitzLoader returns the loader for the fast variant. MuPDF runs on CPU
// whatever device is requested.
func NewFitzLoader(pageTimeout time.Duration, logger domain.Logger) Loader {
	return func(ctx context.Context, dev device.Kind) (Engine, error) {
		return &FitzEngine{pageTimeout: pageTimeout, logger: logger, open: openFitz}, nil
	}
}

type pageResult struct {
	text string
	err  error
}

// Convert opens the PDF and renders each page's paragraphs in order. A page
// that fails or times out is skipped; a document that cannot be opened fails.
//
// A timed-out page keeps MuPDF busy on its document, so that document is
// abandoned and closed once the read returns, and the remaining pages are
// read from a freshly opened one.
func (e *FitzEngine) Convert(ctx context.Context, sourcePath string) (string, error) {
	doc, err := e.open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer func() {
		if doc != nil {
			doc.Close()
		}
	}()

	numPages := doc.NumPage()
	if numPages == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}

	var pages []string
	for pageNum := 0; pageNum < numPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		e.logger.Debug("Fast converter processing page", "page", pageNum+1, "total", numPages)
		resultCh := make(chan pageResult, 1)
		go func(d pageDoc, idx int) {
			t, err := d.Text(idx)
			resultCh <- pageResult{text: t, err: err}
		}(doc, pageNum)

		var res pageResult
		select {
		case res = <-resultCh:
		case <-ctx.Done():
			closeAfter(doc, resultCh)
			doc = nil
			return "", ctx.Err()
		case <-time.After(e.pageTimeout):
			e.logger.Warn("Page extraction timeout; skipping page", "page", pageNum+1, "total", numPages, "timeout_sec", int(e.pageTimeout.Seconds()))
			closeAfter(doc, resultCh)
			if doc, err = e.open(sourcePath); err != nil {
				doc = nil
				return "", fmt.Errorf("failed to reopen PDF after page %d timed out: %w", pageNum+1, err)
			}
			continue
		}
		if res.err != nil {
			e.logger.Warn("Failed to extract text from page", "page", pageNum+1, "total", numPages, "error", res.err)
			continue
		}

		if md := pageMarkdown(res.text); md != "" {
			pages = append(pages, md)
		}
	}

	return strings.Join(pages, "\n\n"), nil
}

// closeAfter closes doc once the read still running on it has returned.
func closeAfter(doc pageDoc, inFlight <-chan pageResult) {
	go func() {
		<-inFlight
		doc.Close()
	}()
}

// pageMarkdown renders one page of raw text as Markdown blocks.
func pageMarkdown(text string) string {
	text = strings.TrimSpace(sanitizeText(text))
	if text == "" {
		return ""
	}

	var blocks []string
	for _, para := range splitIntoParagraphs(text) {
		if isHeading(para) {
			blocks = append(blocks, "## "+para)
			continue
		}
		blocks = append(blocks, para)
	}
	return strings.Join(blocks, "\n\n")
}

// splitIntoParagraphs splits text into paragraphs based on double newlines
func splitIntoParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var result []string
	for _, para := range strings.Split(text, "\n\n") {
		// single newlines inside a paragraph are soft wraps
		para = strings.Join(strings.Fields(para), " ")
		if para != "" {
			result = append(result, para)
		}
	}
	return result
}

// isHeading reports whether a paragraph looks like a heading: short, on one
// line, without closing punctuation, and either upper case or very short.
func isHeading(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(text, "\n") || len(text) >= 100 {
		return false
	}
	if strings.HasSuffix(text, ".") || strings.HasSuffix(text, ",") || strings.HasSuffix(text, ";") {
		return false
	}
	if len(text) > 3 && text == strings.ToUpper(text) && text != strings.ToLower(text) {
		return true
	}
	return len(text) < 50
}

// sanitizeText drops NUL, stray control characters and surrogates
func sanitizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7F:
		case r >= 0xD800 && r <= 0xDFFF:
		case r == '\uFFFD':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
