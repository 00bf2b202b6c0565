package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"paperreader/internal/device"
	"paperreader/internal/domain"
)

// MarkerEngine runs the marker layout model through its CLI.
type MarkerEngine struct {
	binary string
	device device.Kind
	logger domain.Logger
}

// MarkerCheck reports whether the marker binary is on PATH.
func MarkerCheck(binary string) func() error {
	return func() error {
		if _, err := exec.LookPath(binary); err != nil {
			return &DependencyError{Dependency: binary, Err: err}
		}
		return nil
	}
}

// NewMarkerLoader returns the loader for the layout variant. Loading
// converts a one-page document on the requested device so an accelerator
// failure surfaces here rather than on the first upload.
func NewMarkerLoader(binary string, logger domain.Logger) Loader {
	return func(ctx context.Context, dev device.Kind) (Engine, error) {
		path, err := exec.LookPath(binary)
		if err != nil {
			return nil, &DependencyError{Dependency: binary, Err: err}
		}

		e := &MarkerEngine{binary: path, device: dev, logger: logger}
		if err := e.smoke(ctx); err != nil {
			if errors.Is(err, ErrDeviceInit) {
				return nil, err
			}
			return nil, fmt.Errorf("marker smoke run failed: %w", err)
		}
		return e, nil
	}
}

func (e *MarkerEngine) smoke(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "marker-smoke-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, smokeFile)
	if err := os.WriteFile(src, smokePDF(), 0o644); err != nil {
		return err
	}
	_, err = e.Convert(ctx, src)
	return err
}

const smokeFile = "smoke.pdf"

// smokePDF is a single Letter page with one line of text.
func smokePDF() []byte {
	content := "BT /F1 12 Tf 72 720 Td (Hello) Tj ET"
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

// Convert writes marker's output into a scratch directory and returns the
// Markdown it produced.
func (e *MarkerEngine) Convert(ctx context.Context, sourcePath string) (string, error) {
	outDir, err := os.MkdirTemp("", "marker-*")
	if err != nil {
		return "", fmt.Errorf("failed to create marker output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	out, err := e.run(ctx, sourcePath,
		"--output_dir", outDir,
		"--output_format", "markdown",
		"--disable_image_extraction")
	if err != nil {
		if isCUDAFailure(out) {
			return "", fmt.Errorf("marker failed on %s: %w: %s", e.device, ErrDeviceInit, lastLine(out))
		}
		return "", fmt.Errorf("marker failed: %w: %s", err, lastLine(out))
	}

	mdPath, err := findMarkdown(outDir)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(mdPath)
	if err != nil {
		return "", fmt.Errorf("failed to read marker output: %w", err)
	}
	return stripLocalImages(string(data)), nil
}

func (e *MarkerEngine) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Env = append(os.Environ(), "TORCH_DEVICE="+string(e.device))

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	e.logger.Debug("Running marker", "binary", e.binary, "device", e.device, "args", strings.Join(args, " "))
	err := cmd.Run()
	return out.String(), err
}

// findMarkdown locates the .md file marker wrote, either directly in dir or
// in the per-document subdirectory newer versions create.
func findMarkdown(dir string) (string, error) {
	for _, pattern := range []string{"*.md", filepath.Join("*", "*.md")} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", fmt.Errorf("marker produced no markdown in %s", dir)
}

var cudaFailureMarkers = []string{
	"cuda error",
	"cuda out of memory",
	"no cuda gpus are available",
	"torch not compiled with cuda",
	"cudnn_status",
	"nvidia driver",
}

func isCUDAFailure(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range cudaFailureMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// localImageRe matches Markdown images whose target is not an absolute URL.
var localImageRe = regexp.MustCompile(`!\[[^\]]*\]\([^)/:][^):]*\)\n?`)

// stripLocalImages removes links to image files marker wrote next to its
// Markdown; extracted images are referenced separately.
func stripLocalImages(md string) string {
	return strings.TrimSpace(localImageRe.ReplaceAllString(md, ""))
}

func lastLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		return out[i+1:]
	}
	return out
}
