package images

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"paperreader/internal/domain"
)

var imageIDPattern = regexp.MustCompile(`^img_[0-9]{3,}$`)

// Dir reads the per-document image directories under root.
type Dir struct {
	root string
}

// NewDir creates an image store rooted at root
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Path returns the directory holding a document's images.
func (d *Dir) Path(docID string) (string, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return "", err
	}
	return filepath.Join(d.root, docID), nil
}

// List returns the image ids of a document in extraction order.
func (d *Dir) List(docID string) ([]string, error) {
	dir, err := d.Path(docID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if imageIDPattern.MatchString(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Open returns an image's bytes and content type.
func (d *Dir) Open(docID, imageID string) ([]byte, string, error) {
	dir, err := d.Path(docID)
	if err != nil {
		return nil, "", err
	}
	imageID = strings.TrimSuffix(imageID, filepath.Ext(imageID))
	if !imageIDPattern.MatchString(imageID) {
		return nil, "", domain.ErrImageNotFound
	}

	matches, err := filepath.Glob(filepath.Join(dir, imageID+".*"))
	if err != nil {
		return nil, "", err
	}
	if len(matches) == 0 {
		return nil, "", domain.ErrImageNotFound
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(matches[0]))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// Remove deletes all images of a document.
func (d *Dir) Remove(docID string) error {
	dir, err := d.Path(docID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
