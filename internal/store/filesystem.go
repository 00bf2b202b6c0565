package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"paperreader/internal/domain"
)

const (
	successExt = ".md"
	failureExt = ".error"
)

// FileStore keeps one terminal artifact per document under
// {processed}/markdown: {doc_id}.md on success, {doc_id}.error on failure.
type FileStore struct {
	dir    string
	logger domain.Logger
}

// NewFileStore creates the artifact directory below processedPath.
func NewFileStore(processedPath string, logger domain.Logger) (*FileStore, error) {
	dir := filepath.Join(processedPath, "markdown")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(docID, ext string) (string, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, docID+ext), nil
}

// Commit publishes the outcome's artifact and removes the opposite one. A
// success clears a stale failure before publishing; a failure is published
// before the success is removed. Status reads failure first, so readers never
// see ready and error at once.
func (s *FileStore) Commit(outcome *domain.Outcome) error {
	if outcome == nil {
		return errors.New("nil outcome")
	}
	mdPath, err := s.path(outcome.DocID, successExt)
	if err != nil {
		return err
	}
	errPath, _ := s.path(outcome.DocID, failureExt)

	if outcome.Succeeded() {
		if err := removeIfExists(errPath); err != nil {
			return fmt.Errorf("remove stale failure artifact: %w", err)
		}
		if err := writeAtomic(mdPath, []byte(outcome.Content)); err != nil {
			return fmt.Errorf("write success artifact: %w", err)
		}
		s.logger.Debug("Committed success artifact", "doc_id", outcome.DocID, "path", mdPath)
		return nil
	}

	data, err := json.MarshalIndent(outcome.Failure, "", "  ")
	if err != nil {
		return fmt.Errorf("encode failure artifact: %w", err)
	}
	if err := writeAtomic(errPath, data); err != nil {
		return fmt.Errorf("write failure artifact: %w", err)
	}
	if err := removeIfExists(mdPath); err != nil {
		return fmt.Errorf("remove stale success artifact: %w", err)
	}
	s.logger.Debug("Committed failure artifact", "doc_id", outcome.DocID, "path", errPath)
	return nil
}

// Status infers the document state from which artifact exists.
func (s *FileStore) Status(docID string) (domain.Status, error) {
	errPath, err := s.path(docID, failureExt)
	if err != nil {
		return "", err
	}
	mdPath, _ := s.path(docID, successExt)

	if ok, err := exists(errPath); err != nil {
		return "", err
	} else if ok {
		return domain.StatusError, nil
	}
	if ok, err := exists(mdPath); err != nil {
		return "", err
	} else if ok {
		return domain.StatusReady, nil
	}
	return domain.StatusProcessing, nil
}

// Content returns the Markdown of a ready document.
func (s *FileStore) Content(docID string) (string, error) {
	mdPath, err := s.path(docID, successExt)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(mdPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", domain.ErrNotReady
	}
	if err != nil {
		return "", fmt.Errorf("read success artifact: %w", err)
	}
	return string(data), nil
}

// Failure returns the failure record of a failed document.
func (s *FileStore) Failure(docID string) (*domain.ErrorRecord, error) {
	errPath, err := s.path(docID, failureExt)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(errPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNotFailed
	}
	if err != nil {
		return nil, fmt.Errorf("read failure artifact: %w", err)
	}

	var record domain.ErrorRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode failure artifact: %w", err)
	}
	return &record, nil
}

// Purge removes both artifacts, returning the document to processing.
func (s *FileStore) Purge(docID string) error {
	mdPath, err := s.path(docID, successExt)
	if err != nil {
		return err
	}
	errPath, _ := s.path(docID, failureExt)

	if err := removeIfExists(mdPath); err != nil {
		return err
	}
	return removeIfExists(errPath)
}

// writeAtomic writes data to a temp file next to path, syncs it and renames
// it into place.
func writeAtomic(path string, data []byte) error {
	dir, name := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
