package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"paperreader/internal/domain"
)

const (
	originalFileName = "original.pdf"
	metaFileName     = "meta.json"
)

// JobQueue accepts conversion jobs without waiting for them to run. Reserve
// holds a document's slot while its outputs are cleared; it is followed by
// SubmitReserved or Release.
type JobQueue interface {
	Submit(job Job) error
	Reserve(docID string) error
	SubmitReserved(job Job) error
	Release(docID string)
}

// ConverterLister describes the available converters.
type ConverterLister interface {
	Converters() []domain.ConverterInfo
}

// DocumentService owns the upload directory and drives conversions through
// the job queue. Conversion artifacts are read through the state store and
// written only by the orchestrator.
type DocumentService struct {
	uploadDir        string
	maxFileSize      int64
	defaultConverter string

	store      domain.StateStore
	images     domain.ImageStore
	queue      JobQueue
	converters ConverterLister
	logger     domain.Logger
}

func NewDocumentService(
	uploadDir string,
	maxFileSize int64,
	defaultConverter string,
	store domain.StateStore,
	images domain.ImageStore,
	queue JobQueue,
	converters ConverterLister,
	logger domain.Logger,
) *DocumentService {
	return &DocumentService{
		uploadDir:        uploadDir,
		maxFileSize:      maxFileSize,
		defaultConverter: defaultConverter,
		store:            store,
		images:           images,
		queue:            queue,
		converters:       converters,
		logger:           logger,
	}
}

// Upload stores the original PDF under a fresh doc id and submits it.
func (s *DocumentService) Upload(
	ctx context.Context,
	file io.Reader,
	originalName string,
	converter string,
) (*domain.UploadMeta, error) {
	if ext := strings.ToLower(filepath.Ext(originalName)); originalName != "" && ext != ".pdf" {
		return nil, fmt.Errorf("%w: only .pdf files are accepted, got %q", domain.ErrInvalidFile, ext)
	}

	fileBytes, err := io.ReadAll(io.LimitReader(file, s.maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	totalSize := int64(len(fileBytes))
	if totalSize > s.maxFileSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", domain.ErrFileTooLarge, s.maxFileSize)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(fileBytes[:min(len(fileBytes), 1024)], "\x00\t\r\n "), []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: not a PDF document", domain.ErrInvalidFile)
	}

	docID := uuid.New().String()
	if originalName == "" {
		originalName = docID + ".pdf"
	}
	if strings.TrimSpace(converter) == "" {
		converter = s.defaultConverter
	}

	docDir := filepath.Join(s.uploadDir, docID)
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	sourcePath := filepath.Join(docDir, originalFileName)
	if err := os.WriteFile(sourcePath, fileBytes, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}

	meta := &domain.UploadMeta{
		DocID:      docID,
		Filename:   filepath.Base(originalName),
		Converter:  converter,
		FileSize:   totalSize,
		UploadedAt: time.Now().UTC(),
	}
	if err := s.writeMeta(meta); err != nil {
		return nil, err
	}

	s.logger.Info("Document uploaded", "doc_id", docID, "filename", meta.Filename, "file_size", totalSize, "converter", converter)

	if err := s.queue.Submit(Job{DocID: docID, SourcePath: sourcePath, Converter: converter}); err != nil {
		return meta, fmt.Errorf("failed to queue conversion: %w", err)
	}
	return meta, nil
}

// Submit queues a conversion. A document that already reached a terminal
// outcome is rejected; Reprocess is the way to overwrite it.
func (s *DocumentService) Submit(docID, sourcePath, converter string) error {
	status, err := s.store.Status(docID)
	if err != nil {
		return err
	}
	if status != domain.StatusProcessing {
		return fmt.Errorf("%w: %s is %s", domain.ErrAlreadyProcessed, docID, status)
	}
	if strings.TrimSpace(converter) == "" {
		converter = s.defaultConverter
	}
	return s.queue.Submit(Job{DocID: docID, SourcePath: sourcePath, Converter: converter})
}

// Reprocess discards a document's artifacts and images and converts it again.
// An empty converter keeps the one recorded at upload.
func (s *DocumentService) Reprocess(docID, converter string) error {
	meta, err := s.readMeta(docID)
	if err != nil {
		return err
	}
	if err := s.queue.Reserve(docID); err != nil {
		return err
	}
	queued := false
	defer func() {
		if !queued {
			s.queue.Release(docID)
		}
	}()

	if err := s.store.Purge(docID); err != nil {
		return fmt.Errorf("failed to purge artifacts: %w", err)
	}
	if err := s.images.Remove(docID); err != nil {
		return fmt.Errorf("failed to remove images: %w", err)
	}

	if strings.TrimSpace(converter) != "" && converter != meta.Converter {
		meta.Converter = converter
		if err := s.writeMeta(meta); err != nil {
			return err
		}
	}

	s.logger.Info("Reprocessing document", "doc_id", docID, "converter", meta.Converter)
	// SubmitReserved releases the slot itself when it fails.
	queued = true
	return s.queue.SubmitReserved(Job{DocID: docID, SourcePath: s.sourcePath(docID), Converter: meta.Converter})
}

// Status returns the inferred status of an uploaded document.
func (s *DocumentService) Status(docID string) (domain.Status, error) {
	status, err := s.store.Status(docID)
	if err != nil {
		return "", err
	}
	if status == domain.StatusProcessing && !s.exists(docID) {
		return "", domain.ErrDocumentNotFound
	}
	return status, nil
}

// Content returns the Markdown of a ready document and the image ids it
// references. Image files left over from earlier runs are not reported.
func (s *DocumentService) Content(docID string) (*domain.DocumentContent, error) {
	status, err := s.Status(docID)
	if err != nil {
		return nil, err
	}
	if status != domain.StatusReady {
		return nil, domain.ErrNotReady
	}

	content, err := s.store.Content(docID)
	if err != nil {
		return nil, err
	}
	return &domain.DocumentContent{
		DocID:   docID,
		Content: content,
		Images:  StitchedImageIDs(content),
		Status:  domain.StatusReady,
	}, nil
}

// Failure returns the failure record of a failed document.
func (s *DocumentService) Failure(docID string) (*domain.ErrorRecord, error) {
	return s.store.Failure(docID)
}

// Image returns an extracted image and its content type.
func (s *DocumentService) Image(docID, imageID string) ([]byte, string, error) {
	return s.images.Open(docID, imageID)
}

// List returns every uploaded document, newest first.
func (s *DocumentService) List() ([]domain.DocumentInfo, error) {
	entries, err := os.ReadDir(s.uploadDir)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.DocumentInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read upload dir: %w", err)
	}

	docs := make([]domain.DocumentInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || domain.ValidateDocID(entry.Name()) != nil {
			continue
		}
		meta, err := s.readMeta(entry.Name())
		if err != nil {
			s.logger.Warn("Skipping upload without metadata", "doc_id", entry.Name(), "error", err)
			continue
		}
		status, err := s.store.Status(meta.DocID)
		if err != nil {
			s.logger.Warn("Failed to infer status", "doc_id", meta.DocID, "error", err)
			continue
		}
		docs = append(docs, domain.DocumentInfo{
			DocID:      meta.DocID,
			Filename:   meta.Filename,
			Converter:  meta.Converter,
			Status:     status,
			FileSize:   meta.FileSize,
			UploadedAt: meta.UploadedAt,
		})
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})
	return docs, nil
}

// Delete removes the upload, both artifacts and all images of a document.
func (s *DocumentService) Delete(docID string) error {
	if err := domain.ValidateDocID(docID); err != nil {
		return err
	}
	if !s.exists(docID) {
		return domain.ErrDocumentNotFound
	}
	if err := s.queue.Reserve(docID); err != nil {
		return err
	}
	defer s.queue.Release(docID)

	if err := os.RemoveAll(filepath.Join(s.uploadDir, docID)); err != nil {
		return fmt.Errorf("failed to remove upload: %w", err)
	}
	if err := s.store.Purge(docID); err != nil {
		return fmt.Errorf("failed to purge artifacts: %w", err)
	}
	if err := s.images.Remove(docID); err != nil {
		return fmt.Errorf("failed to remove images: %w", err)
	}

	s.logger.Info("Document deleted", "doc_id", docID)
	return nil
}

// Converters lists the registered converters.
func (s *DocumentService) Converters() []domain.ConverterInfo {
	return s.converters.Converters()
}

// Recover resubmits uploads that have no terminal artifact, such as jobs
// still queued or running when the process stopped. Their partial images
// are orphans and are removed first.
func (s *DocumentService) Recover(ctx context.Context) (int, error) {
	docs, err := s.List()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		if doc.Status != domain.StatusProcessing {
			continue
		}
		if err := s.queue.Reserve(doc.DocID); err != nil {
			if errors.Is(err, domain.ErrInFlight) {
				continue
			}
			return recovered, err
		}
		if err := s.images.Remove(doc.DocID); err != nil {
			s.logger.Warn("Failed to clear orphaned images", "doc_id", doc.DocID, "error", err)
		}
		if err := s.queue.SubmitReserved(Job{DocID: doc.DocID, SourcePath: s.sourcePath(doc.DocID), Converter: doc.Converter}); err != nil {
			return recovered, err
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("Recovered unfinished conversions", "count", recovered)
	}
	return recovered, nil
}

func (s *DocumentService) sourcePath(docID string) string {
	return filepath.Join(s.uploadDir, docID, originalFileName)
}

func (s *DocumentService) exists(docID string) bool {
	_, err := os.Stat(s.sourcePath(docID))
	return err == nil
}

func (s *DocumentService) readMeta(docID string) (*domain.UploadMeta, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.uploadDir, docID, metaFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta domain.UploadMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if meta.DocID == "" {
		meta.DocID = docID
	}
	return &meta, nil
}

func (s *DocumentService) writeMeta(meta *domain.UploadMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.uploadDir, meta.DocID, metaFileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}
