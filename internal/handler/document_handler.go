// Package handler provides HTTP handlers for the API.
package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"paperreader/internal/domain"
	apperrors "paperreader/pkg/errors"

	"github.com/gorilla/mux"
)

const multipartOverhead = 1 << 20

// DocumentHandler handles document-related HTTP requests
type DocumentHandler struct {
	documentService domain.DocumentService
	maxFileSize     int64
	logger          domain.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(documentService domain.DocumentService, maxFileSize int64, logger domain.Logger) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		maxFileSize:     maxFileSize,
		logger:          logger,
	}
}

type uploadResponse struct {
	DocID     string        `json:"doc_id"`
	Filename  string        `json:"filename"`
	Converter string        `json:"converter"`
	Status    domain.Status `json:"status"`
	Message   string        `json:"message"`
	FileSize  int64         `json:"file_size"`
}

type failureResponse struct {
	DocID       string             `json:"doc_id"`
	Status      domain.Status      `json:"status"`
	Error       string             `json:"error"`
	ErrorType   string             `json:"error_type"`
	Timestamp   time.Time          `json:"timestamp"`
	Diagnostics failureDiagnostics `json:"diagnostics"`
}

type failureDiagnostics struct {
	Trace string `json:"trace"`
}

// UploadDocument accepts a multipart PDF and queues it for conversion.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeAppError(w, domain.ErrFileTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "File is required")
		return
	}
	defer file.Close()

	// Sanitize filename (strip any path components)
	originalName := strings.TrimSpace(filepath.Base(header.Filename))
	if originalName == "." || originalName == string(filepath.Separator) {
		originalName = ""
	}

	meta, err := h.documentService.Upload(r.Context(), file, originalName, r.FormValue("converter"))
	if err != nil {
		if meta == nil {
			h.fail(w, r, err)
			return
		}
		// The upload is stored; Recover queues it on the next start.
		h.logger.Error("Failed to queue uploaded document", err, "doc_id", meta.DocID)
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		DocID:     meta.DocID,
		Filename:  meta.Filename,
		Converter: meta.Converter,
		Status:    domain.StatusProcessing,
		Message:   "document is being processed",
		FileSize:  meta.FileSize,
	})
}

// ListDocuments returns every uploaded document, newest first.
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.documentService.List()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

// GetDocument answers with the content of a ready document, 202 while it is
// processing, and the failure record when it failed.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]

	status, err := h.documentService.Status(docID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	switch status {
	case domain.StatusProcessing:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"doc_id": docID,
			"status": domain.StatusProcessing,
		})
	case domain.StatusError:
		record, err := h.documentService.Failure(docID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, failureResponse{
			DocID:       docID,
			Status:      domain.StatusError,
			Error:       record.Error,
			ErrorType:   record.ErrorType,
			Timestamp:   record.Timestamp,
			Diagnostics: failureDiagnostics{Trace: record.Trace},
		})
	default:
		content, err := h.documentService.Content(docID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, content)
	}
}

// GetImage streams one extracted image.
func (h *DocumentHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	data, contentType, err := h.documentService.Image(vars["id"], vars["image"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ReprocessDocument discards a document's outcome and converts it again,
// optionally with another converter.
func (h *DocumentHandler) ReprocessDocument(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	converter := r.URL.Query().Get("converter")

	if err := h.documentService.Reprocess(docID, converter); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"doc_id":  docID,
		"status":  domain.StatusProcessing,
		"message": "document queued for reprocessing",
	})
}

// DeleteDocument removes a document and everything derived from it.
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]

	if err := h.documentService.Delete(docID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"doc_id":  docID,
		"message": "document deleted",
	})
}

// ListConverters reports the registered converters and their availability.
func (h *DocumentHandler) ListConverters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"converters": h.documentService.Converters()})
}

// fail writes err as a JSON error and logs it when it is a server fault.
func (h *DocumentHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.IsType(toAppError(err), apperrors.ErrorTypeInternal) {
		h.logger.Error("Request failed", err, "method", r.Method, "path", r.URL.Path)
	}
	writeAppError(w, err)
}
