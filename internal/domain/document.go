package domain

import (
	"regexp"
	"time"
)

// Status is the derived processing state of a document. It is never stored;
// a StateStore computes it from which terminal artifact exists.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// ErrorRecord is the failure artifact persisted for a document.
type ErrorRecord struct {
	Error      string    `json:"error"`
	ErrorType  string    `json:"error_type"`
	Timestamp  time.Time `json:"timestamp"`
	DocID      string    `json:"doc_id"`
	SourcePath string    `json:"source_path"`
	Trace      string    `json:"trace"`
}

// Outcome is the terminal result of one conversion attempt. Exactly one of
// Content/Images or Failure is meaningful.
type Outcome struct {
	DocID   string
	Content string
	Images  []string
	Failure *ErrorRecord
}

// Succeeded reports whether the outcome carries a success payload.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Failure == nil
}

// Status returns the status a store will report once this outcome is committed.
func (o *Outcome) Status() Status {
	if o.Succeeded() {
		return StatusReady
	}
	return StatusError
}

// UploadMeta is written next to the original file by the upload side.
type UploadMeta struct {
	DocID      string    `json:"doc_id"`
	Filename   string    `json:"filename"`
	Converter  string    `json:"converter"`
	FileSize   int64     `json:"file_size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// DocumentInfo is a listing entry.
type DocumentInfo struct {
	DocID      string    `json:"doc_id"`
	Filename   string    `json:"filename"`
	Converter  string    `json:"converter"`
	Status     Status    `json:"status"`
	FileSize   int64     `json:"file_size"`
	UploadedAt time.Time `json:"upload_time"`
}

// DocumentContent is what a ready document resolves to.
type DocumentContent struct {
	DocID   string   `json:"doc_id"`
	Content string   `json:"content"`
	Images  []string `json:"images"`
	Status  Status   `json:"status"`
}

var docIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateDocID rejects identifiers that could escape a storage directory.
func ValidateDocID(docID string) error {
	if !docIDPattern.MatchString(docID) {
		return ErrInvalidDocumentID
	}
	return nil
}
