package domain

import (
	"context"
	"io"
)

// StateStore persists the terminal outcome of each document and answers
// status queries from artifact presence. Implementations must publish an
// artifact only once it is fully written, and must never leave both a
// success and a failure artifact visible for the same document.
type StateStore interface {
	Commit(outcome *Outcome) error
	Status(docID string) (Status, error)
	Content(docID string) (string, error)
	Failure(docID string) (*ErrorRecord, error)
	Purge(docID string) error
}

// ImageStore reads and removes the images extracted for a document.
type ImageStore interface {
	Path(docID string) (string, error)
	List(docID string) ([]string, error)
	Open(docID, imageID string) ([]byte, string, error)
	Remove(docID string) error
}

// ConverterInfo describes one registered conversion strategy.
type ConverterInfo struct {
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases,omitempty"`
	Default   bool     `json:"default"`
	Available bool     `json:"available"`
	Missing   string   `json:"missing_dependency,omitempty"`
}

// DocumentService defines the use-case operations for documents.
type DocumentService interface {
	Upload(ctx context.Context, file io.Reader, originalName, converter string) (*UploadMeta, error)
	Submit(docID, sourcePath, converter string) error
	Reprocess(docID, converter string) error
	Status(docID string) (Status, error)
	Content(docID string) (*DocumentContent, error)
	Failure(docID string) (*ErrorRecord, error)
	Image(docID, imageID string) ([]byte, string, error)
	List() ([]DocumentInfo, error)
	Delete(docID string) error
	Converters() []ConverterInfo
}

// Logger defines the interface for logging operations
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, err error, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
}

// Config defines the interface for configuration management
type Config interface {
	GetServerPort() string
	GetUploadPath() string
	GetProcessedPath() string
	GetMaxFileSize() int64
	GetLogLevel() string
	GetLogFormat() string
	GetDeviceOverride() string
	GetDefaultConverter() string
	GetMaxConcurrentConversions() int
	GetMarkerBinary() string
	GetPageTimeoutSeconds() int
	GetAPIPrefix() string
	GetCORSOrigins() []string
}
