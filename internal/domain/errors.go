package domain

import "errors"

// Domain errors
var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrImageNotFound     = errors.New("image not found")
	ErrInvalidDocumentID = errors.New("invalid document id")
	ErrInvalidFile       = errors.New("invalid file")
	ErrFileTooLarge      = errors.New("file too large")
	ErrNotReady          = errors.New("document is not ready")
	ErrNotFailed         = errors.New("document has not failed")
	ErrAlreadyProcessed  = errors.New("document already has a terminal outcome")
	ErrInFlight          = errors.New("document conversion already in flight")
	ErrPoolClosed        = errors.New("conversion pool is shut down")
)
