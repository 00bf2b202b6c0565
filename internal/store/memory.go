package store

import (
	"errors"
	"sync"

	"paperreader/internal/domain"
)

type memoryRecord struct {
	content string
	failure *domain.ErrorRecord
}

// MemoryStore is an in-process StateStore with the same semantics as FileStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Commit(outcome *domain.Outcome) error {
	if outcome == nil {
		return errors.New("nil outcome")
	}
	if err := domain.ValidateDocID(outcome.DocID); err != nil {
		return err
	}

	rec := memoryRecord{content: outcome.Content}
	if !outcome.Succeeded() {
		failure := *outcome.Failure
		rec = memoryRecord{failure: &failure}
	}

	s.mu.Lock()
	s.records[outcome.DocID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Status(docID string) (domain.Status, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return "", err
	}
	s.mu.RLock()
	rec, ok := s.records[docID]
	s.mu.RUnlock()

	switch {
	case !ok:
		return domain.StatusProcessing, nil
	case rec.failure != nil:
		return domain.StatusError, nil
	default:
		return domain.StatusReady, nil
	}
}

func (s *MemoryStore) Content(docID string) (string, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return "", err
	}
	s.mu.RLock()
	rec, ok := s.records[docID]
	s.mu.RUnlock()

	if !ok || rec.failure != nil {
		return "", domain.ErrNotReady
	}
	return rec.content, nil
}

func (s *MemoryStore) Failure(docID string) (*domain.ErrorRecord, error) {
	if err := domain.ValidateDocID(docID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	rec, ok := s.records[docID]
	s.mu.RUnlock()

	if !ok || rec.failure == nil {
		return nil, domain.ErrNotFailed
	}
	failure := *rec.failure
	return &failure, nil
}

func (s *MemoryStore) Purge(docID string) error {
	if err := domain.ValidateDocID(docID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, docID)
	s.mu.Unlock()
	return nil
}
