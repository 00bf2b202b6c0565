package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperreader/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, fields ...interface{})             {}
func (nopLogger) Error(msg string, err error, fields ...interface{}) {}
func (nopLogger) Debug(msg string, fields ...interface{})            {}
func (nopLogger) Warn(msg string, fields ...interface{})             {}

func backends(t *testing.T) map[string]domain.StateStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), nopLogger{})
	require.NoError(t, err)
	return map[string]domain.StateStore{
		"file":   fs,
		"memory": NewMemoryStore(),
	}
}

func success(docID, content string) *domain.Outcome {
	return &domain.Outcome{DocID: docID, Content: content}
}

func failure(docID, errType string) *domain.Outcome {
	return &domain.Outcome{DocID: docID, Failure: &domain.ErrorRecord{
		Error:      "boom",
		ErrorType:  errType,
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		DocID:      docID,
		SourcePath: "/uploads/" + docID + "/original.pdf",
		Trace:      "boom\ngoroutine 1 [running]:",
	}}
}

func TestStore_UnknownDocIsProcessing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				status, err := s.Status("never-seen")
				require.NoError(t, err)
				assert.Equal(t, domain.StatusProcessing, status)
			}

			_, err := s.Content("never-seen")
			assert.ErrorIs(t, err, domain.ErrNotReady)
			_, err = s.Failure("never-seen")
			assert.ErrorIs(t, err, domain.ErrNotFailed)
		})
	}
}

func TestStore_CommitSuccess(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Commit(success("D1", "# Title\n")))

			status, err := s.Status("D1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusReady, status)

			content, err := s.Content("D1")
			require.NoError(t, err)
			assert.Equal(t, "# Title\n", content)

			_, err = s.Failure("D1")
			assert.ErrorIs(t, err, domain.ErrNotFailed)
		})
	}
}

func TestStore_CommitFailure(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			want := failure("D3", "ocr_failed")
			require.NoError(t, s.Commit(want))

			status, err := s.Status("D3")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusError, status)

			got, err := s.Failure("D3")
			require.NoError(t, err)
			assert.Equal(t, *want.Failure, *got)

			_, err = s.Content("D3")
			assert.ErrorIs(t, err, domain.ErrNotReady)
		})
	}
}

func TestStore_TerminalArtifactsAreExclusive(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Commit(success("D1", "ok")))
			require.NoError(t, s.Commit(failure("D1", "internal")))

			status, err := s.Status("D1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusError, status)
			_, err = s.Content("D1")
			assert.ErrorIs(t, err, domain.ErrNotReady)

			require.NoError(t, s.Commit(success("D1", "again")))
			status, err = s.Status("D1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusReady, status)
			_, err = s.Failure("D1")
			assert.ErrorIs(t, err, domain.ErrNotFailed)
		})
	}
}

func TestStore_Purge(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Commit(failure("D1", "ocr_failed")))
			require.NoError(t, s.Purge("D1"))
			require.NoError(t, s.Purge("D1"))

			status, err := s.Status("D1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusProcessing, status)
		})
	}
}

func TestStore_RejectsInvalidDocID(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"", "../escape", "a/b", strings.Repeat("x", 129)} {
				_, err := s.Status(id)
				assert.ErrorIs(t, err, domain.ErrInvalidDocumentID, id)
				assert.ErrorIs(t, s.Commit(success(id, "x")), domain.ErrInvalidDocumentID, id)
			}
		})
	}
}

func TestFileStore_Layout(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root, nopLogger{})
	require.NoError(t, err)

	require.NoError(t, s.Commit(failure("D3", "ocr_failed")))
	data, err := os.ReadFile(filepath.Join(root, "markdown", "D3.error"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"error_type\": \"ocr_failed\"")
	assert.Contains(t, string(data), "\"timestamp\": \"2026-01-02T03:04:05Z\"")

	require.NoError(t, s.Commit(success("D3", "fixed")))
	_, err = os.Stat(filepath.Join(root, "markdown", "D3.error"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(filepath.Join(root, "markdown"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "D3.md", entries[0].Name())
}

func TestFileStore_ReadersNeverSeePartialContent(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nopLogger{})
	require.NoError(t, err)

	contents := make([]string, 20)
	for i := range contents {
		contents[i] = strings.Repeat(fmt.Sprintf("line %d\n", i), 2000)
	}
	valid := make(map[string]bool, len(contents))
	for _, c := range contents {
		valid[c] = true
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	var bad []string
	var mu sync.Mutex
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				c, err := s.Content("D1")
				if err != nil {
					continue
				}
				if !valid[c] {
					mu.Lock()
					bad = append(bad, fmt.Sprintf("len=%d", len(c)))
					mu.Unlock()
				}
			}
		}()
	}

	for _, c := range contents {
		require.NoError(t, s.Commit(success("D1", c)))
	}
	close(done)
	wg.Wait()

	assert.Empty(t, bad)
}
