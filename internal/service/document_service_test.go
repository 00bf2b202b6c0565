package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperreader/internal/domain"
	"paperreader/internal/images"
	"paperreader/internal/pdftest"
	"paperreader/internal/store"
)

// MockJobQueue records submissions instead of running them.
type MockJobQueue struct {
	mu       sync.Mutex
	jobs     []Job
	inFlight map[string]bool
	err      error
}

func NewMockJobQueue() *MockJobQueue {
	return &MockJobQueue{inFlight: make(map[string]bool)}
}

func (q *MockJobQueue) Submit(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *MockJobQueue) Reserve(docID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight[docID] {
		return domain.ErrInFlight
	}
	q.inFlight[docID] = true
	return nil
}

func (q *MockJobQueue) SubmitReserved(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		delete(q.inFlight, job.DocID)
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *MockJobQueue) Release(docID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, docID)
}

type staticConverters []domain.ConverterInfo

func (c staticConverters) Converters() []domain.ConverterInfo { return c }

type serviceFixture struct {
	svc       *DocumentService
	queue     *MockJobQueue
	store     *store.MemoryStore
	images    *images.Dir
	uploadDir string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	root := t.TempDir()
	f := &serviceFixture{
		queue:     NewMockJobQueue(),
		store:     store.NewMemoryStore(),
		images:    images.NewDir(filepath.Join(root, "images")),
		uploadDir: filepath.Join(root, "uploads"),
	}
	f.svc = NewDocumentService(f.uploadDir, 1<<20, "fast", f.store, f.images, f.queue,
		staticConverters{{Name: "fast", Default: true, Available: true}}, &testLogger{})
	return f
}

func pdfBytes(t *testing.T) []byte {
	t.Helper()
	data, err := pdftest.Build(pdftest.TextOnly("Hello"))
	require.NoError(t, err)
	return data
}

func (f *serviceFixture) upload(t *testing.T, name, converter string) *domain.UploadMeta {
	t.Helper()
	meta, err := f.svc.Upload(context.Background(), bytes.NewReader(pdfBytes(t)), name, converter)
	require.NoError(t, err)
	return meta
}

func TestUpload_StoresOriginalAndSubmits(t *testing.T) {
	f := newServiceFixture(t)

	meta := f.upload(t, "paper.pdf", "")

	assert.NoError(t, domain.ValidateDocID(meta.DocID))
	assert.Equal(t, "paper.pdf", meta.Filename)
	assert.Equal(t, "fast", meta.Converter)

	src := filepath.Join(f.uploadDir, meta.DocID, "original.pdf")
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), meta.FileSize)

	raw, err := os.ReadFile(filepath.Join(f.uploadDir, meta.DocID, "meta.json"))
	require.NoError(t, err)
	var stored domain.UploadMeta
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, meta.DocID, stored.DocID)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, Job{DocID: meta.DocID, SourcePath: src, Converter: "fast"}, f.queue.jobs[0])

	status, err := f.svc.Status(meta.DocID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, status)
}

func TestUpload_Validation(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Upload(context.Background(), bytes.NewReader(pdfBytes(t)), "notes.docx", "")
	assert.ErrorIs(t, err, domain.ErrInvalidFile)

	_, err = f.svc.Upload(context.Background(), bytes.NewReader([]byte("plain text")), "fake.pdf", "")
	assert.ErrorIs(t, err, domain.ErrInvalidFile)

	big := append([]byte("%PDF-1.4\n"), make([]byte, 1<<20)...)
	_, err = f.svc.Upload(context.Background(), bytes.NewReader(big), "big.pdf", "")
	assert.ErrorIs(t, err, domain.ErrFileTooLarge)

	assert.Empty(t, f.queue.jobs)
}

func TestSubmit_RejectsTerminalDocument(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.store.Commit(&domain.Outcome{DocID: "D1", Content: "done"}))

	err := f.svc.Submit("D1", "/tmp/D1.pdf", "fast")
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	require.NoError(t, f.svc.Submit("D2", "/tmp/D2.pdf", ""))
	assert.Equal(t, "fast", f.queue.jobs[0].Converter)

	assert.ErrorIs(t, f.svc.Submit("../D3", "/tmp/D3.pdf", ""), domain.ErrInvalidDocumentID)
}

func TestContentAndFailure(t *testing.T) {
	f := newServiceFixture(t)
	ready := f.upload(t, "a.pdf", "")
	failed := f.upload(t, "b.pdf", "")
	pending := f.upload(t, "c.pdf", "")

	imgDir, err := f.images.Path(ready.DocID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(imgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imgDir, "img_001.jpg"), []byte{0xFF, 0xD8}, 0o644))
	// img_002 is left over from an earlier conversion and not referenced.
	require.NoError(t, os.WriteFile(filepath.Join(imgDir, "img_002.jpg"), []byte{0xFF, 0xD8}, 0o644))
	readyContent := "# A\n\n## Document Images\n\n**Figure 1**: ![img_001](/api/v1/documents/" + ready.DocID + "/images/img_001)\n\n"
	require.NoError(t, f.store.Commit(&domain.Outcome{DocID: ready.DocID, Content: readyContent, Images: []string{"img_001"}}))
	require.NoError(t, f.store.Commit(&domain.Outcome{DocID: failed.DocID, Failure: &domain.ErrorRecord{
		Error: "OCR failed: bad scan", ErrorType: "ocr_failed", DocID: failed.DocID,
	}}))

	content, err := f.svc.Content(ready.DocID)
	require.NoError(t, err)
	assert.Equal(t, readyContent, content.Content)
	assert.Equal(t, []string{"img_001"}, content.Images)
	assert.Equal(t, domain.StatusReady, content.Status)

	_, err = f.svc.Content(failed.DocID)
	assert.ErrorIs(t, err, domain.ErrNotReady)
	record, err := f.svc.Failure(failed.DocID)
	require.NoError(t, err)
	assert.Equal(t, "ocr_failed", record.ErrorType)

	_, err = f.svc.Content(pending.DocID)
	assert.ErrorIs(t, err, domain.ErrNotReady)

	_, err = f.svc.Status("unknown-doc")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	data, contentType, err := f.svc.Image(ready.DocID, "img_001")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data)
	assert.Equal(t, "image/jpeg", contentType)
}

func TestReprocess_PurgesAndResubmits(t *testing.T) {
	f := newServiceFixture(t)
	meta := f.upload(t, "paper.pdf", "fast")

	imgDir, err := f.images.Path(meta.DocID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(imgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imgDir, "img_001.png"), []byte("x"), 0o644))
	require.NoError(t, f.store.Commit(&domain.Outcome{DocID: meta.DocID, Failure: &domain.ErrorRecord{ErrorType: "ocr_failed"}}))

	require.NoError(t, f.svc.Reprocess(meta.DocID, "layout"))

	status, err := f.svc.Status(meta.DocID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, status)
	ids, err := f.images.List(meta.DocID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.Len(t, f.queue.jobs, 2)
	assert.Equal(t, "layout", f.queue.jobs[1].Converter)

	docs, err := f.svc.List()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "layout", docs[0].Converter)

	f.queue.inFlight[meta.DocID] = true
	assert.ErrorIs(t, f.svc.Reprocess(meta.DocID, ""), domain.ErrInFlight)
	assert.ErrorIs(t, f.svc.Reprocess("missing", ""), domain.ErrDocumentNotFound)
}

func TestReprocess_QueueFailureReleasesSlot(t *testing.T) {
	f := newServiceFixture(t)
	meta := f.upload(t, "paper.pdf", "")
	f.queue.err = domain.ErrPoolClosed

	assert.ErrorIs(t, f.svc.Reprocess(meta.DocID, ""), domain.ErrPoolClosed)
	assert.False(t, f.queue.inFlight[meta.DocID])
}

// TestReprocess_ConcurrentCallsQueueOnce tests that between concurrent
// reprocess and delete calls on one document exactly one wins the slot, and
// outputs are not removed under the queued conversion.
func TestReprocess_ConcurrentCallsQueueOnce(t *testing.T) {
	root := t.TempDir()
	uploadDir := filepath.Join(root, "uploads")
	imgs := images.NewDir(filepath.Join(root, "images"))
	gate := make(chan struct{})
	pool := NewPool(1, func(ctx context.Context, job Job) { <-gate }, &testLogger{})
	pool.Start(context.Background())
	defer func() {
		close(gate)
		_ = pool.Shutdown(context.Background())
	}()
	svc := NewDocumentService(uploadDir, 1<<20, "fast", store.NewMemoryStore(), imgs, pool,
		staticConverters{{Name: "fast", Default: true, Available: true}}, &testLogger{})

	meta, err := svc.Upload(context.Background(), bytes.NewReader(pdfBytes(t)), "paper.pdf", "")
	require.NoError(t, err)
	gate <- struct{}{}
	require.Eventually(t, func() bool { return !pool.InFlight(meta.DocID) }, time.Second, 5*time.Millisecond)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.Reprocess(meta.DocID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrInFlight):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, callers-1, rejected)
	assert.True(t, pool.InFlight(meta.DocID))

	imgDir, err := imgs.Path(meta.DocID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(imgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imgDir, "img_001.png"), []byte("x"), 0o644))

	assert.ErrorIs(t, svc.Delete(meta.DocID), domain.ErrInFlight)
	assert.ErrorIs(t, svc.Reprocess(meta.DocID, ""), domain.ErrInFlight)
	ids, err := imgs.List(meta.DocID)
	require.NoError(t, err)
	assert.Equal(t, []string{"img_001"}, ids)
}

func TestList_NewestFirstWithStatus(t *testing.T) {
	f := newServiceFixture(t)
	first := f.upload(t, "first.pdf", "")
	time.Sleep(10 * time.Millisecond)
	second := f.upload(t, "second.pdf", "")
	require.NoError(t, f.store.Commit(&domain.Outcome{DocID: first.DocID, Content: "ok"}))

	docs, err := f.svc.List()
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, second.DocID, docs[0].DocID)
	assert.Equal(t, domain.StatusProcessing, docs[0].Status)
	assert.Equal(t, first.DocID, docs[1].DocID)
	assert.Equal(t, domain.StatusReady, docs[1].Status)
}

func TestList_EmptyUploadDir(t *testing.T) {
	f := newServiceFixture(t)
	docs, err := f.svc.List()
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDelete_RemovesEverything(t *testing.T) {
	f := newServiceFixture(t)
	meta := f.upload(t, "paper.pdf", "")
	imgDir, err := f.images.Path(meta.DocID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(imgDir, 0o755))
	require.NoError(t, f.store.Commit(&domain.Outcome{DocID: meta.DocID, Failure: &domain.ErrorRecord{ErrorType: "internal"}}))

	require.NoError(t, f.svc.Delete(meta.DocID))

	_, err = os.Stat(filepath.Join(f.uploadDir, meta.DocID))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(imgDir)
	assert.True(t, os.IsNotExist(err))
	_, err = f.store.Failure(meta.DocID)
	assert.ErrorIs(t, err, domain.ErrNotFailed)

	assert.ErrorIs(t, f.svc.Delete(meta.DocID), domain.ErrDocumentNotFound)
}

func TestDelete_RejectsInFlight(t *testing.T) {
	f := newServiceFixture(t)
	meta := f.upload(t, "paper.pdf", "")
	f.queue.inFlight[meta.DocID] = true

	assert.ErrorIs(t, f.svc.Delete(meta.DocID), domain.ErrInFlight)
	assert.True(t, f.queue.inFlight[meta.DocID], "a rejected delete keeps the running slot")
	_, err := os.Stat(filepath.Join(f.uploadDir, meta.DocID, "original.pdf"))
	assert.NoError(t, err)
}

func TestDelete_ReleasesSlot(t *testing.T) {
	f := newServiceFixture(t)
	meta := f.upload(t, "paper.pdf", "")

	require.NoError(t, f.svc.Delete(meta.DocID))
	assert.False(t, f.queue.inFlight[meta.DocID])
}

func TestRecover_ResubmitsUnfinished(t *testing.T) {
	f := newServiceFixture(t)
	done := f.upload(t, "done.pdf", "")
	pending := f.upload(t, "pending.pdf", "text")
	running := f.upload(t, "running.pdf", "")
	require.NoError(t, f.store.Commit(&domain.Outcome{DocID: done.DocID, Content: "ok"}))
	f.queue.inFlight[running.DocID] = true
	f.queue.jobs = nil

	n, err := f.svc.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, pending.DocID, f.queue.jobs[0].DocID)
	assert.Equal(t, "text", f.queue.jobs[0].Converter)
}

func TestConverters(t *testing.T) {
	f := newServiceFixture(t)
	infos := f.svc.Converters()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Default)
}
