package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"paperreader/internal/domain"
)

// Job is one document waiting for conversion.
type Job struct {
	DocID      string
	SourcePath string
	Converter  string
}

// JobHandler processes one job to completion.
type JobHandler func(ctx context.Context, job Job)

// Pool runs jobs on a fixed number of workers. Submit appends to an
// unbounded FIFO and returns immediately. A document is accepted at most
// once while it is queued or running.
type Pool struct {
	workers int
	handler JobHandler
	logger  domain.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Job
	inFlight map[string]struct{}
	running  int
	closed   bool

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool creates a pool of workers; it does nothing until Start.
func NewPool(workers int, handler JobHandler, logger domain.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		workers:  workers,
		handler:  handler,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. Jobs get ctx's values but not its
// cancellation: a started conversion always runs to a terminal outcome.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		jobCtx := context.WithoutCancel(ctx)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.work(jobCtx, i+1)
		}
		p.logger.Info("Conversion pool started", "workers", p.workers)
	})
}

// Submit enqueues job without waiting for it to run.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return domain.ErrPoolClosed
	}
	if _, ok := p.inFlight[job.DocID]; ok {
		return domain.ErrInFlight
	}
	p.inFlight[job.DocID] = struct{}{}
	p.queue = append(p.queue, job)
	p.cond.Signal()

	p.logger.Debug("Conversion queued", "doc_id", job.DocID, "converter", job.Converter, "queued", len(p.queue))
	return nil
}

// Reserve claims docID's slot without queueing anything, so a caller can
// clear the document's outputs knowing no conversion of it is queued or
// running. The caller must follow up with SubmitReserved or Release.
func (p *Pool) Reserve(docID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return domain.ErrPoolClosed
	}
	if _, ok := p.inFlight[docID]; ok {
		return domain.ErrInFlight
	}
	p.inFlight[docID] = struct{}{}
	return nil
}

// SubmitReserved enqueues a job whose slot was claimed with Reserve. When
// the pool is closed the slot is released.
func (p *Pool) SubmitReserved(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inFlight[job.DocID]; !ok {
		return fmt.Errorf("conversion of %s was not reserved", job.DocID)
	}
	if p.closed {
		delete(p.inFlight, job.DocID)
		return domain.ErrPoolClosed
	}
	p.queue = append(p.queue, job)
	p.cond.Signal()

	p.logger.Debug("Conversion queued", "doc_id", job.DocID, "converter", job.Converter, "queued", len(p.queue))
	return nil
}

// Release drops a reservation that will not be submitted.
func (p *Pool) Release(docID string) {
	p.mu.Lock()
	delete(p.inFlight, docID)
	p.mu.Unlock()
}

// InFlight reports whether docID is reserved, queued or running.
func (p *Pool) InFlight(docID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[docID]
	return ok
}

// Stats returns the number of queued and running jobs.
func (p *Pool) Stats() (queued, running int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue), p.running
}

// Shutdown stops accepting jobs and waits for running ones. Jobs still
// queued are dropped; they have no artifact yet, so recovery picks them up
// on the next start.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	dropped := len(p.queue)
	for _, job := range p.queue {
		delete(p.inFlight, job.DocID)
	}
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	if dropped > 0 {
		p.logger.Warn("Conversion pool shutting down with queued jobs", "dropped", dropped)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Conversion pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("conversion pool shutdown: %w", ctx.Err())
	}
}

func (p *Pool) next() (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return Job{}, false
	}

	job := p.queue[0]
	p.queue[0] = Job{}
	p.queue = p.queue[1:]
	p.running++
	return job, true
}

func (p *Pool) finish(job Job) {
	p.mu.Lock()
	delete(p.inFlight, job.DocID)
	p.running--
	p.mu.Unlock()
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		job, ok := p.next()
		if !ok {
			return
		}
		p.runJob(ctx, id, job)
	}
}

func (p *Pool) runJob(ctx context.Context, worker int, job Job) {
	start := time.Now()
	defer p.finish(job)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Conversion job panicked", fmt.Errorf("%v", r), "doc_id", job.DocID, "worker", worker)
		}
	}()

	p.logger.Debug("Conversion job picked up", "doc_id", job.DocID, "worker", worker)
	p.handler(ctx, job)
	p.logger.Debug("Conversion job done", "doc_id", job.DocID, "worker", worker, "elapsed_ms", time.Since(start).Milliseconds())
}
