package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
)

// JobFunc processes one partition, identified by its index
type JobFunc func(ctx context.Context, partition int) error

// PoolConfig holds configuration for the worker pool
type PoolConfig struct {
	NumWorkers int
	QueueSize  int
	JobTimeout time.Duration // 0 disables the per-job timeout
}

// WorkerPool runs partition jobs on a fixed set of workers
type WorkerPool struct {
	config   PoolConfig
	workers  []*worker
	jobQueue chan *job
	jobFunc  JobFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   sync.Once

	// Metrics
	jobsProcessed uint64
	jobsFailed    uint64
	workersActive int64
}

// worker represents a single worker in the pool
type worker struct {
	id   int
	pool *WorkerPool

	// Metrics
	jobsProcessed uint64
	jobsFailed    uint64
	lastActive    time.Time
	mu            sync.RWMutex
}

// job is one queued partition
type job struct {
	ctx       context.Context
	partition int
	resultCh  chan error
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(config PoolConfig, jobFunc JobFunc) (*WorkerPool, error) {
	if jobFunc == nil {
		return nil, fmt.Errorf("job function is required")
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 4 // Default
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.NumWorkers * 2
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		config:   config,
		workers:  make([]*worker, config.NumWorkers),
		jobQueue: make(chan *job, config.QueueSize),
		jobFunc:  jobFunc,
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < config.NumWorkers; i++ {
		pool.workers[i] = &worker{id: i, pool: pool}
	}

	return pool, nil
}

// Start starts all workers in the pool
func (p *WorkerPool) Start() {
	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run()
	}
}

// SubmitAsync queues a partition and returns a channel that receives its result
func (p *WorkerPool) SubmitAsync(ctx context.Context, partition int) (<-chan error, error) {
	select {
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	default:
	}

	j := &job{
		ctx:       ctx,
		partition: partition,
		resultCh:  make(chan error, 1),
	}

	select {
	case p.jobQueue <- j:
		return j.resultCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	}
}

// Submit queues a partition and waits for its result
func (p *WorkerPool) Submit(ctx context.Context, partition int) error {
	resultCh, err := p.SubmitAsync(ctx, partition)
	if err != nil {
		return err
	}

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunAll runs partitions 0..n-1 and waits for every one to finish.
// Errors are joined in partition order.
func (p *WorkerPool) RunAll(ctx context.Context, n int) error {
	results := make([]<-chan error, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		ch, err := p.SubmitAsync(ctx, i)
		if err != nil {
			errs[i] = fmt.Errorf("partition %d: %w", i, err)
			continue
		}
		results[i] = ch
	}

	for i, ch := range results {
		if ch == nil {
			continue
		}
		if err := <-ch; err != nil {
			errs[i] = fmt.Errorf("partition %d: %w", i, err)
		}
	}

	return errors.Join(errs...)
}

// Stop gracefully stops the worker pool after queued jobs drain. Safe to call more than once.
func (p *WorkerPool) Stop() error {
	p.stop.Do(func() {
		close(p.jobQueue)
		p.wg.Wait()
		p.cancel()
	})
	return nil
}

// Metrics returns worker pool statistics
func (p *WorkerPool) Metrics() PoolMetrics {
	workerMetrics := make([]WorkerMetrics, len(p.workers))
	for i, w := range p.workers {
		workerMetrics[i] = w.metrics()
	}

	return PoolMetrics{
		NumWorkers:    len(p.workers),
		JobsProcessed: atomic.LoadUint64(&p.jobsProcessed),
		JobsFailed:    atomic.LoadUint64(&p.jobsFailed),
		WorkersActive: atomic.LoadInt64(&p.workersActive),
		QueueSize:     len(p.jobQueue),
		QueueCapacity: cap(p.jobQueue),
		WorkerMetrics: workerMetrics,
	}
}

// run is the main worker loop
func (w *worker) run() {
	defer w.pool.wg.Done()

	for j := range w.pool.jobQueue {
		w.processJob(j)
	}
}

// processJob processes a single job
func (w *worker) processJob(j *job) {
	atomic.AddInt64(&w.pool.workersActive, 1)
	defer atomic.AddInt64(&w.pool.workersActive, -1)

	w.mu.Lock()
	w.lastActive = time.Now()
	w.mu.Unlock()

	ctx := j.ctx
	if w.pool.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.pool.config.JobTimeout)
		defer cancel()
	}

	var err error
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else {
		err = w.pool.jobFunc(ctx, j.partition)
	}

	atomic.AddUint64(&w.jobsProcessed, 1)
	atomic.AddUint64(&w.pool.jobsProcessed, 1)

	if err != nil {
		atomic.AddUint64(&w.jobsFailed, 1)
		atomic.AddUint64(&w.pool.jobsFailed, 1)
	}

	j.resultCh <- err
}

// metrics returns worker metrics
func (w *worker) metrics() WorkerMetrics {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return WorkerMetrics{
		ID:            w.id,
		JobsProcessed: atomic.LoadUint64(&w.jobsProcessed),
		JobsFailed:    atomic.LoadUint64(&w.jobsFailed),
		LastActive:    w.lastActive,
	}
}

// PoolMetrics holds worker pool statistics
type PoolMetrics struct {
	NumWorkers    int
	JobsProcessed uint64
	JobsFailed    uint64
	WorkersActive int64
	QueueSize     int
	QueueCapacity int
	WorkerMetrics []WorkerMetrics
}

// WorkerMetrics holds individual worker statistics
type WorkerMetrics struct {
	ID            int
	JobsProcessed uint64
	JobsFailed    uint64
	LastActive    time.Time
}

// Utilization returns the queue utilization percentage (0-100)
func (m PoolMetrics) Utilization() float64 {
	if m.QueueCapacity == 0 {
		return 0
	}
	return (float64(m.QueueSize) / float64(m.QueueCapacity)) * 100.0
}

// SuccessRate returns the job success rate percentage (0-100)
func (m PoolMetrics) SuccessRate() float64 {
	total := m.JobsProcessed
	if total == 0 {
		return 100.0
	}
	successful := total - m.JobsFailed
	return (float64(successful) / float64(total)) * 100.0
}
