package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/domain"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/observability"
	"go.uber.org/zap"
)

// Job is one post-commit side effect.
type Job func(ctx context.Context) error

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Dispatcher runs side effects on a fixed pool of workers so webhook
// acknowledgements never wait on them. Failures are logged and counted,
// never retried.
type Dispatcher struct {
	jobs    chan dispatchItem
	timeout time.Duration
	logger  *zap.Logger

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

type dispatchItem struct {
	kind string
	job  Job
}

func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	d := &Dispatcher{
		jobs:    make(chan dispatchItem, cfg.QueueSize),
		timeout: cfg.Timeout,
		logger:  logger.Named("dispatcher"),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}
	return d
}

// Dispatch enqueues a job without blocking. It reports false when the queue is
// full or the dispatcher is closed; the job is then dropped.
func (d *Dispatcher) Dispatch(kind string, job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("Side effect dropped, dispatcher closed", zap.String("kind", kind))
		observability.RecordSideEffect(kind, domain.ErrSideEffectFailed)
		return false
	}

	select {
	case d.jobs <- dispatchItem{kind: kind, job: job}:
		return true
	default:
		d.logger.Warn("Side effect dropped, queue full", zap.String("kind", kind))
		observability.RecordSideEffect(kind, domain.ErrSideEffectFailed)
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for item := range d.jobs {
		d.run(item)
	}
}

func (d *Dispatcher) run(item dispatchItem) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return item.job(ctx)
	}()

	observability.RecordSideEffect(item.kind, err)
	if err != nil {
		d.logger.Error("Side effect failed",
			zap.String("kind", item.kind),
			zap.Error(fmt.Errorf("%w: %v", domain.ErrSideEffectFailed, err)))
	}
}

// Close stops accepting jobs and waits for queued ones to finish or for ctx
// to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.jobs)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain interrupted: %w", ctx.Err())
	}
}
