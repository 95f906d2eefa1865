package webserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/semaphore"

	"github.com/lattice-net/netweb/internal/logging"
	"github.com/lattice-net/netweb/internal/metrics"
)

// Executor decides where a handler's response-producing closure runs:
// inline on the calling goroutine, offloaded to a bounded worker pool, or
// submitted to a bounded task channel with backpressure. Strategy choice is
// invisible to the Router and to handlers.
type Executor interface {
	// Exec runs produce and invokes done with its result. done may be
	// called on a different goroutine than Exec for the Pool and Channel
	// strategies.
	Exec(produce func() *Response, done func(*Response))
}

// InlineExecutor runs the producer on the calling goroutine. Handlers using
// this strategy must not block.
type InlineExecutor struct{}

// NewInlineExecutor builds an Executor that runs handlers inline.
func NewInlineExecutor() *InlineExecutor { return &InlineExecutor{} }

func (e *InlineExecutor) Exec(produce func() *Response, done func(*Response)) {
	done(produce())
}

// PoolExecutor offloads the producer to a bounded worker pool sized by a
// weighted semaphore; exceptions (panics) inside the producer are
// translated to a 500 "error" response rather than crashing the session.
type PoolExecutor struct {
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewPoolExecutor builds an Executor that offloads to a goroutine, bounded
// to size concurrent producers at once.
func NewPoolExecutor(size int, m *metrics.Metrics, log *slog.Logger) *PoolExecutor {
	if log == nil {
		log = logging.Nop()
	}
	return &PoolExecutor{sem: semaphore.NewWeighted(int64(size)), metrics: m, log: log}
}

func (e *PoolExecutor) Exec(produce func() *Response, done func(*Response)) {
	if !e.sem.TryAcquire(1) {
		e.metrics.RecordExecutorRejection("pool_full")
		done(JSONErrorResponse(http.StatusTooManyRequests, "pool saturated"))
		return
	}
	go func() {
		defer e.sem.Release(1)
		done(e.runSafely(produce))
	}()
}

func (e *PoolExecutor) runSafely(produce func() *Response) (resp *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Warn("handler panic", logging.KeyError, fmt.Sprint(rec))
			resp = JSONErrorResponse(http.StatusInternalServerError, fmt.Sprint(rec))
		}
	}()
	return produce()
}

// ChannelExecutor submits the producer to a bounded channel drained by a
// fixed pool of worker goroutines. A burst beyond ChannelCapacity is
// rejected with 429 rather than queued unboundedly (E5).
type ChannelExecutor struct {
	tasks   chan func()
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelExecutor builds an Executor backed by a bounded task channel
// with capacity workers draining it.
func NewChannelExecutor(capacity int, m *metrics.Metrics, log *slog.Logger) *ChannelExecutor {
	if log == nil {
		log = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &ChannelExecutor{
		tasks:   make(chan func(), capacity),
		sem:     semaphore.NewWeighted(int64(capacity)),
		metrics: m,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < capacity; i++ {
		go e.worker()
	}
	return e
}

func (e *ChannelExecutor) worker() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case task, ok := <-e.tasks:
			if !ok {
				return
			}
			if e.ctx.Err() != nil {
				return
			}
			task()
		}
	}
}

func (e *ChannelExecutor) Exec(produce func() *Response, done func(*Response)) {
	if !e.sem.TryAcquire(1) {
		e.metrics.RecordExecutorRejection("channel_full")
		done(JSONErrorResponse(http.StatusTooManyRequests, "channel saturated"))
		return
	}
	task := func() {
		defer e.sem.Release(1)
		done(e.runSafely(produce))
	}
	select {
	case e.tasks <- task:
	default:
		e.sem.Release(1)
		e.metrics.RecordExecutorRejection("channel_full")
		done(JSONErrorResponse(http.StatusTooManyRequests, "channel saturated"))
	}
}

func (e *ChannelExecutor) runSafely(produce func() *Response) (resp *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Warn("handler panic", logging.KeyError, fmt.Sprint(rec))
			resp = JSONErrorResponse(http.StatusInternalServerError, fmt.Sprint(rec))
		}
	}()
	return produce()
}

// Stop terminates the worker pool. Workers exit without running any task
// still waiting in the channel or submitted after Stop; such tasks never
// invoke their completion.
func (e *ChannelExecutor) Stop() {
	e.cancel()
}
