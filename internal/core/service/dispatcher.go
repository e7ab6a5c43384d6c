package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/vircadia/worldsync/internal/core/domain"
	"github.com/vircadia/worldsync/internal/telemetry/logger"
	"github.com/vircadia/worldsync/internal/telemetry/metric"
)

// QueryStore executes one client statement under a session's identity.
type QueryStore interface {
	Execute(ctx context.Context, sessionID uuid.UUID, token, sql string, params []any, maxRows int) ([]map[string]any, error)
}

// QueryRequest is one client query.
type QueryRequest struct {
	RequestID string
	SQL       string
	Params    []any
}

// QueryResult is the single response to a QueryRequest.
type QueryResult struct {
	RequestID string
	Rows      []map[string]any
	Err       error
}

// QueryDispatcherConfig configures the dispatcher.
type QueryDispatcherConfig struct {
	// MaxConcurrent bounds in-flight queries across all connections.
	MaxConcurrent int64

	// QueryTimeout is the per-query execution deadline.
	QueryTimeout time.Duration

	// MaxResultRows caps rows returned by one query.
	MaxResultRows int

	// QueueDepth is the per-connection pending request bound.
	QueueDepth int

	Logger  logger.Logger
	Metrics *metric.Registry
}

// QueryDispatcher executes client queries with per-connection FIFO
// ordering and a global concurrency bound.
type QueryDispatcher struct {
	store   QueryStore
	sem     *semaphore.Weighted
	timeout time.Duration
	maxRows int
	depth   int

	logger  logger.Logger
	metrics *metric.Registry
}

// NewQueryDispatcher creates a dispatcher.
func NewQueryDispatcher(store QueryStore, cfg QueryDispatcherConfig) *QueryDispatcher {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 64
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.MaxResultRows < 1 {
		cfg.MaxResultRows = 10000
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewRegistry()
	}

	return &QueryDispatcher{
		store:   store,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		timeout: cfg.QueryTimeout,
		maxRows: cfg.MaxResultRows,
		depth:   cfg.QueueDepth,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// QueryQueue serialises one connection's queries. Clients may pipeline
// requests; responses are delivered in receive order so the agent
// context survives between calls.
type QueryQueue struct {
	requests chan QueryRequest

	closeOnce sync.Once
	closed    chan struct{}
	drained   chan struct{}
}

// NewQueue starts a per-connection worker. Results are handed to
// deliver in FIFO order. The worker exits when the queue is closed or
// ctx ends.
func (d *QueryDispatcher) NewQueue(ctx context.Context, bound *BoundSession, deliver func(QueryResult)) *QueryQueue {
	q := &QueryQueue{
		requests: make(chan QueryRequest, d.depth),
		closed:   make(chan struct{}),
		drained:  make(chan struct{}),
	}

	go func() {
		defer close(q.drained)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.closed:
				return
			case req := <-q.requests:
				deliver(d.execute(ctx, bound, req))
			}
		}
	}()

	return q
}

// Enqueue adds a request to the connection's queue.
func (q *QueryQueue) Enqueue(req QueryRequest) error {
	select {
	case <-q.closed:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case q.requests <- req:
		return nil
	case <-q.closed:
		return domain.ErrConnectionClosed
	default:
		return domain.ErrBackpressure.WithDetails("query queue full")
	}
}

// Close stops the worker. Pending requests are dropped; their
// connection is gone so nobody would read the responses.
func (q *QueryQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
	<-q.drained
}

func (d *QueryDispatcher) execute(ctx context.Context, bound *BoundSession, req QueryRequest) QueryResult {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return QueryResult{RequestID: req.RequestID, Err: domain.ErrConnectionClosed.WithCause(err)}
	}
	defer d.sem.Release(1)

	qctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	rows, err := d.store.Execute(qctx, bound.Session.ID, bound.Session.Token, req.SQL, req.Params, d.maxRows)
	d.metrics.QueryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		d.metrics.QueryErrors.Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.ErrQueryTimeout.WithDetails("request_id=" + req.RequestID)
		}
		return QueryResult{RequestID: req.RequestID, Err: err}
	}
	return QueryResult{RequestID: req.RequestID, Rows: rows}
}
