package delivery

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgate/internal/model"
	"github.com/sells-group/leadgate/internal/resilience"
	"github.com/sells-group/leadgate/internal/store"
)

// ErrQueueFull is returned when the queue cannot accept another lead.
var ErrQueueFull = eris.New("delivery: queue full")

// DefaultQueueSize bounds how many leads can wait for a worker.
const DefaultQueueSize = 256

// DefaultWorkers is the worker pool size.
const DefaultWorkers = 4

// DefaultBuyerRPS throttles outbound requests per buyer endpoint.
const DefaultBuyerRPS = 5

// Queue is a bounded buffer of lead IDs awaiting delivery.
type Queue struct {
	tasks chan string
}

// NewQueue creates a Queue with the given capacity.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{tasks: make(chan string, size)}
}

// Enqueue adds a lead for async delivery without blocking. A full queue
// is surfaced to the caller so the lead is not silently dropped.
func (q *Queue) Enqueue(leadID string) error {
	select {
	case q.tasks <- leadID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports how many leads are waiting.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Worker drains the queue with a pool of goroutines. Retries for transient
// transport failures happen inside a single task; a lead that exhausts its
// attempts ends FAILED and is not re-enqueued.
type Worker struct {
	queue    *Queue
	executor *Executor
	store    store.Store
	retry    resilience.RetryConfig
	workers  int
	buyerRPS rate.Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// WorkerOption configures the Worker.
type WorkerOption func(*Worker)

// WithWorkers sets the pool size.
func WithWorkers(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithRetryConfig overrides the per-task retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) WorkerOption {
	return func(w *Worker) { w.retry = cfg }
}

// WithBuyerRPS sets the outbound request rate allowed per buyer.
func WithBuyerRPS(rps float64) WorkerOption {
	return func(w *Worker) {
		if rps > 0 {
			w.buyerRPS = rate.Limit(rps)
		}
	}
}

// NewWorker creates a Worker over the queue and executor.
func NewWorker(q *Queue, e *Executor, st store.Store, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:    q,
		executor: e,
		store:    st,
		retry:    resilience.DefaultRetryConfig(),
		workers:  DefaultWorkers,
		buyerRPS: DefaultBuyerRPS,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes tasks until the context is canceled. It always returns
// ctx.Err(); task failures are logged and recorded, never fatal.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case leadID := <-w.queue.tasks:
					if err := w.process(ctx, leadID); err != nil {
						zap.L().Error("delivery task failed",
							zap.String("lead_id", leadID),
							zap.Error(err),
						)
					}
				}
			}
		})
	}
	return g.Wait()
}

// process delivers one lead: load, route, throttle, attempt with retries,
// finalize. Terminal leads are skipped so a duplicate enqueue is harmless.
func (w *Worker) process(ctx context.Context, leadID string) error {
	lead, err := w.store.GetLead(ctx, leadID)
	if err != nil {
		return eris.Wrapf(err, "delivery: load lead %s", leadID)
	}
	if lead.Status.Terminal() {
		zap.L().Debug("skipping terminal lead", zap.String("lead_id", leadID))
		return nil
	}

	buyer, err := w.executor.Match(ctx, lead)
	if err != nil {
		return err
	}
	if buyer == nil {
		zap.L().Info("delivery: no eligible buyer",
			zap.String("lead_id", lead.ID),
			zap.String("zip", lead.Zip),
		)
		return nil
	}

	if err := w.limiter(buyer.ID).Wait(ctx); err != nil {
		return eris.Wrap(err, "delivery: buyer throttle")
	}

	var last *model.Delivery
	cfg := w.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("webhook " + buyer.Name)
	}
	attemptErr := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		d, execErr := w.executor.Execute(ctx, lead, buyer)
		if execErr != nil {
			return execErr
		}
		last = d
		return transportError(d)
	})

	if last == nil {
		// Execute itself failed before any attempt was recorded.
		return attemptErr
	}

	var te *resilience.TransportError
	if attemptErr != nil && !errors.As(attemptErr, &te) {
		return attemptErr
	}
	return w.executor.Finalize(ctx, lead, last)
}

func (w *Worker) limiter(buyerID string) *rate.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.limiters[buyerID]
	if !ok {
		l = rate.NewLimiter(w.buyerRPS, 1)
		w.limiters[buyerID] = l
	}
	return l
}
