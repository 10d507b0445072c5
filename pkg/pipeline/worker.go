package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/pacerio/pacer/pkg/concurrency"
	"github.com/pacerio/pacer/pkg/failfast"
	"github.com/pacerio/pacer/pkg/logging"
	prom "github.com/pacerio/pacer/pkg/observability/prometheus"
)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Logger logging.Logger
	// Metrics is optional; nil disables instrumentation.
	Metrics *prom.Metrics
}

// Worker is the library's worker runtime. It holds a single-slot inbox, so
// it can never sit on two items: the router's delivery is rejected if the
// slot is occupied. After each item finishes, success or failure, the worker
// demands exactly one more. Processing failures are the handler's own
// concern; they are logged and the pipeline keeps flowing.
type Worker struct {
	id         string
	dispatcher Dispatcher
	process    ProcessFunc
	slot       concurrency.Mailbox
	logger     logging.Logger
	metrics    *prom.Metrics

	mu      sync.Mutex
	started bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewWorker creates a worker. An empty id gets a generated one.
func NewWorker(id string, dispatcher Dispatcher, process ProcessFunc, opts WorkerOptions) *Worker {
	failfast.NotNil(dispatcher, "dispatcher")
	failfast.NotNil(process, "process")

	if id == "" {
		id = uuid.New().String()
	}
	if opts.Logger == nil {
		opts.Logger = logging.New()
	}

	return &Worker{
		id:         id,
		dispatcher: dispatcher,
		process:    process,
		slot:       concurrency.NewMailbox(1),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		done:       make(chan struct{}),
	}
}

// ID implements Endpoint.
func (w *Worker) ID() string {
	return w.id
}

// Deliver implements Endpoint. It fails when the worker already holds an
// item, which the router escalates as a protocol violation.
func (w *Worker) Deliver(item interface{}) error {
	return w.slot.Send(item)
}

// Start launches the worker's process and registers its first demand,
// joining the pool.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("worker %s already started", w.id)
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	go w.run(ctx)

	if err := w.dispatcher.Demand(w); err != nil {
		return fmt.Errorf("worker %s: join pool: %w", w.id, err)
	}
	return nil
}

// Stop withdraws the worker's queued demand and shuts its process down. The
// slot is closed before the process exits so an item already racing the
// revoke through the router bounces off the closed slot and the router keeps
// it, instead of landing where nothing will ever drain it.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.mu.Unlock()

	if err := w.dispatcher.Revoke(w); err != nil {
		w.logger.Warnf("worker %s: revoke demand: %v", w.id, err)
	}
	w.slot.Close()
	cancel()
	<-w.done
	return nil
}

// Done is closed when the worker's process has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	for {
		item, err := w.slot.Receive(ctx)
		if err != nil {
			return
		}

		procErr := w.safeProcess(ctx, item)
		if procErr != nil {
			w.logger.Warnf("worker %s: processing failed: %v", w.id, procErr)
		}
		if w.metrics != nil {
			w.metrics.RecordWorkerItem(w.id, procErr)
		}

		// Renewed demand goes out only after the item is finished,
		// whether or not processing succeeded.
		if err := w.dispatcher.Demand(w); err != nil {
			w.logger.Errorf("worker %s: demand next item: %v", w.id, err)
			return
		}
	}
}

// safeProcess isolates handler panics so one bad item cannot take the
// worker's process down with an unaccounted credit.
func (w *Worker) safeProcess(ctx context.Context, item interface{}) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return w.process(ctx, item)
}
