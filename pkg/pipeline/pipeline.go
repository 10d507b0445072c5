package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/pacerio/pacer/pkg/fsm"
	"github.com/pacerio/pacer/pkg/logging"
	prom "github.com/pacerio/pacer/pkg/observability/prometheus"
	"github.com/pacerio/pacer/pkg/schedule"
)

// Options configures a Pipeline.
type Options struct {
	Name string
	// PollInterval is the tick period used while the producer is Polling.
	// Defaults to 100ms.
	PollInterval time.Duration
	// MailboxCapacity bounds the producer and router inboxes.
	MailboxCapacity int
	Logger          logging.Logger
	// Metrics is optional; nil disables instrumentation.
	Metrics *prom.Metrics
	// Tracer is optional; when set, deliveries get spans.
	Tracer trace.Tracer
}

// Stats is a point-in-time snapshot of the whole pipeline.
type Stats struct {
	ProducerState fsm.State   `json:"producer_state"`
	Router        RouterStats `json:"router"`
	Workers       int         `json:"workers"`
}

// Pipeline wires a Source, a Producer, a Router and a tick scheduler into
// the closed demand loop, and manages worker membership.
type Pipeline struct {
	name     string
	producer *Producer
	router   *Router
	ticker   *schedule.Ticker
	logger   logging.Logger
	metrics  *prom.Metrics

	mu      sync.Mutex
	workers map[string]*Worker
	ctx     context.Context
	started bool
}

// New assembles a pipeline around the given source.
func New(source Source, opts Options) *Pipeline {
	if opts.Name == "" {
		opts.Name = "pacer"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logging.New()
	}

	producer := NewProducer(source, ProducerOptions{
		Name:            opts.Name + ".producer",
		MailboxCapacity: opts.MailboxCapacity,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
	})
	router := NewRouter(producer, RouterOptions{
		Name:            opts.Name + ".router",
		MailboxCapacity: opts.MailboxCapacity,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
		Tracer:          opts.Tracer,
	})
	producer.Bind(router)

	return &Pipeline{
		name:     opts.Name,
		producer: producer,
		router:   router,
		ticker:   schedule.NewTicker(opts.PollInterval, producer, opts.Logger),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		workers:  make(map[string]*Worker),
	}
}

// Start launches producer, router (which seeds the initial demand) and the
// tick scheduler.
func (pl *Pipeline) Start(ctx context.Context) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.started {
		return fmt.Errorf("pipeline %s already started", pl.name)
	}

	if err := pl.producer.Start(ctx); err != nil {
		return fmt.Errorf("start producer: %w", err)
	}
	if err := pl.router.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	if err := pl.ticker.Start(ctx); err != nil {
		return fmt.Errorf("start ticker: %w", err)
	}

	pl.ctx = ctx
	pl.started = true
	pl.logger.Infof("pipeline %s started", pl.name)
	return nil
}

// AttachWorker creates and starts a worker running process, joining it to
// the pool. An empty id gets a generated one.
func (pl *Pipeline) AttachWorker(id string, process ProcessFunc) (*Worker, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if !pl.started {
		return nil, fmt.Errorf("pipeline %s not started", pl.name)
	}

	w := NewWorker(id, pl.router, process, WorkerOptions{
		Logger:  pl.logger,
		Metrics: pl.metrics,
	})
	if _, exists := pl.workers[w.ID()]; exists {
		return nil, fmt.Errorf("worker %s already attached", w.ID())
	}
	if err := w.Start(pl.ctx); err != nil {
		return nil, err
	}
	pl.workers[w.ID()] = w
	pl.logger.Infof("pipeline %s: worker %s attached", pl.name, w.ID())
	return w, nil
}

// DetachWorker stops the worker and withdraws its demand from the router.
func (pl *Pipeline) DetachWorker(id string) error {
	pl.mu.Lock()
	w, ok := pl.workers[id]
	if ok {
		delete(pl.workers, id)
	}
	pl.mu.Unlock()

	if !ok {
		return fmt.Errorf("worker %s not attached", id)
	}
	return w.Stop()
}

// Stop shuts the pipeline down: ticker first so no new polls arrive, then
// workers, then router, then producer.
func (pl *Pipeline) Stop() error {
	pl.mu.Lock()
	if !pl.started {
		pl.mu.Unlock()
		return nil
	}
	pl.started = false
	workers := make([]*Worker, 0, len(pl.workers))
	for _, w := range pl.workers {
		workers = append(workers, w)
	}
	pl.workers = make(map[string]*Worker)
	pl.mu.Unlock()

	pl.ticker.Stop()
	for _, w := range workers {
		if err := w.Stop(); err != nil {
			pl.logger.Warnf("pipeline %s: stop worker %s: %v", pl.name, w.ID(), err)
		}
	}
	if err := pl.router.Stop(); err != nil {
		return err
	}
	if err := pl.producer.Stop(); err != nil {
		return err
	}
	pl.logger.Infof("pipeline %s stopped", pl.name)
	return nil
}

// Stats returns a snapshot of the pipeline.
func (pl *Pipeline) Stats() Stats {
	pl.mu.Lock()
	workers := len(pl.workers)
	pl.mu.Unlock()

	return Stats{
		ProducerState: pl.producer.State(),
		Router:        pl.router.Stats(),
		Workers:       workers,
	}
}

// Router exposes the router, mainly for external workers implementing
// Endpoint themselves.
func (pl *Pipeline) Router() *Router {
	return pl.router
}

// Producer exposes the producer.
func (pl *Pipeline) Producer() *Producer {
	return pl.producer
}
