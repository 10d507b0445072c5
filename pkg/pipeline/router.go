package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pacerio/pacer/pkg/concurrency"
	"github.com/pacerio/pacer/pkg/failfast"
	"github.com/pacerio/pacer/pkg/logging"
	prom "github.com/pacerio/pacer/pkg/observability/prometheus"
)

// RouterOptions configures a Router.
type RouterOptions struct {
	Name string
	// MailboxCapacity bounds the router's inbox. The protocol bounds the
	// real depth by the number of workers plus one in-flight item.
	MailboxCapacity int
	Logger          logging.Logger
	// Metrics is optional; nil disables instrumentation.
	Metrics *prom.Metrics
	// Tracer is optional; when set, every delivery gets a span.
	Tracer trace.Tracer
}

// RouterStats is a point-in-time snapshot of router accounting.
type RouterStats struct {
	PendingItems  int    `json:"pending_items"`
	PendingDemand int    `json:"pending_demand"`
	Delivered     uint64 `json:"delivered"`
	Signalled     uint64 `json:"signalled"`
}

// Router pairs items with waiting workers. It owns both surplus queues
// exclusively: they are touched only from the run loop, so the mutual
// exclusion invariant (never items and demand queued at once) holds by
// construction of the matching rules.
//
// For every item that leaves its custody the router sends exactly one demand
// signal upstream. The one exception is the seed signal emitted at startup,
// which primes an otherwise idle producer.
type Router struct {
	name     string
	upstream DemandSink
	mailbox  concurrency.Mailbox

	pendingItems  []interface{}
	pendingDemand []Endpoint

	// Snapshot counters for Stats; the queues themselves are loop-private.
	itemsLen  atomic.Int64
	demandLen atomic.Int64
	delivered atomic.Uint64
	signalled atomic.Uint64

	logger  logging.Logger
	metrics *prom.Metrics
	tracer  trace.Tracer

	mu      sync.Mutex
	started bool
	runErr  error
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewRouter creates a router that signals demand to upstream.
func NewRouter(upstream DemandSink, opts RouterOptions) *Router {
	failfast.NotNil(upstream, "upstream")

	if opts.Name == "" {
		opts.Name = "router"
	}
	if opts.Logger == nil {
		opts.Logger = logging.New()
	}

	return &Router{
		name:     opts.Name,
		upstream: upstream,
		mailbox:  concurrency.NewMailbox(opts.MailboxCapacity),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		done:     make(chan struct{}),
	}
}

// Start launches the router's process and seeds the pipeline with the
// initial demand signal, so the producer starts working before any worker
// has registered.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("router %s already started", r.name)
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	go r.run(ctx)

	if err := r.upstream.Signal(); err != nil {
		return fmt.Errorf("router %s: seed demand signal: %w", r.name, err)
	}
	r.logger.Debugf("router %s: seeded initial demand", r.name)
	return nil
}

// Stop shuts the router down and waits for its process to exit.
func (r *Router) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.mu.Unlock()

	r.mailbox.Close()
	cancel()
	<-r.done
	return nil
}

// Demand registers one unit of readiness for the endpoint (non-blocking).
func (r *Router) Demand(ep Endpoint) error {
	failfast.NotNil(ep, "endpoint")
	return r.mailbox.Send(demandMsg{from: ep})
}

// Forward hands one item to the router (non-blocking).
func (r *Router) Forward(item interface{}) error {
	return r.mailbox.Send(itemMsg{item: item})
}

// Revoke withdraws the endpoint's queued demand. Revoking an endpoint that
// has no demand queued (e.g. one still busy with an item) is a no-op.
func (r *Router) Revoke(ep Endpoint) error {
	failfast.NotNil(ep, "endpoint")
	return r.mailbox.Send(revokeMsg{from: ep})
}

// Stats returns a snapshot of the router's accounting. Delivered and
// Signalled stay equal over any run; that conservation is what keeps
// upstream buffering bounded.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		PendingItems:  int(r.itemsLen.Load()),
		PendingDemand: int(r.demandLen.Load()),
		Delivered:     r.delivered.Load(),
		Signalled:     r.signalled.Load(),
	}
}

// Done is closed when the router's process has exited.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Err reports why the router stopped, nil for a clean shutdown.
func (r *Router) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

func (r *Router) run(ctx context.Context) {
	defer close(r.done)

	for {
		msg, err := r.mailbox.Receive(ctx)
		if err != nil {
			return
		}

		switch m := msg.(type) {
		case demandMsg:
			err = r.handleDemand(ctx, m.from)
		case itemMsg:
			err = r.handleItem(ctx, m.item)
		case revokeMsg:
			r.handleRevoke(m.from)
		default:
			err = fmt.Errorf("router %s: unexpected message %T", r.name, msg)
		}
		if err != nil {
			r.fail(err)
			return
		}
	}
}

func (r *Router) fail(err error) {
	r.mu.Lock()
	r.runErr = err
	r.mu.Unlock()
	r.logger.Errorf("router %s stopped: %v", r.name, err)
	r.mailbox.Close()
}

// handleDemand matches new demand against stocked items, or queues the
// worker when no stock exists.
func (r *Router) handleDemand(ctx context.Context, ep Endpoint) error {
	if len(r.pendingItems) > 0 {
		item := r.pendingItems[0]
		r.pendingItems = r.pendingItems[1:]

		err := r.deliver(ctx, ep, item)
		if errors.Is(err, errEndpointGone) {
			// The worker left between demanding and delivery; keep the
			// item at the head so FIFO order is preserved.
			r.pendingItems = append([]interface{}{item}, r.pendingItems...)
			r.syncQueueDepths()
			return nil
		}
		if err != nil {
			return err
		}
		r.syncQueueDepths()
		return r.signalUpstream()
	}

	r.pendingDemand = append(r.pendingDemand, ep)
	r.syncQueueDepths()
	r.logger.Debugf("router %s: worker %s queued, %d waiting", r.name, ep.ID(), len(r.pendingDemand))
	return nil
}

// handleItem matches a new item against queued demand, or stocks it.
// Direct dispatch also re-signals upstream: the accounting is per item
// leaving custody, whether it was stocked first or not. Demand queued by a
// worker that has since departed is dropped and the next waiting worker is
// tried instead.
func (r *Router) handleItem(ctx context.Context, item interface{}) error {
	for len(r.pendingDemand) > 0 {
		ep := r.pendingDemand[0]
		r.pendingDemand = r.pendingDemand[1:]

		err := r.deliver(ctx, ep, item)
		if errors.Is(err, errEndpointGone) {
			r.logger.Debugf("router %s: dropped stale demand from departed worker %s", r.name, ep.ID())
			continue
		}
		if err != nil {
			return err
		}
		r.syncQueueDepths()
		return r.signalUpstream()
	}

	r.pendingItems = append(r.pendingItems, item)
	r.syncQueueDepths()
	r.logger.Debugf("router %s: item stocked, %d pending", r.name, len(r.pendingItems))
	return nil
}

func (r *Router) handleRevoke(ep Endpoint) {
	for i, queued := range r.pendingDemand {
		if queued.ID() == ep.ID() {
			r.pendingDemand = append(r.pendingDemand[:i], r.pendingDemand[i+1:]...)
			r.syncQueueDepths()
			r.logger.Debugf("router %s: worker %s revoked its demand", r.name, ep.ID())
			return
		}
	}
}

// errEndpointGone reports that the endpoint's slot is closed: the worker
// departed while messages addressed to it were still in flight. That is a
// normal consequence of detaching during live flow, not a violation; the
// caller reclaims the item.
var errEndpointGone = errors.New("endpoint departed")

// deliver hands the item to the worker. A full slot means the worker already
// holds an item it never asked to replace, so the credit accounting is
// broken and the router stops. A closed slot means the worker departed and
// is reported as errEndpointGone.
func (r *Router) deliver(ctx context.Context, ep Endpoint, item interface{}) error {
	if r.tracer != nil {
		var span trace.Span
		_, span = r.tracer.Start(ctx, "pipeline.deliver",
			trace.WithAttributes(attribute.String("worker.id", ep.ID())))
		defer span.End()
	}

	if err := ep.Deliver(item); err != nil {
		if errors.Is(err, concurrency.ErrMailboxClosed) {
			return errEndpointGone
		}
		return fmt.Errorf("%w: deliver to worker %s: %v", ErrProtocolViolation, ep.ID(), err)
	}
	r.delivered.Add(1)
	if r.metrics != nil {
		r.metrics.RecordDelivery()
	}
	return nil
}

func (r *Router) signalUpstream() error {
	if err := r.upstream.Signal(); err != nil {
		return fmt.Errorf("router %s: signal upstream: %w", r.name, err)
	}
	r.signalled.Add(1)
	if r.metrics != nil {
		r.metrics.RecordDemandSignal()
	}
	return nil
}

func (r *Router) syncQueueDepths() {
	r.itemsLen.Store(int64(len(r.pendingItems)))
	r.demandLen.Store(int64(len(r.pendingDemand)))
	if r.metrics != nil {
		r.metrics.SetQueueDepths(len(r.pendingItems), len(r.pendingDemand))
	}
}
