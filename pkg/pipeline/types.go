// Package pipeline implements a demand-driven producer/router/worker
// pipeline with credit-based flow control.
//
// Three kinds of components run as independent sequential processes, each a
// single goroutine owning a bounded mailbox, communicating only through
// fire-and-forget messages:
//
//   - Producer: polls a Source, but only while it holds unspent downstream
//     demand. It never holds more than one unit of demand at a time.
//   - Router: pairs items with waiting workers in strict FIFO order, buffers
//     the unmatched surplus on at most one side, and sends exactly one demand
//     signal upstream per item that leaves its custody.
//   - Worker: processes one item at a time and asks for the next one only
//     after finishing the current one.
//
// Total in-flight work is therefore bounded by the number of workers: the
// producer can never outrun demand, and no worker is ever sent two items
// without having asked for both.
package pipeline

import (
	"context"
	"errors"

	"github.com/pacerio/pacer/pkg/fsm"
)

// ErrProtocolViolation reports that the demand protocol was broken, e.g. a
// second demand signal reached the producer before it had answered the
// first. It indicates a programming error in the embedding system; the
// affected component stops instead of retrying.
var ErrProtocolViolation = errors.New("pipeline: protocol violation")

// Source is the upstream collaborator the producer polls. Implementations
// must not block: when nothing is ready they return ok == false promptly.
// TryNext is only ever called from the producer's own goroutine.
type Source interface {
	TryNext() (item interface{}, ok bool, err error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() (interface{}, bool, error)

func (f SourceFunc) TryNext() (interface{}, bool, error) {
	return f()
}

// Endpoint is the router-facing handle of a worker: an identity plus a
// non-blocking delivery operation. Deliver must reject the item when the
// worker already holds one; the router treats that as a protocol violation.
type Endpoint interface {
	ID() string
	Deliver(item interface{}) error
}

// ItemSink accepts items flowing downstream. The router is the producer's
// sink.
type ItemSink interface {
	Forward(item interface{}) error
}

// DemandSink accepts demand signals flowing upstream. The producer is the
// router's demand sink.
type DemandSink interface {
	Signal() error
}

// Dispatcher is the worker-facing surface of the router.
type Dispatcher interface {
	// Demand registers one unit of readiness for the endpoint.
	Demand(ep Endpoint) error
	// Revoke withdraws the endpoint's queued demand when it leaves the
	// pool. Demand for a departed worker does not silently evaporate.
	Revoke(ep Endpoint) error
}

// ProcessFunc is the user-supplied handler a Worker runs per item.
type ProcessFunc func(ctx context.Context, item interface{}) error

// Producer states.
const (
	StateStandby = fsm.State("standby")
	StatePolling = fsm.State("polling")
)

// Producer events.
const (
	eventDemand      = fsm.Event("demand")
	eventTick        = fsm.Event("tick")
	eventExhausted   = fsm.Event("exhausted")   // standby -> polling: source was empty
	eventReplenished = fsm.Event("replenished") // polling -> standby: remembered demand spent
)

// Mailbox messages. Each is a one-way signal; none carries a reply path.
type (
	demandMsg struct{ from Endpoint }
	itemMsg   struct{ item interface{} }
	tickMsg   struct{}
	revokeMsg struct{ from Endpoint }
)
