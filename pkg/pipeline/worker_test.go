package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pacerio/pacer/pkg/logging"
)

// fakeDispatcher records demand and revoke calls on channels so tests can
// observe them without racing the worker's process.
type fakeDispatcher struct {
	demands chan string
	revokes chan string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		demands: make(chan string, 16),
		revokes: make(chan string, 16),
	}
}

func (d *fakeDispatcher) Demand(ep Endpoint) error {
	d.demands <- ep.ID()
	return nil
}

func (d *fakeDispatcher) Revoke(ep Endpoint) error {
	d.revokes <- ep.ID()
	return nil
}

func awaitString(t *testing.T, ch chan string, what string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

func TestWorker_ProcessThenRedemand(t *testing.T) {
	d := newFakeDispatcher()
	processed := make(chan interface{}, 1)

	w := NewWorker("w1", d, func(_ context.Context, item interface{}) error {
		processed <- item
		return nil
	}, WorkerOptions{Logger: logging.NewNop()})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	// Joining the pool is the first demand.
	if id := awaitString(t, d.demands, "join demand"); id != "w1" {
		t.Errorf("join demand from %q, want w1", id)
	}

	if err := w.Deliver("item-1"); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	select {
	case item := <-processed:
		if item != "item-1" {
			t.Errorf("processed %v, want item-1", item)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("item was not processed")
	}

	// Exactly one renewed demand after finishing.
	awaitString(t, d.demands, "renewed demand")
	select {
	case <-d.demands:
		t.Error("worker demanded more than once for a single item")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWorker_RedemandsAfterFailure(t *testing.T) {
	d := newFakeDispatcher()
	w := NewWorker("w1", d, func(_ context.Context, _ interface{}) error {
		return errors.New("processing failed")
	}, WorkerOptions{Logger: logging.NewNop()})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	awaitString(t, d.demands, "join demand")
	if err := w.Deliver("bad"); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	// A failed item still renews demand; the pipeline must not starve.
	awaitString(t, d.demands, "demand after failure")
}

func TestWorker_RedemandsAfterPanic(t *testing.T) {
	d := newFakeDispatcher()
	w := NewWorker("w1", d, func(_ context.Context, _ interface{}) error {
		panic("handler bug")
	}, WorkerOptions{Logger: logging.NewNop()})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	awaitString(t, d.demands, "join demand")
	if err := w.Deliver("bomb"); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	awaitString(t, d.demands, "demand after panic")
}

func TestWorker_SingleSlot(t *testing.T) {
	d := newFakeDispatcher()
	release := make(chan struct{})

	w := NewWorker("w1", d, func(_ context.Context, _ interface{}) error {
		<-release
		return nil
	}, WorkerOptions{Logger: logging.NewNop()})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		close(release)
		_ = w.Stop()
	}()

	awaitString(t, d.demands, "join demand")

	if err := w.Deliver("first"); err != nil {
		t.Fatalf("Deliver(first) error = %v", err)
	}
	// Wait until the worker has picked the first item out of its slot.
	waitFor(t, "slot drained", func() bool { return w.slot.Size() == 0 })

	// A second unrequested item while the worker is busy must be refused
	// once the slot is occupied again.
	if err := w.Deliver("second"); err != nil {
		t.Fatalf("Deliver(second) error = %v", err)
	}
	if err := w.Deliver("third"); err == nil {
		t.Error("Deliver(third) succeeded; a worker must never hold two unprocessed items")
	}
}

func TestWorker_StopRevokesDemand(t *testing.T) {
	d := newFakeDispatcher()
	w := NewWorker("w1", d, func(_ context.Context, _ interface{}) error {
		return nil
	}, WorkerOptions{Logger: logging.NewNop()})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	awaitString(t, d.demands, "join demand")

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if id := awaitString(t, d.revokes, "revoke"); id != "w1" {
		t.Errorf("revoke from %q, want w1", id)
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker process did not exit")
	}
}

func TestWorker_GeneratedID(t *testing.T) {
	d := newFakeDispatcher()
	w := NewWorker("", d, func(_ context.Context, _ interface{}) error { return nil }, WorkerOptions{Logger: logging.NewNop()})
	if w.ID() == "" {
		t.Error("empty id was not replaced with a generated one")
	}
}
