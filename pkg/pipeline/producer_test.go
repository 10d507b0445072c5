package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pacerio/pacer/pkg/logging"
)

// scriptedSource replays a fixed sequence of responses; nil entries mean
// "nothing available now". It counts polls.
type scriptedSource struct {
	script []interface{}
	polls  int
}

func (s *scriptedSource) TryNext() (interface{}, bool, error) {
	s.polls++
	if len(s.script) == 0 {
		return nil, false, nil
	}
	next := s.script[0]
	s.script = s.script[1:]
	if next == nil {
		return nil, false, nil
	}
	if err, ok := next.(error); ok {
		return nil, false, err
	}
	return next, true, nil
}

// recordingItemSink collects forwarded items.
type recordingItemSink struct {
	items []interface{}
}

func (s *recordingItemSink) Forward(item interface{}) error {
	s.items = append(s.items, item)
	return nil
}

func newTestProducer(src Source) (*Producer, *recordingItemSink) {
	sink := &recordingItemSink{}
	p := NewProducer(src, ProducerOptions{Logger: logging.NewNop()})
	p.Bind(sink)
	return p, sink
}

func TestProducer_DemandWithItemStaysStandby(t *testing.T) {
	src := &scriptedSource{script: []interface{}{"A"}}
	p, sink := newTestProducer(src)
	ctx := context.Background()

	if err := p.handleDemand(ctx); err != nil {
		t.Fatalf("handleDemand() error = %v", err)
	}
	if len(sink.items) != 1 || sink.items[0] != "A" {
		t.Errorf("forwarded items = %v, want [A]", sink.items)
	}
	if got := p.State(); got != StateStandby {
		t.Errorf("State() = %q, want standby", got)
	}
}

func TestProducer_DemandOnEmptySourceStartsPolling(t *testing.T) {
	src := &scriptedSource{}
	p, sink := newTestProducer(src)

	if err := p.handleDemand(context.Background()); err != nil {
		t.Fatalf("handleDemand() error = %v", err)
	}
	if len(sink.items) != 0 {
		t.Errorf("forwarded items = %v, want none", sink.items)
	}
	if got := p.State(); got != StatePolling {
		t.Errorf("State() = %q, want polling", got)
	}
}

func TestProducer_TickInStandbyIsIgnored(t *testing.T) {
	src := &scriptedSource{script: []interface{}{"A"}}
	p, sink := newTestProducer(src)

	// No unspent demand: the tick must not touch the source.
	if err := p.handleTick(context.Background()); err != nil {
		t.Fatalf("handleTick() error = %v", err)
	}
	if src.polls != 0 {
		t.Errorf("source polled %d times on standby tick, want 0", src.polls)
	}
	if len(sink.items) != 0 {
		t.Errorf("forwarded items = %v, want none", sink.items)
	}
}

func TestProducer_TickWhilePolling(t *testing.T) {
	src := &scriptedSource{script: []interface{}{nil, nil, "A"}}
	p, sink := newTestProducer(src)
	ctx := context.Background()

	if err := p.handleDemand(ctx); err != nil {
		t.Fatalf("handleDemand() error = %v", err)
	}
	if p.State() != StatePolling {
		t.Fatalf("State() = %q, want polling", p.State())
	}

	// Source still empty: remain polling.
	if err := p.handleTick(ctx); err != nil {
		t.Fatalf("handleTick() error = %v", err)
	}
	if p.State() != StatePolling {
		t.Errorf("State() after empty tick = %q, want polling", p.State())
	}

	// Source caught up: spend the remembered credit, back to standby.
	if err := p.handleTick(ctx); err != nil {
		t.Fatalf("handleTick() error = %v", err)
	}
	if len(sink.items) != 1 || sink.items[0] != "A" {
		t.Errorf("forwarded items = %v, want [A]", sink.items)
	}
	if p.State() != StateStandby {
		t.Errorf("State() after item = %q, want standby", p.State())
	}
}

func TestProducer_SecondDemandIsViolation(t *testing.T) {
	src := &scriptedSource{}
	p, _ := newTestProducer(src)
	ctx := context.Background()

	if err := p.handleDemand(ctx); err != nil {
		t.Fatalf("first handleDemand() error = %v", err)
	}

	err := p.handleDemand(ctx)
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("second handleDemand() error = %v, want ErrProtocolViolation", err)
	}
}

func TestProducer_SourceErrorTreatedAsEmpty(t *testing.T) {
	src := &scriptedSource{script: []interface{}{errors.New("flaky")}}
	p, sink := newTestProducer(src)

	if err := p.handleDemand(context.Background()); err != nil {
		t.Fatalf("handleDemand() error = %v", err)
	}
	if len(sink.items) != 0 {
		t.Errorf("forwarded items = %v, want none", sink.items)
	}
	if p.State() != StatePolling {
		t.Errorf("State() = %q, want polling (error behaves like empty)", p.State())
	}
}

// Running the full process: a double demand signal must stop the producer
// loudly rather than be absorbed.
func TestProducer_ViolationStopsProcess(t *testing.T) {
	src := &scriptedSource{}
	p, _ := newTestProducer(src)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := p.Signal(); err != nil {
		t.Fatalf("Signal() error = %v", err)
	}
	if err := p.Signal(); err != nil {
		t.Fatalf("Signal() error = %v", err)
	}

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop on protocol violation")
	}
	if err := p.Err(); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("Err() = %v, want ErrProtocolViolation", err)
	}
}

func TestProducer_StartWithoutSinkPanics(t *testing.T) {
	p := NewProducer(&scriptedSource{}, ProducerOptions{Logger: logging.NewNop()})
	defer func() {
		if recover() == nil {
			t.Error("Start() without a bound sink did not panic")
		}
	}()
	_ = p.Start(context.Background())
}
