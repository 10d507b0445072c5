package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pacerio/pacer/pkg/concurrency"
	"github.com/pacerio/pacer/pkg/failfast"
	"github.com/pacerio/pacer/pkg/fsm"
	"github.com/pacerio/pacer/pkg/logging"
	prom "github.com/pacerio/pacer/pkg/observability/prometheus"
)

// ProducerOptions configures a Producer.
type ProducerOptions struct {
	// Name identifies the producer in logs and the state machine.
	Name string
	// MailboxCapacity bounds the producer's inbox. The protocol keeps the
	// real depth at one demand signal plus queued ticks.
	MailboxCapacity int
	Logger          logging.Logger
	// Metrics is optional; nil disables instrumentation.
	Metrics *prom.Metrics
}

// Producer polls a Source on behalf of downstream demand. It is a sequential
// process: Signal and Tick only enqueue messages, all state is touched from
// the run loop alone.
//
// The Standby/Polling machine follows the credit protocol: in Standby the
// producer owes nothing; one unanswerable demand signal moves it to Polling,
// where it retries the source on every tick until an item spends the
// remembered credit. A demand signal arriving while Polling means the caller
// issued a second credit before the first was answered, which is fatal.
type Producer struct {
	name    string
	source  Source
	sink    ItemSink
	mailbox concurrency.Mailbox
	machine *fsm.Machine
	logger  logging.Logger
	metrics *prom.Metrics

	mu      sync.Mutex
	started bool
	runErr  error
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewProducer creates a producer for the given source. The downstream sink
// must be attached with Bind before Start.
func NewProducer(source Source, opts ProducerOptions) *Producer {
	failfast.NotNil(source, "source")

	if opts.Name == "" {
		opts.Name = "producer"
	}
	if opts.Logger == nil {
		opts.Logger = logging.New()
	}

	p := &Producer{
		name:    opts.Name,
		source:  source,
		mailbox: concurrency.NewMailbox(opts.MailboxCapacity),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		done:    make(chan struct{}),
	}

	m := fsm.New(opts.Name, StateStandby)
	m.Configure(StateStandby).
		Internal(eventDemand, nil).
		Ignore(eventTick).
		Permit(eventExhausted, StatePolling)
	m.Configure(StatePolling).
		Internal(eventTick, nil).
		Permit(eventReplenished, StateStandby)
	m.OnTransition(func(tc fsm.TransitionContext) {
		if tc.From != tc.To {
			p.logger.Debugf("producer %s: %s -> %s on %s", p.name, tc.From, tc.To, tc.Event)
			if p.metrics != nil {
				p.metrics.SetProducerPolling(tc.To == StatePolling)
			}
		}
	})
	p.machine = m
	return p
}

// Bind attaches the downstream sink. Must be called before Start; the
// producer and router reference each other, so one side is wired late.
func (p *Producer) Bind(sink ItemSink) {
	failfast.NotNil(sink, "sink")
	p.sink = sink
}

// Start launches the producer's process.
func (p *Producer) Start(ctx context.Context) error {
	failfast.NotNil(p.sink, "producer sink")

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("producer %s already started", p.name)
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
	return nil
}

// Stop shuts the producer down and waits for its process to exit.
func (p *Producer) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.mu.Unlock()

	p.mailbox.Close()
	cancel()
	<-p.done
	return nil
}

// Signal delivers one unit of downstream demand (non-blocking).
func (p *Producer) Signal() error {
	return p.mailbox.Send(demandMsg{})
}

// Tick delivers one scheduler tick (non-blocking). Ticks are only consumed
// while Polling; the producer never schedules them itself.
func (p *Producer) Tick() error {
	return p.mailbox.Send(tickMsg{})
}

// State returns the current producer state.
func (p *Producer) State() fsm.State {
	return p.machine.Current()
}

// Done is closed when the producer's process has exited.
func (p *Producer) Done() <-chan struct{} {
	return p.done
}

// Err reports why the producer stopped, nil for a clean shutdown.
func (p *Producer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runErr
}

func (p *Producer) run(ctx context.Context) {
	defer close(p.done)

	for {
		msg, err := p.mailbox.Receive(ctx)
		if err != nil {
			return
		}

		switch msg.(type) {
		case demandMsg:
			err = p.handleDemand(ctx)
		case tickMsg:
			err = p.handleTick(ctx)
		default:
			err = fmt.Errorf("producer %s: unexpected message %T", p.name, msg)
		}
		if err != nil {
			p.fail(err)
			return
		}
	}
}

// fail records a fatal condition and closes the inbox so upstream senders
// observe the stop.
func (p *Producer) fail(err error) {
	p.mu.Lock()
	p.runErr = err
	p.mu.Unlock()
	p.logger.Errorf("producer %s stopped: %v", p.name, err)
	p.mailbox.Close()
}

// handleDemand answers one demand signal: emit an item now, or remember the
// credit and start polling.
func (p *Producer) handleDemand(ctx context.Context) error {
	if _, err := p.machine.Fire(ctx, eventDemand, nil); err != nil {
		if errors.Is(err, fsm.ErrNoTransition) {
			return fmt.Errorf("%w: demand signal while already polling", ErrProtocolViolation)
		}
		return err
	}

	item, ok := p.poll()
	if !ok {
		_, err := p.machine.Fire(ctx, eventExhausted, nil)
		return err
	}
	return p.forward(item)
}

// handleTick spends the remembered credit if the source has caught up.
// Ticks in Standby carry no information and are dropped.
func (p *Producer) handleTick(ctx context.Context) error {
	if _, err := p.machine.Fire(ctx, eventTick, nil); err != nil {
		return err
	}
	if p.machine.Is(StateStandby) {
		return nil
	}

	item, ok := p.poll()
	if !ok {
		return nil
	}
	if _, err := p.machine.Fire(ctx, eventReplenished, nil); err != nil {
		return err
	}
	return p.forward(item)
}

// poll asks the source for one item. Source errors are logged and treated as
// empty; retrying is the source's own concern.
func (p *Producer) poll() (interface{}, bool) {
	item, ok, err := p.source.TryNext()
	if err != nil {
		p.logger.Warnf("producer %s: source poll failed: %v", p.name, err)
		if p.metrics != nil {
			p.metrics.RecordPoll("error")
		}
		return nil, false
	}
	if p.metrics != nil {
		if ok {
			p.metrics.RecordPoll("item")
		} else {
			p.metrics.RecordPoll("empty")
		}
	}
	return item, ok
}

func (p *Producer) forward(item interface{}) error {
	if err := p.sink.Forward(item); err != nil {
		return fmt.Errorf("producer %s: forward item: %w", p.name, err)
	}
	if p.metrics != nil {
		p.metrics.RecordProduced()
	}
	return nil
}
