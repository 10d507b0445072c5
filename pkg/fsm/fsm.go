// Package fsm implements a small finite state machine with an explicit
// transition table. Firing an event that the current state does not permit
// is an error, which makes the machine double as a protocol checker: callers
// can treat ErrNoTransition as a violated invariant rather than a soft miss.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State identifies a state.
type State string

// Event identifies an event that may trigger a transition.
type Event string

// Action runs during a transition. A non-nil error aborts the transition.
type Action func(ctx context.Context, tc TransitionContext) error

// Guard decides whether a transition may occur.
type Guard func(ctx context.Context, tc TransitionContext) bool

// ErrNoTransition is returned by Fire when the current state has no
// transition configured for the event.
var ErrNoTransition = errors.New("fsm: no transition for event in current state")

// TransitionContext carries details about the transition being executed.
type TransitionContext struct {
	Machine *Machine
	Event   Event
	From    State
	To      State
	Data    interface{}
}

// transitionKind distinguishes external transitions (state change with
// exit/entry actions) from internal ones (no state change).
type transitionKind int

const (
	kindExternal transitionKind = iota
	kindInternal
)

type transition struct {
	trigger Event
	from    State
	to      State
	guard   Guard
	actions []Action
	kind    transitionKind
}

type stateConfig struct {
	state       State
	onEntry     []Action
	onExit      []Action
	transitions map[Event]*transition
}

// Machine is a finite state machine. All methods are safe for concurrent
// use; Fire executes synchronously and returns the resulting state.
type Machine struct {
	id      string
	current State
	states  map[State]*stateConfig
	mu      sync.RWMutex

	onTransition []func(TransitionContext)
}

// New creates a Machine with the given identifier and initial state.
func New(id string, initial State) *Machine {
	return &Machine{
		id:      id,
		current: initial,
		states:  make(map[State]*stateConfig),
	}
}

// ID returns the machine identifier.
func (m *Machine) ID() string {
	return m.id
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in the given state.
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// Configure returns a builder for the given state, creating its
// configuration on first use.
func (m *Machine) Configure(s State) *StateBuilder {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.states[s]
	if !ok {
		cfg = &stateConfig{
			state:       s,
			transitions: make(map[Event]*transition),
		}
		m.states[s] = cfg
	}
	return &StateBuilder{config: cfg}
}

// CanFire reports whether the current state permits the event.
func (m *Machine) CanFire(event Event) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.states[m.current]
	if !ok {
		return false
	}
	_, ok = cfg.transitions[event]
	return ok
}

// Fire triggers an event. On success it returns the new (possibly unchanged)
// state. It returns ErrNoTransition when the event is not permitted in the
// current state, and wraps action errors otherwise. The state is replaced
// wholesale only after all exit and transition actions succeed.
func (m *Machine) Fire(ctx context.Context, event Event, data interface{}) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.states[m.current]
	if !ok {
		return m.current, fmt.Errorf("%w: state %q unconfigured", ErrNoTransition, m.current)
	}
	tr, ok := cfg.transitions[event]
	if !ok {
		return m.current, fmt.Errorf("%w: event %q in state %q", ErrNoTransition, event, m.current)
	}

	tc := TransitionContext{
		Machine: m,
		Event:   event,
		From:    m.current,
		To:      tr.to,
		Data:    data,
	}

	if tr.guard != nil && !tr.guard(ctx, tc) {
		return m.current, fmt.Errorf("fsm: guard rejected %q -> %q on %q", tc.From, tc.To, event)
	}

	if tr.kind == kindExternal {
		for _, action := range cfg.onExit {
			if err := action(ctx, tc); err != nil {
				return m.current, fmt.Errorf("fsm: exit action: %w", err)
			}
		}
	}
	for _, action := range tr.actions {
		if err := action(ctx, tc); err != nil {
			return m.current, fmt.Errorf("fsm: transition action: %w", err)
		}
	}

	m.current = tr.to

	if tr.kind == kindExternal {
		if next, ok := m.states[tr.to]; ok {
			for _, action := range next.onEntry {
				if err := action(ctx, tc); err != nil {
					return m.current, fmt.Errorf("fsm: entry action: %w", err)
				}
			}
		}
	}

	for _, listener := range m.onTransition {
		listener(tc)
	}
	return m.current, nil
}

// OnTransition registers a listener invoked after every successful
// transition, internal ones included.
func (m *Machine) OnTransition(listener func(TransitionContext)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = append(m.onTransition, listener)
}
