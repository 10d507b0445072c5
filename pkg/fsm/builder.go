package fsm

// StateBuilder provides a fluent API for configuring a state's transitions.
type StateBuilder struct {
	config *stateConfig
}

// Permit allows a transition to nextState when event fires.
func (b *StateBuilder) Permit(event Event, nextState State) *StateBuilder {
	return b.PermitIf(event, nextState, nil)
}

// PermitIf allows a transition to nextState when event fires and the guard
// returns true.
func (b *StateBuilder) PermitIf(event Event, nextState State, guard Guard) *StateBuilder {
	b.config.transitions[event] = &transition{
		trigger: event,
		from:    b.config.state,
		to:      nextState,
		guard:   guard,
		kind:    kindExternal,
	}
	return b
}

// PermitWithAction allows a transition that executes an action before the
// state changes.
func (b *StateBuilder) PermitWithAction(event Event, nextState State, action Action) *StateBuilder {
	b.config.transitions[event] = &transition{
		trigger: event,
		from:    b.config.state,
		to:      nextState,
		actions: []Action{action},
		kind:    kindExternal,
	}
	return b
}

// Internal allows the event without leaving the state: no exit or entry
// actions run, only the given action (which may be nil).
func (b *StateBuilder) Internal(event Event, action Action) *StateBuilder {
	tr := &transition{
		trigger: event,
		from:    b.config.state,
		to:      b.config.state,
		kind:    kindInternal,
	}
	if action != nil {
		tr.actions = []Action{action}
	}
	b.config.transitions[event] = tr
	return b
}

// Ignore allows the event but does nothing. Firing an ignored event is not
// an error, unlike firing an unconfigured one.
func (b *StateBuilder) Ignore(event Event) *StateBuilder {
	return b.Internal(event, nil)
}

// OnEntry adds an action executed when entering this state via an external
// transition.
func (b *StateBuilder) OnEntry(action Action) *StateBuilder {
	b.config.onEntry = append(b.config.onEntry, action)
	return b
}

// OnExit adds an action executed when leaving this state via an external
// transition.
func (b *StateBuilder) OnExit(action Action) *StateBuilder {
	b.config.onExit = append(b.config.onExit, action)
	return b
}
