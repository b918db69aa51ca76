// Package statemachine implements a reusable lifecycle controller for a
// component with an asynchronous start/stop cycle; in this module
// uplink.Host is the component it drives. States are Idle/Starting/Running/Stopping, generalized from a
// three-state down/up/closed enum to four states plus a remembered
// "last requested intent" so a Start() during Stopping (or vice versa)
// resolves once the in-flight transition settles.
package statemachine

import "sync"

// State is one of the four lifecycle states a Machine can be in.
type State int

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

//go:generate stringer -type=State
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "State(unknown)"
	}
}

type intent int

const (
	intentStop intent = iota
	intentStart
)

// Entity is the controlled, asynchronous thing the machine drives. Start
// and Stop must not block; the entity reports completion later via the
// machine's NotifyStarted/NotifyStopped/NotifyFailedStart.
type Entity interface {
	Start()
	Stop()
}

// Callbacks are the observer hooks the machine invokes on state
// settlement. All three are optional; a nil callback is simply skipped.
// They are always invoked outside the machine's lock so an observer is
// free to call back into Start/Stop without deadlocking.
type Callbacks struct {
	OnStart       func()
	OnStop        func(err error)
	OnFailedStart func(err error)
}

// Machine is the shared lifecycle controller. Zero value is not usable;
// construct with New.
type Machine struct {
	mu        sync.Mutex
	state     State
	requested intent
	entity    Entity
	callbacks Callbacks
}

// New constructs a Machine starting in Idle, driving entity, and emitting
// to callbacks.
func New(entity Entity, callbacks Callbacks) *Machine {
	return &Machine{
		entity:    entity,
		callbacks: callbacks,
	}
}

// State reports the current state. The value is advisory outside the
// lock: the machine may have already moved on by the time the caller
// inspects the result.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start requests the machine move toward Running.
func (m *Machine) Start() {
	var callEntityStart bool
	var emitOnStart bool

	m.mu.Lock()
	switch m.state {
	case Idle:
		m.requested = intentStart
		m.state = Starting
		callEntityStart = true
	case Starting:
		m.requested = intentStart // already on the way; record the intent so a later Stop() can't strand it
	case Running:
		emitOnStart = true
	case Stopping:
		m.requested = intentStart
	}
	m.mu.Unlock()

	if emitOnStart && m.callbacks.OnStart != nil {
		m.callbacks.OnStart()
	}
	if callEntityStart {
		m.entity.Start()
	}
}

// Stop requests the machine move toward Idle.
func (m *Machine) Stop() {
	var callEntityStop bool
	var emitOnStopNone bool

	m.mu.Lock()
	switch m.state {
	case Idle:
		emitOnStopNone = true
	case Starting:
		m.requested = intentStop
	case Running:
		m.requested = intentStop
		m.state = Stopping
		callEntityStop = true
	case Stopping:
		// already on the way; no-op.
	}
	m.mu.Unlock()

	if emitOnStopNone && m.callbacks.OnStop != nil {
		m.callbacks.OnStop(nil)
	}
	if callEntityStop {
		m.entity.Stop()
	}
}

// NotifyStarted is called by the controlled entity once it has finished
// starting.
func (m *Machine) NotifyStarted() {
	var emitOnStart, thenStop bool

	m.mu.Lock()
	switch m.state {
	case Starting:
		m.state = Running
		switch m.requested {
		case intentStart:
			emitOnStart = true
		case intentStop:
			thenStop = true
		}
	case Idle:
		// Spontaneous start notification with no Starting phase observed.
		m.state = Running
		if m.requested == intentStart {
			emitOnStart = true
		}
	default:
		// Running, Stopping: unexpected, ignored.
	}
	m.mu.Unlock()

	if emitOnStart && m.callbacks.OnStart != nil {
		m.callbacks.OnStart()
	}
	if thenStop {
		m.Stop()
	}
}

// NotifyStopped is called by the controlled entity once it has finished
// stopping (err == nil) or stopped unexpectedly (err != nil).
func (m *Machine) NotifyStopped(err error) {
	var emitOnFailedStart, emitOnStop, thenStart bool
	var emitErr error

	m.mu.Lock()
	switch m.state {
	case Starting:
		if err != nil {
			m.state = Idle
			emitOnFailedStart = true
			emitErr = err
		}
		// err == nil in Starting is unexpected; ignored.
	case Running:
		if err != nil {
			m.state = Idle
			emitOnStop = true
			emitErr = err
		} else if m.requested == intentStart {
			m.state = Idle
			emitOnStop = true
		}
		// req == intentStop with err == nil: a concurrent Stop() already
		// moved state to Stopping; this notification is stale, wait for
		// the Stopping-state handler instead.
	case Stopping:
		m.state = Idle
		emitOnStop = true
		emitErr = err
		if err == nil && m.requested == intentStart {
			thenStart = true
		}
	}
	m.mu.Unlock()

	if emitOnFailedStart && m.callbacks.OnFailedStart != nil {
		m.callbacks.OnFailedStart(emitErr)
	}
	if emitOnStop && m.callbacks.OnStop != nil {
		m.callbacks.OnStop(emitErr)
	}
	if thenStart {
		m.Start()
	}
}

// NotifyFailedStart is called by the controlled entity when an in-flight
// Start() attempt failed outright.
func (m *Machine) NotifyFailedStart(err error) {
	var emitOnFailedStart, emitOnStop bool

	m.mu.Lock()
	if m.state == Starting {
		m.state = Idle
		if m.requested == intentStart {
			emitOnFailedStart = true
		} else {
			emitOnStop = true
		}
	}
	m.mu.Unlock()

	if emitOnFailedStart && m.callbacks.OnFailedStart != nil {
		m.callbacks.OnFailedStart(err)
	}
	if emitOnStop && m.callbacks.OnStop != nil {
		m.callbacks.OnStop(err)
	}
}
