package breaker

import "time"

// EventType identifies an Event.
type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventCallRejected EventType = "call_rejected"
)

// Event is published on the EventBus.
type Event interface {
	Type() EventType
	OperationClass() string
	Timestamp() time.Time
}

// StateChangedEvent reports a transition.
type StateChangedEvent struct {
	Class string
	From  State
	To    State
	At    time.Time
}

func (e StateChangedEvent) Type() EventType        { return EventStateChanged }
func (e StateChangedEvent) OperationClass() string { return e.Class }
func (e StateChangedEvent) Timestamp() time.Time   { return e.At }

// RejectedEvent reports a call refused by an open breaker.
type RejectedEvent struct {
	Class      string
	RetryAfter time.Duration
	At         time.Time
}

func (e RejectedEvent) Type() EventType        { return EventCallRejected }
func (e RejectedEvent) OperationClass() string { return e.Class }
func (e RejectedEvent) Timestamp() time.Time   { return e.At }

// Listener receives events on the bus goroutine. It must not block.
type Listener func(Event)
