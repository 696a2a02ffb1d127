package breaker

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// EventBus fans events out to listeners from a single dispatch goroutine,
// so each listener sees events in publish order. Publish never blocks:
// when the buffer is full the event is dropped and counted.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[string]*listenerEntry
	buffer    chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	dropped   atomic.Int64
}

type listenerEntry struct {
	fn      Listener
	filters map[EventType]bool
}

// NewEventBus starts the dispatch goroutine.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	eb := &EventBus{
		listeners: make(map[string]*listenerEntry),
		buffer:    make(chan Event, bufferSize),
		done:      make(chan struct{}),
	}
	eb.wg.Add(1)
	go eb.dispatch()
	return eb
}

// Subscribe registers fn for the given event types, or all types when
// none are given. It returns an id for Unsubscribe.
func (eb *EventBus) Subscribe(fn Listener, types ...EventType) string {
	filters := make(map[EventType]bool, len(types))
	for _, t := range types {
		filters[t] = true
	}
	id := uuid.NewString()

	eb.mu.Lock()
	eb.listeners[id] = &listenerEntry{fn: fn, filters: filters}
	eb.mu.Unlock()
	return id
}

func (eb *EventBus) Unsubscribe(id string) {
	eb.mu.Lock()
	delete(eb.listeners, id)
	eb.mu.Unlock()
}

// Publish enqueues ev. Safe on a nil or closed bus.
func (eb *EventBus) Publish(ev Event) {
	if eb == nil || eb.closed.Load() {
		return
	}
	select {
	case eb.buffer <- ev:
	case <-eb.done:
	default:
		eb.dropped.Add(1)
	}
}

// Dropped counts events lost to a full buffer.
func (eb *EventBus) Dropped() int64 {
	if eb == nil {
		return 0
	}
	return eb.dropped.Load()
}

// Close drains queued events and stops dispatching. Idempotent.
func (eb *EventBus) Close() {
	if eb == nil {
		return
	}
	eb.closeOnce.Do(func() {
		eb.closed.Store(true)
		close(eb.done)
		eb.wg.Wait()
	})
}

func (eb *EventBus) dispatch() {
	defer eb.wg.Done()
	for {
		select {
		case ev := <-eb.buffer:
			eb.notify(ev)
		case <-eb.done:
			for {
				select {
				case ev := <-eb.buffer:
					eb.notify(ev)
				default:
					return
				}
			}
		}
	}
}

func (eb *EventBus) notify(ev Event) {
	eb.mu.RLock()
	entries := make([]*listenerEntry, 0, len(eb.listeners))
	for _, e := range eb.listeners {
		entries = append(entries, e)
	}
	eb.mu.RUnlock()

	for _, e := range entries {
		if len(e.filters) > 0 && !e.filters[ev.Type()] {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			e.fn(ev)
		}()
	}
}
