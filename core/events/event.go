package events

import "sync"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events emitted during a single operation. The owner flushes
// them to real subscribers once the operation commits, or drops them when it
// is rolled back.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.pending)
}

// Flush hands every buffered event to dst in emission order and clears the
// buffer.
func (b *Buffer) Flush(dst Emitter) []Event {
	if b == nil {
		return nil
	}
	out := b.pending
	b.pending = nil
	if dst != nil {
		for _, evt := range out {
			dst.Emit(evt)
		}
	}
	return out
}

// Discard drops every buffered event.
func (b *Buffer) Discard() {
	if b == nil {
		return
	}
	b.pending = nil
}

// Bus fans events out to a dynamic set of subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs []Emitter
}

// Subscribe registers an emitter. Nil emitters are ignored.
func (b *Bus) Subscribe(e Emitter) {
	if b == nil || e == nil {
		return
	}
	b.mu.Lock()
	b.subs = append(b.subs, e)
	b.mu.Unlock()
}

// Emit implements the Emitter interface.
func (b *Bus) Emit(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := append([]Emitter(nil), b.subs...)
	b.mu.RUnlock()
	for _, sub := range subs {
		sub.Emit(evt)
	}
}

// Recorder keeps every emitted event in memory. Tests and tools use it to
// inspect the emitted stream.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the type of every recorded event in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.EventType()
	}
	return out
}
