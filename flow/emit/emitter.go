package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be safe for concurrent use: wave siblings emit from
// separate goroutines. They should never block the run or panic; backend
// failures are an emitter-internal concern.
type Emitter interface {
	// Emit delivers one event. Implementations that perform I/O should
	// do so without stalling the caller.
	Emit(event Event)
}

// NullEmitter discards all events. It is the default when no emitter is
// configured.
type NullEmitter struct{}

// NewNullEmitter returns an emitter that drops every event.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}

// MultiEmitter fans events out to several emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter combines emitters; nil entries are ignored.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	out := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return &MultiEmitter{emitters: out}
}

// Emit delivers the event to every wrapped emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
