package emit

import "sync"

// BufferedEmitter retains events in memory, grouped by run id. Tests and
// trace UIs read the history back; production runs should prefer
// LogEmitter or OTelEmitter since the buffer grows unbounded.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter creates an empty buffered emitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its run's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns a copy of the events recorded for a run, in emission
// order.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[runID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryFilter selects a subset of a run's history. Zero values match
// everything; MinWave/MaxWave are inclusive bounds when non-nil.
type HistoryFilter struct {
	NodeID  string
	Msg     string
	MinWave *int
	MaxWave *int
}

// HistoryWithFilter returns the run's events matching the filter.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.events[runID] {
		if filter.NodeID != "" && e.NodeID != filter.NodeID {
			continue
		}
		if filter.Msg != "" && e.Msg != filter.Msg {
			continue
		}
		if filter.MinWave != nil && e.Wave < *filter.MinWave {
			continue
		}
		if filter.MaxWave != nil && e.Wave > *filter.MaxWave {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Clear drops the history for a run; an empty run id clears everything.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
