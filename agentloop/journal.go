package agentloop

import "sync"

// Journal records a session's events so late subscribers can replay them
// before following live events. Every subscriber reads from its own
// position in the record: a slow reader falls behind but never misses an
// event.
type Journal struct {
	mu      sync.Mutex
	events  []SessionEvent
	done    bool
	changed chan struct{}
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{changed: make(chan struct{})}
}

// Drain records every event from src until it closes, then ends the
// journal. Subscribers finish once they have read everything.
func (j *Journal) Drain(src <-chan SessionEvent) {
	for ev := range src {
		j.append(ev)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.done = true
	j.notify()
}

func (j *Journal) append(ev SessionEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	j.notify()
}

// notify wakes every waiting subscriber. Callers hold j.mu.
func (j *Journal) notify() {
	close(j.changed)
	j.changed = make(chan struct{})
}

// Events returns a copy of the recorded events.
func (j *Journal) Events() []SessionEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]SessionEvent(nil), j.events...)
}

// Subscribe returns a channel that first replays the recorded events and
// then receives live ones. The channel closes after the last event of an
// ended session, or when the returned cancel function is called.
func (j *Journal) Subscribe(buffer int) (<-chan SessionEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan SessionEvent, buffer)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }

	go func() {
		defer close(ch)
		next := 0
		for {
			j.mu.Lock()
			// The record is append-only, so the slice stays valid unlocked.
			pending := j.events[next:]
			done := j.done
			wait := j.changed
			j.mu.Unlock()

			for _, ev := range pending {
				select {
				case ch <- ev:
					next++
				case <-stop:
					return
				}
			}
			if len(pending) > 0 {
				continue
			}
			if done {
				return
			}
			select {
			case <-wait:
			case <-stop:
				return
			}
		}
	}()
	return ch, cancel
}
