// Package events publishes log entries as an ordered, sequence-numbered stream
// that any number of observers can replay or follow live.
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of events retained for replay
const DefaultCapacity = 4096

// Event is one published log line
type Event struct {
	Seq     uint64                 `json:"seq"`
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// Broker keeps a bounded history of events and fans new ones out to subscribers.
// Slow subscribers drop events rather than block publishers.
type Broker struct {
	mu       sync.Mutex
	capacity int
	ring     []Event
	next     uint64
	subs     map[chan Event]struct{}
}

// NewBroker creates a broker retaining up to capacity events
func NewBroker(capacity int) *Broker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broker{capacity: capacity, next: 1, subs: make(map[chan Event]struct{})}
}

// Publish assigns the next sequence number to ev and delivers it
func (b *Broker) Publish(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev.Seq = b.next
	b.next++
	if len(b.ring) == b.capacity {
		copy(b.ring, b.ring[1:])
		b.ring = b.ring[:len(b.ring)-1]
	}
	b.ring = append(b.ring, ev)

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Since returns the retained events with a sequence number greater than seq
func (b *Broker) Since(seq uint64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Event
	for _, ev := range b.ring {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the sequence number of the newest event, 0 if none
func (b *Broker) Last() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next - 1
}

// Subscribe returns a channel receiving every event published after the call.
// The returned function unsubscribes and closes the channel.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Hook forwards logrus entries to a Broker
type Hook struct {
	broker *Broker
	levels []logrus.Level
}

// NewHook creates a hook publishing entries at or above level
func NewHook(broker *Broker, level logrus.Level) *Hook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= level {
			levels = append(levels, l)
		}
	}
	return &Hook{broker: broker, levels: levels}
}

// Levels implements logrus.Hook
func (h *Hook) Levels() []logrus.Level {
	return h.levels
}

// Fire implements logrus.Hook
func (h *Hook) Fire(entry *logrus.Entry) error {
	var fields map[string]interface{}
	if len(entry.Data) > 0 {
		fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			fields[k] = v
		}
	}
	h.broker.Publish(Event{
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Message: entry.Message,
		Fields:  fields,
	})
	return nil
}
