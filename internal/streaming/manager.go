package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/metrics"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/registry"
)

// AllTopic receives every roster change regardless of activity.
const AllTopic = "*"

// Event is one roster change as delivered to stream subscribers.
type Event struct {
	Seq          uint64    `json:"seq"`
	Type         string    `json:"type"`
	Activity     string    `json:"activity"`
	Email        string    `json:"email"`
	Participants int       `json:"participants"`
	Timestamp    time.Time `json:"timestamp"`
}

// Marshal returns the JSON form of the event.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub for roster changes.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-topic ring buffer for replay
	history  map[string]*ring
	capacity int
	logger   *zap.Logger
}

// NewManager creates a manager keeping up to capacity events per topic.
func NewManager(capacity int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		logger:      logger,
	}
}

// Subscribe adds a subscriber channel for topic; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(topic string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[topic]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[topic] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(topic string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.subscribers[topic]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	metrics.StreamSubscribers.Dec()
	if len(subs) == 0 {
		delete(m.subscribers, topic)
	}
}

// Publish assigns the next sequence number for topic and fans the event out
// without blocking. Slow subscribers miss events and can catch up via replay.
func (m *Manager) Publish(topic string, evt Event) Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	rg := m.history[topic]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[topic] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)

	for ch := range m.subscribers[topic] {
		select {
		case ch <- evt:
		default:
			m.logger.Debug("Dropping event for slow subscriber",
				zap.String("topic", topic),
				zap.Uint64("seq", evt.Seq),
			)
		}
	}
	return evt
}

// PublishChange publishes a registry change to its activity topic and AllTopic.
// It has the registry.Listener signature.
func (m *Manager) PublishChange(c registry.Change) {
	evt := Event{
		Type:         string(c.Action),
		Activity:     c.Activity,
		Email:        c.Email,
		Participants: c.Participants,
		Timestamp:    c.At,
	}
	m.Publish(c.Activity, evt)
	m.Publish(AllTopic, evt)
}

// ReplaySince returns buffered events with Seq > since (best-effort within ring capacity).
func (m *Manager) ReplaySince(topic string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[topic]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// SubscriberCount returns the number of open subscriptions across all topics.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, subs := range m.subscribers {
		n += len(subs)
	}
	return n
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring {
	if capacity < 0 {
		capacity = 0
	}
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
