// Package events fans out device state changes to in-process subscribers
// such as the WebSocket stream and the MQTT bridge.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// TypeStateChanged is emitted when a device's on/off state changes.
	TypeStateChanged = "device.state_changed"

	// SourceRefresh marks a change observed while refreshing a device.
	SourceRefresh = "refresh"
	// SourceCommand marks a change caused by a power command.
	SourceCommand = "command"

	defaultBuffer = 32
)

// Event describes one observed device change.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Address   string    `json:"ip_address"`
	Alias     string    `json:"name"`
	IsOn      bool      `json:"is_on"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStateChanged builds a state change event stamped with a fresh ID.
func NewStateChanged(address, alias string, isOn bool, source string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      TypeStateChanged,
		Address:   address,
		Alias:     alias,
		IsOn:      isOn,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

// Bus delivers published events to every subscriber. Publish never blocks;
// a subscriber whose buffer is full misses the event.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, subs: map[uint64]chan Event{}}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() { b.unsubscribe(id) }
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("event dropped for slow subscriber", "subscriber", id, "type", evt.Type)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unregisters every subscriber. Later Subscribe calls get a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}
