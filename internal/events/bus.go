// internal/events/bus.go
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type names an event. Values are dotted, lower case, and double as the
// MQTT topic suffix.
type Type string

const (
	DeviceFound      Type = "device.found"
	DeviceRegistered Type = "device.registered"
	DeviceRemoved    Type = "device.removed"
	DeviceStatus     Type = "device.status"
	ScanCompleted    Type = "scan.completed"
	DriverLoaded     Type = "driver.loaded"
	DriverUnloaded   Type = "driver.unloaded"
	ActionReport     Type = "action.report"

	// All subscribes to every type.
	All Type = "*"
)

// Event represents a system event
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Type      Type                   `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// New stamps an event with a fresh ID and the current time.
func New(t Type, source string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New(),
		Type:      t,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

const (
	queueSize      = 1000
	subscriberSize = 100
)

// Bus manages event distribution. Publishing never blocks: a full queue or a
// slow subscriber drops the event.
type Bus struct {
	subscribers map[Type][]chan Event
	events      chan Event
	done        chan struct{}
	stopOnce    sync.Once
	mutex       sync.RWMutex
	logger      *zap.Logger
	dropped     uint64
}

// NewBus creates a new event bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[Type][]chan Event),
		events:      make(chan Event, queueSize),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Start distributes queued events until Stop is called.
func (eb *Bus) Start() {
	for {
		select {
		case <-eb.done:
			return
		case event := <-eb.events:
			eb.distribute(event)
		}
	}
}

// Stop ends distribution and closes every subscriber channel.
func (eb *Bus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.done)

		eb.mutex.Lock()
		defer eb.mutex.Unlock()
		for _, subs := range eb.subscribers {
			for _, ch := range subs {
				close(ch)
			}
		}
		eb.subscribers = nil
	})
}

// Publish queues an event
func (eb *Bus) Publish(event Event) {
	select {
	case <-eb.done:
		return
	default:
	}

	select {
	case eb.events <- event:
	default:
		eb.mutex.Lock()
		eb.dropped++
		eb.mutex.Unlock()
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

// Emit is shorthand for Publish(New(t, source, data)).
func (eb *Bus) Emit(t Type, source string, data map[string]interface{}) {
	eb.Publish(New(t, source, data))
}

// Subscribe returns a channel receiving events of the given type, or of every
// type for All. The channel is closed by Unsubscribe or Stop.
func (eb *Bus) Subscribe(eventType Type) <-chan Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan Event, subscriberSize)
	if eb.subscribers == nil {
		close(subscriber)
		return subscriber
	}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (eb *Bus) Unsubscribe(ch <-chan Event) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	for t, subs := range eb.subscribers {
		for i, sub := range subs {
			if (<-chan Event)(sub) != ch {
				continue
			}
			close(sub)
			eb.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (eb *Bus) Dropped() uint64 {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return eb.dropped
}

// distribute holds the read lock while sending so Unsubscribe cannot close a
// channel mid-send. Sends never block.
func (eb *Bus) distribute(event Event) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, t := range [2]Type{event.Type, All} {
		for _, subscriber := range eb.subscribers[t] {
			select {
			case subscriber <- event:
			default:
				// Subscriber is slow, skip
			}
		}
	}
}
