package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents something that happened to an engine or a score.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// SessionID groups the bundles of one engine session, if applicable.
	SessionID string `json:"session_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Bundle describes the bundle for bundle.sent and bundle.failed events.
	Bundle *BundleInfo `json:"bundle,omitempty"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// BundleInfo summarizes one bundle handed to the engine.
type BundleInfo struct {
	Sequence  int64    `json:"sequence"`
	Timetag   uint64   `json:"timetag"`
	Messages  int      `json:"messages"`
	Bytes     int      `json:"bytes"`
	Addresses []string `json:"addresses,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeEngineOpened = "engine.opened"
	EventTypeEngineClosed = "engine.closed"
	EventTypeBundleSent   = "bundle.sent"
	EventTypeBundleFailed = "bundle.failed"
	EventTypeIDsExhausted = "ids.exhausted"
	EventTypeIDMisuse     = "ids.misuse"
	EventTypeScoreLoaded  = "score.loaded"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// ErrPublisherStopped is returned by Publish after Shutdown.
var ErrPublisherStopped = errors.New("event publisher stopped")

// ErrBufferFull is returned by Publish when the async buffer is full.
var ErrBufferFull = errors.New("event buffer full, event dropped")

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions. In async mode
// subscribers run on the publisher's goroutine, in publish order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewNopEventPublisher returns a publisher that drops every event.
func NewNopEventPublisher() *EventPublisher {
	return &EventPublisher{}
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if ep.ctx.Err() != nil {
		return ErrPublisherStopped
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		default:
			return ErrBufferFull
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishEngineOpened publishes an engine opened event.
func (ep *EventPublisher) PublishEngineOpened(sessionID string, sampleRate, blockSize int) error {
	return ep.Publish(Event{
		Type:      EventTypeEngineOpened,
		Source:    "engine",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Engine opened at %d Hz, %d frames per block", sampleRate, blockSize),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"sample_rate": sampleRate,
			"block_size":  blockSize,
		},
	})
}

// PublishEngineClosed publishes an engine closed event.
func (ep *EventPublisher) PublishEngineClosed(sessionID string) error {
	return ep.Publish(Event{
		Type:      EventTypeEngineClosed,
		Source:    "engine",
		SessionID: sessionID,
		Message:   "Engine closed",
		Level:     EventLevelInfo,
	})
}

// PublishBundleSent publishes a bundle sent event.
func (ep *EventPublisher) PublishBundleSent(sessionID string, info BundleInfo) error {
	return ep.Publish(Event{
		Type:      EventTypeBundleSent,
		Source:    "engine",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Bundle %d sent with %d messages", info.Sequence, info.Messages),
		Level:     EventLevelInfo,
		Bundle:    &info,
	})
}

// PublishBundleFailed publishes a bundle failed event.
func (ep *EventPublisher) PublishBundleFailed(sessionID string, info BundleInfo, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypeBundleFailed,
		Source:    "engine",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Bundle %d failed: %s", info.Sequence, reason),
		Level:     EventLevelError,
		Bundle:    &info,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishIDsExhausted publishes an identifier pool exhausted event.
func (ep *EventPublisher) PublishIDsExhausted(sessionID, pool string, capacity int) error {
	return ep.Publish(Event{
		Type:      EventTypeIDsExhausted,
		Source:    "engine",
		SessionID: sessionID,
		Message:   fmt.Sprintf("No free %s id (capacity %d)", pool, capacity),
		Level:     EventLevelWarning,
		Data: map[string]interface{}{
			"pool":     pool,
			"capacity": capacity,
		},
	})
}

// PublishIDMisuse publishes an out-of-range release event.
func (ep *EventPublisher) PublishIDMisuse(sessionID, pool string, id int64) error {
	return ep.Publish(Event{
		Type:      EventTypeIDMisuse,
		Source:    "engine",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Released %s id %d outside the pool", pool, id),
		Level:     EventLevelWarning,
		Data: map[string]interface{}{
			"pool": pool,
			"id":   id,
		},
	})
}

// PublishScoreLoaded publishes a score loaded event.
func (ep *EventPublisher) PublishScoreLoaded(name string, cues int) error {
	return ep.Publish(Event{
		Type:    EventTypeScoreLoaded,
		Source:  "score",
		Message: fmt.Sprintf("Score %s loaded with %d cues", name, cues),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"name": name,
			"cues": cues,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events in batches.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// Take whatever else is already queued, up to a full batch.
		fill:
			for len(batch) < ep.config.MaxBatchSize {
				select {
				case next := <-ep.buffer:
					batch = append(batch, next)
				default:
					break fill
				}
			}
			ep.flushBatch(batch)
			batch = batch[:0]

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops accepting events and waits until buffered events have been
// delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterBySession creates a filter that only allows events of one session.
func FilterBySession(sessionID string) EventFilter {
	return func(event Event) bool {
		return event.SessionID == sessionID
	}
}
