package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventFeedConnected     EventType = "FEED_CONNECTED"
	EventFeedDisconnected  EventType = "FEED_DISCONNECTED"
	EventCandleClosed      EventType = "CANDLE_CLOSED"
	EventSignalGenerated   EventType = "SIGNAL_GENERATED"
	EventTradeResult       EventType = "TRADE_RESULT"
	EventVolatilityWarning EventType = "VOLATILITY_WARNING"
	EventSessionStarted    EventType = "SESSION_STARTED"
	EventSessionStopped    EventType = "SESSION_STOPPED"
	EventError             EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions. It decouples the
// win/loss tracker from the learning components: the tracker publishes
// TRADE_RESULT and the ML ensemble and adaptive thresholds subscribe,
// so neither side imports the other.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their
// own goroutines, so a slow subscriber never blocks the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishFeedConnected publishes a feed connection event
func (eb *EventBus) PublishFeedConnected(url string) {
	eb.Publish(Event{
		Type: EventFeedConnected,
		Data: map[string]interface{}{"url": url},
	})
}

// PublishFeedDisconnected publishes a feed disconnection event
func (eb *EventBus) PublishFeedDisconnected(url string, err error) {
	data := map[string]interface{}{"url": url}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventFeedDisconnected, Data: data})
}

// PublishCandleClosed publishes a candle close event
func (eb *EventBus) PublishCandleClosed(symbol string, timeframe, startEpoch int64, close float64) {
	eb.Publish(Event{
		Type: EventCandleClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"timeframe":   timeframe,
			"start_epoch": startEpoch,
			"close":       close,
		},
	})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(signalID, symbol, direction string, confidence float64, tier string) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"signal_id":  signalID,
			"symbol":     symbol,
			"direction":  direction,
			"confidence": confidence,
			"tier":       tier,
		},
	})
}

// PublishTradeResult publishes a resolved trade outcome
func (eb *EventBus) PublishTradeResult(signalID, symbol, direction, outcome string, entryPrice, exitPrice float64) {
	eb.Publish(Event{
		Type: EventTradeResult,
		Data: map[string]interface{}{
			"signal_id":   signalID,
			"symbol":      symbol,
			"direction":   direction,
			"outcome":     outcome,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
		},
	})
}

// PublishVolatilityWarning publishes a mid-trade volatility warning
func (eb *EventBus) PublishVolatilityWarning(sessionID, symbol string, score float64) {
	eb.Publish(Event{
		Type: EventVolatilityWarning,
		Data: map[string]interface{}{
			"session_id": sessionID,
			"symbol":     symbol,
			"score":      score,
		},
	})
}

// PublishSessionStarted publishes a session lifecycle event
func (eb *EventBus) PublishSessionStarted(sessionID, chatID, symbol string, timeframe int64) {
	eb.Publish(Event{
		Type: EventSessionStarted,
		Data: map[string]interface{}{
			"session_id": sessionID,
			"chat_id":    chatID,
			"symbol":     symbol,
			"timeframe":  timeframe,
		},
	})
}

// PublishSessionStopped publishes a session lifecycle event
func (eb *EventBus) PublishSessionStopped(sessionID, reason string, wins, losses, totalSignals int) {
	eb.Publish(Event{
		Type: EventSessionStopped,
		Data: map[string]interface{}{
			"session_id":    sessionID,
			"reason":        reason,
			"wins":          wins,
			"losses":        losses,
			"total_signals": totalSignals,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
