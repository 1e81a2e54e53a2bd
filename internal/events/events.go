package events

import (
	"sync"
	"time"
)

// Event represents a generic event structure
type Event struct {
	Type      string
	Timestamp time.Time
	Data      interface{}
}

// TrainingFinishedEvent represents the event structure for finishing a training run
type TrainingFinishedEvent struct {
	RunId       string
	Step        int
	ExitCode    int32
	ExitMessage string
}

// RoundFinishedEvent carries the observations of one training step
type RoundFinishedEvent struct {
	RunId         string
	Step          int
	Federated     bool
	Weights       []float64
	Dropped       []int
	TrainLoss     float64
	ValLoss       float64
	WeightKld     float64
	RoundCost     float64
	HyperGradient []float64
}

// PeerDroppedEvent represents the event structure for peers leaving the aggregation
type PeerDroppedEvent struct {
	Step    int
	PeerIds []int
	Weights []float64
}

// EventBus represents the event bus that handles event subscription and dispatching
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan<- Event
}

// NewEventBus creates a new instance of the event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan<- Event),
	}
}

// Subscribe adds a new subscriber for a given event type
func (eb *EventBus) Subscribe(eventType string, subscriber chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// Unsubscribe removes a subscriber for a given event type
func (eb *EventBus) Unsubscribe(eventType string, subscriber chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subscribers := eb.subscribers[eventType]
	for i, s := range subscribers {
		if s == subscriber {
			eb.subscribers[eventType] = append(subscribers[:i:i], subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers of a given event type.
// Subscribers whose channel is full are skipped so a slow reader never stalls training.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	subscribers := append([]chan<- Event(nil), eb.subscribers[event.Type]...)
	eb.mu.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
		}
	}
}
