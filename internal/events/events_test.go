package events

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscribersOfType(t *testing.T) {
	bus := NewEventBus()
	rounds := make(chan Event, 1)
	other := make(chan Event, 1)
	bus.Subscribe("RoundFinished", rounds)
	bus.Subscribe("Other", other)

	bus.Publish(Event{Type: "RoundFinished", Timestamp: time.Now(), Data: RoundFinishedEvent{Step: 3}})

	select {
	case ev := <-rounds:
		data, ok := ev.Data.(RoundFinishedEvent)
		if !ok || data.Step != 3 {
			t.Fatalf("unexpected event data: %#v", ev.Data)
		}
	default:
		t.Fatal("expected event on subscribed channel")
	}

	select {
	case ev := <-other:
		t.Fatalf("unexpected event on other channel: %#v", ev)
	default:
	}
}

func TestPublishSkipsFullSubscriber(t *testing.T) {
	bus := NewEventBus()
	full := make(chan Event)
	bus.Subscribe("RoundFinished", full)

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Type: "RoundFinished"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a subscriber without a reader")
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan Event, 1)
	bus.Subscribe("RoundFinished", ch)
	bus.Unsubscribe("RoundFinished", ch)

	bus.Publish(Event{Type: "RoundFinished"})

	select {
	case <-ch:
		t.Fatal("unsubscribed channel received an event")
	default:
	}
}
