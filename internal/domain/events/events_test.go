package events_test

import (
	"testing"

	"mailchat/internal/domain/events"
)

func TestSubscribeEmitUnsubscribe(t *testing.T) {
	t.Parallel()
	bus := events.NewBus()

	ch, unsubscribe := bus.Subscribe()
	bus.Emit(events.Event{Kind: events.KindMsgsChanged})

	ev := <-ch
	if ev.Kind != events.KindMsgsChanged {
		t.Fatalf("event kind = %d, want MsgsChanged", ev.Kind)
	}

	unsubscribe()
	if _, open := <-ch; open {
		t.Fatal("channel must be closed after unsubscribe")
	}

	// Публикация без подписчиков безопасна.
	bus.Emit(events.Event{Kind: events.KindMsgsChanged})
}

func TestEmitDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()
	bus := events.NewBus()

	_, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	// Переполняем буфер: Emit обязан оставаться неблокирующим.
	for range 200 {
		bus.Emit(events.Event{Kind: events.KindMsgsChanged})
	}
	if bus.Dropped() == 0 {
		t.Fatal("overflow must be counted as dropped")
	}
}
