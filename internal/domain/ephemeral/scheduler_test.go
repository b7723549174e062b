package ephemeral_test

import (
	"testing"
	"time"

	"mailchat/internal/domain/events"
	"mailchat/internal/domain/message"
)

// waitEvent ждёт событие шины не дольше timeout.
func waitEvent(t *testing.T, ch <-chan events.Event, timeout time.Duration) (events.Event, bool) {
	t.Helper()
	select {
	case ev := <-ch:
		return ev, true
	case <-time.After(timeout):
		return events.Event{}, false
	}
}

func TestRescheduleEmptyHorizon(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.engine.Reschedule(t.Context())
	if env.engine.Slot().Armed() {
		t.Fatal("slot must stay empty without pending deadlines")
	}
}

func TestRescheduleFiresImmediatelyForPastDeadline(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	chatID := env.createChat(t, 100)
	env.insertMsg(t, msgRow{
		chatID:             chatID,
		timestamp:          env.nowUnix(),
		txt:                "late",
		ephemeralTimer:     1,
		ephemeralTimestamp: env.nowUnix() - 10,
	})

	evCh, unsubscribe := env.bus.Subscribe()
	defer unsubscribe()

	env.engine.Reschedule(t.Context())

	ev, ok := waitEvent(t, evCh, time.Second)
	if !ok {
		t.Fatal("expected immediate MsgsChanged for past deadline")
	}
	if ev.Kind != events.KindMsgsChanged || ev.ChatID != 0 || ev.MsgID != 0 {
		t.Fatalf("event = %+v, want broadcast MsgsChanged", ev)
	}
	if env.engine.Slot().Armed() {
		t.Fatal("slot must stay empty after immediate emit")
	}
}

func TestRescheduleArmsEarliestDeadline(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	chatID := env.createChat(t, 100)
	// Два срока: дальний и ближний; взводы в обратном порядке имитируют
	// последовательные отметки «просмотрено».
	env.insertMsg(t, msgRow{
		chatID: chatID, timestamp: env.nowUnix(), txt: "far",
		ephemeralTimer: 30, ephemeralTimestamp: env.nowUnix() + 30,
	})
	env.engine.Reschedule(ctx)
	if !env.engine.Slot().Armed() {
		t.Fatal("slot must be armed for the far deadline")
	}

	evCh, unsubscribe := env.bus.Subscribe()
	defer unsubscribe()

	env.insertMsg(t, msgRow{
		chatID: chatID, timestamp: env.nowUnix(), txt: "near",
		ephemeralTimer: 1, ephemeralTimestamp: env.nowUnix() + 1,
	})
	env.engine.Reschedule(ctx)
	if !env.engine.Slot().Armed() {
		t.Fatal("slot must be re-armed for the near deadline")
	}

	// Задача спит до ближнего срока плюс секундный зазор, затем публикует
	// широковещательный MsgsChanged ровно один раз.
	ev, ok := waitEvent(t, evCh, 5*time.Second)
	if !ok {
		t.Fatal("wake-up task did not fire")
	}
	if ev.Kind != events.KindMsgsChanged {
		t.Fatalf("event kind = %d, want MsgsChanged", ev.Kind)
	}

	if _, extra := waitEvent(t, evCh, 500*time.Millisecond); extra {
		t.Fatal("replaced task must not fire a second event")
	}
}

func TestRescheduleCancelledTaskStaysSilent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	chatID := env.createChat(t, 100)
	env.insertMsg(t, msgRow{
		chatID: chatID, timestamp: env.nowUnix(), txt: "pending",
		ephemeralTimer: 1, ephemeralTimestamp: env.nowUnix() + 1,
	})

	evCh, unsubscribe := env.bus.Subscribe()
	defer unsubscribe()

	env.engine.Reschedule(t.Context())
	env.engine.Slot().Stop()

	if _, fired := waitEvent(t, evCh, 3*time.Second); fired {
		t.Fatal("cancelled task must not emit")
	}
}

func TestMarkSeenArmsWakeUp(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	chatID := env.createChat(t, 100)
	msgID := env.insertMsg(t, msgRow{
		chatID: chatID, timestamp: env.nowUnix(), txt: "hi",
		state: message.StateInFresh, ephemeralTimer: 60,
	})

	if err := message.MarkSeen(ctx, env.conn, env.engine, []message.MsgID{msgID}); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if !env.engine.Slot().Armed() {
		t.Fatal("mark seen must arm the wake-up task")
	}
}
