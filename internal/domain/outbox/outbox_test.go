package outbox_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"mailchat/internal/domain/chat"
	"mailchat/internal/domain/message"
	"mailchat/internal/domain/outbox"
	"mailchat/internal/infra/db"

	"github.com/go-faster/errors"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testContext(tb testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)
	return ctx
}

// fakeTransport записывает доставленные сообщения; умеет сбоить по флагу.
type fakeTransport struct {
	mu        sync.Mutex
	delivered []message.Message
	fail      bool
}

func (f *fakeTransport) Deliver(_ context.Context, msg message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("smtp down")
	}
	f.delivered = append(f.delivered, msg)
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func newOutboxEnv(t *testing.T, transport outbox.Transport) (*sql.DB, *outbox.Queue) {
	t.Helper()
	ctx := testContext(t)

	conn, err := db.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := chat.EnsureSpecialRange(ctx, conn); err != nil {
		t.Fatalf("reserve special chats: %v", err)
	}

	queue, err := outbox.NewQueue(outbox.Options{DB: conn, Transport: transport, RPS: 100})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(queue.Stop)
	return conn, queue
}

// waitFor опрашивает условие до истечения таймаута.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestSendTextInheritsChatTimer(t *testing.T) {
	t.Parallel()
	transport := &fakeTransport{}
	conn, queue := newOutboxEnv(t, transport)
	ctx := testContext(t)

	chatID, err := chat.Create(ctx, conn, "peer", 100)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if _, err := conn.ExecContext(ctx,
		`UPDATE chats SET ephemeral_timer=77 WHERE id=?`, int64(chatID)); err != nil {
		t.Fatalf("set chat timer: %v", err)
	}

	msgID, err := queue.SendText(ctx, int64(chatID), "hello",
		message.SystemMessageEphemeralTimerChanged)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	m, err := message.Load(ctx, conn, msgID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.EphemeralTimer != 77 {
		t.Fatalf("ephemeral_timer = %d, want inherited 77", m.EphemeralTimer)
	}
	if m.State != message.StateOutPending {
		t.Fatalf("state = %d, want OutPending", m.State)
	}
	if message.DecodeParamCmd(m.Param) != message.SystemMessageEphemeralTimerChanged {
		t.Fatalf("param = %q, want timer change marker", m.Param)
	}
}

func TestWorkerDeliversAndMarks(t *testing.T) {
	t.Parallel()
	transport := &fakeTransport{}
	conn, queue := newOutboxEnv(t, transport)
	ctx := testContext(t)

	chatID, err := chat.Create(ctx, conn, "peer", 100)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	queue.Start(ctx)
	msgID, err := queue.SendText(ctx, int64(chatID), "hello", message.SystemMessageNone)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return transport.count() == 1 }) {
		t.Fatal("message was not delivered")
	}

	if !waitFor(t, 3*time.Second, func() bool {
		n, err := queue.Pending(ctx)
		return err == nil && n == 0
	}) {
		t.Fatal("outbox row was not removed")
	}

	m, err := message.Load(ctx, conn, msgID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.State != message.StateOutDelivered {
		t.Fatalf("state = %d, want OutDelivered", m.State)
	}
}

func TestWorkerKeepsFailedDelivery(t *testing.T) {
	t.Parallel()
	transport := &fakeTransport{fail: true}
	conn, queue := newOutboxEnv(t, transport)
	ctx := testContext(t)

	chatID, err := chat.Create(ctx, conn, "peer", 100)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	queue.Start(ctx)
	if _, err := queue.SendText(ctx, int64(chatID), "hello", message.SystemMessageNone); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Задание остаётся в очереди, попытка зафиксирована.
	if !waitFor(t, 3*time.Second, func() bool {
		var attempts int
		err := conn.QueryRowContext(ctx, `SELECT attempts FROM outbox LIMIT 1`).Scan(&attempts)
		return err == nil && attempts >= 1
	}) {
		t.Fatal("failed delivery must keep the row and count the attempt")
	}

	n, err := queue.Pending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("pending = (%d, %v), want 1 row", n, err)
	}
}

func TestWorkerDropsRedactedMessage(t *testing.T) {
	t.Parallel()
	transport := &fakeTransport{}
	conn, queue := newOutboxEnv(t, transport)
	ctx := testContext(t)

	chatID, err := chat.Create(ctx, conn, "peer", 100)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	msgID, err := queue.SendText(ctx, int64(chatID), "vanishing", message.SystemMessageNone)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Сообщение исчезло локально до доставки.
	if _, err := conn.ExecContext(ctx,
		`UPDATE msgs SET chat_id=?, txt='' WHERE id=?`, int64(chat.Trash), int64(msgID)); err != nil {
		t.Fatalf("trash message: %v", err)
	}

	queue.Start(ctx)
	if !waitFor(t, 3*time.Second, func() bool {
		n, err := queue.Pending(ctx)
		return err == nil && n == 0
	}) {
		t.Fatal("redacted message must be dropped from the queue")
	}
	if transport.count() != 0 {
		t.Fatal("redacted message must not be delivered")
	}
}
