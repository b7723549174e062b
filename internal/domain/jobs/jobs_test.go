package jobs_test

import (
	"context"
	"testing"

	"mailchat/internal/domain/jobs"
	"mailchat/internal/infra/db"
)

func testContext(tb testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)
	return ctx
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	conn, err := db.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if ok, err := jobs.Exists(ctx, conn, jobs.DeleteMsgOnImap, 5); err != nil || ok {
		t.Fatalf("exists on empty table = (%t, %v)", ok, err)
	}

	job, err := jobs.Add(ctx, conn, nil, jobs.DeleteMsgOnImap, 5)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if job.ForeignID != 5 || job.Action != jobs.DeleteMsgOnImap {
		t.Fatalf("job = %+v", job)
	}

	ok, err := jobs.Exists(ctx, conn, jobs.DeleteMsgOnImap, 5)
	if err != nil || !ok {
		t.Fatalf("exists after add = (%t, %v)", ok, err)
	}

	pending, err := jobs.Pending(ctx, conn, jobs.DeleteMsgOnImap)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != job.ID {
		t.Fatalf("pending = %+v", pending)
	}

	if err := jobs.Delete(ctx, conn, job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, err := jobs.Exists(ctx, conn, jobs.DeleteMsgOnImap, 5); err != nil || ok {
		t.Fatalf("exists after delete = (%t, %v)", ok, err)
	}
}
