package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"finanalyzer/internal/domain/jobs"
)

func newMiniRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return rdb, func() {
		_ = rdb.Close()
		s.Close()
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConsumer(t *testing.T, rdb *redis.Client, stream string) *Consumer {
	t.Helper()
	c, err := NewConsumer(rdb, testLogger(), stream, "workers", "worker-1",
		WithBlockTime(10*time.Millisecond),
		WithPendingIdle(time.Hour), // keep XAutoClaim out of these tests
		WithMaxDelivery(2),
	)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	return c
}

func TestEnqueueReadAck(t *testing.T) {
	rdb, cleanup := newMiniRedis(t)
	defer cleanup()
	ctx := context.Background()

	const stream = "test:jobs"
	c := newTestConsumer(t, rdb, stream)
	p := NewProducer(rdb, testLogger(), stream)

	uid := "u1"
	task := jobs.Task{JobID: "j1", DocumentKey: "documents/a.pdf", Query: "q", UserID: &uid}
	if err := p.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Task.JobID != "j1" || got[0].Task.DocumentKey != "documents/a.pdf" {
		t.Fatalf("task = %+v", got[0].Task)
	}
	if got[0].Task.UserID == nil || *got[0].Task.UserID != "u1" {
		t.Fatalf("user id = %v", got[0].Task.UserID)
	}
	if got[0].Task.EnqueuedAt.IsZero() {
		t.Fatal("enqueued_at not stamped")
	}

	if err := c.Ack(ctx, got[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	n, err := c.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestReadTimesOutEmpty(t *testing.T) {
	rdb, cleanup := newMiniRedis(t)
	defer cleanup()

	c := newTestConsumer(t, rdb, "test:empty")
	got, err := c.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestRequeueIncrementsDeliveryThenDeadLetters(t *testing.T) {
	rdb, cleanup := newMiniRedis(t)
	defer cleanup()
	ctx := context.Background()

	const stream = "test:retry"
	c := newTestConsumer(t, rdb, stream)
	p := NewProducer(rdb, testLogger(), stream)

	if err := p.Enqueue(ctx, jobs.Task{JobID: "j1", DocumentKey: "k", Query: "q"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// maxDelivery is 2: the first two requeues go back on the main stream
	// with an incremented counter, the third crosses the limit.
	for want := 1; want <= 3; want++ {
		got, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read %d: %v", want, err)
		}
		if len(got) != 1 {
			t.Fatalf("read %d: %d msgs, want 1", want, len(got))
		}
		if got[0].Task.Delivery != want-1 {
			t.Fatalf("delivery = %d, want %d", got[0].Task.Delivery, want-1)
		}
		if err := c.Requeue(ctx, got[0], context.DeadlineExceeded); err != nil {
			t.Fatalf("requeue %d: %v", want, err)
		}
	}

	got, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read after dead-letter: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("main stream still delivers: %+v", got[0].Task)
	}

	dlqLen, err := rdb.XLen(ctx, stream+":dlq").Result()
	if err != nil {
		t.Fatalf("dlq xlen: %v", err)
	}
	if dlqLen != 1 {
		t.Fatalf("dlq len = %d, want 1", dlqLen)
	}
	n, err := c.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestReclaimedDeliveriesConsumeRetryBudget(t *testing.T) {
	rdb, cleanup := newMiniRedis(t)
	defer cleanup()
	ctx := context.Background()

	const stream = "test:crash"
	c, err := NewConsumer(rdb, testLogger(), stream, "workers", "worker-1",
		WithBlockTime(10*time.Millisecond),
		WithPendingIdle(0), // reclaim stalled deliveries immediately
		WithMaxDelivery(2),
	)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	p := NewProducer(rdb, testLogger(), stream)

	if err := p.Enqueue(ctx, jobs.Task{JobID: "j1", DocumentKey: "k", Query: "q"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Never ack and never requeue, as if the worker died mid-task every
	// time. The stored payload keeps Delivery at zero, so the bound has to
	// come from the pending entry's retry count.
	for want := 0; want <= 2; want++ {
		got, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read %d: %v", want, err)
		}
		if len(got) != 1 {
			t.Fatalf("read %d: %d msgs, want 1", want, len(got))
		}
		if got[0].Task.Delivery != want {
			t.Fatalf("delivery = %d, want %d", got[0].Task.Delivery, want)
		}
	}

	got, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read after budget: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("task still delivered after budget: %+v", got[0].Task)
	}

	dlqLen, err := rdb.XLen(ctx, stream+":dlq").Result()
	if err != nil {
		t.Fatalf("dlq xlen: %v", err)
	}
	if dlqLen != 1 {
		t.Fatalf("dlq len = %d, want 1", dlqLen)
	}
	n, err := c.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestMalformedPayloadGoesToDLQ(t *testing.T) {
	rdb, cleanup := newMiniRedis(t)
	defer cleanup()
	ctx := context.Background()

	const stream = "test:poison"
	c := newTestConsumer(t, rdb, stream)

	err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": "{not json"},
	}).Err()
	if err != nil {
		t.Fatalf("xadd: %v", err)
	}

	got, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("poison message surfaced: %+v", got[0])
	}

	dlqLen, err := rdb.XLen(ctx, stream+":dlq").Result()
	if err != nil {
		t.Fatalf("dlq xlen: %v", err)
	}
	if dlqLen != 1 {
		t.Fatalf("dlq len = %d, want 1", dlqLen)
	}
	n, err := c.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if n != 0 {
		t.Fatalf("pending = %d, want 0 after poison ack", n)
	}
}

func TestInlineQueueRunsSynchronously(t *testing.T) {
	var seen []string
	q := NewInline(processorFunc(func(_ context.Context, t jobs.Task) error {
		seen = append(seen, t.JobID)
		return nil
	}))
	if err := q.Enqueue(context.Background(), jobs.Task{JobID: "j1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(seen) != 1 || seen[0] != "j1" {
		t.Fatalf("seen = %v", seen)
	}
}

type processorFunc func(ctx context.Context, t jobs.Task) error

func (f processorFunc) Process(ctx context.Context, t jobs.Task) error { return f(ctx, t) }
