package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"finanalyzer/internal/domain/jobs"
)

// DefaultStream is the stream work is enqueued on unless configured.
const DefaultStream = "finanalyzer:jobs"

// Producer publishes analysis tasks onto a Redis Stream. Delivery is
// at-least-once; the worker tolerates duplicates.
type Producer struct {
	rdb    *redis.Client
	log    *slog.Logger
	stream string
}

func NewProducer(rdb *redis.Client, log *slog.Logger, stream string) *Producer {
	if stream == "" {
		stream = DefaultStream
	}
	return &Producer{rdb: rdb, log: log, stream: stream}
}

func (p *Producer) Enqueue(ctx context.Context, t jobs.Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: 100000,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	p.log.Debug("task enqueued",
		slog.String("stream", p.stream),
		slog.String("msg_id", id),
		slog.String("job_id", t.JobID))
	return nil
}

// Delivery is one task read from the stream, carrying its message id for ack.
type Delivery struct {
	ID   string
	Task jobs.Task
}

// Consumer reads tasks through a consumer group. Stalled deliveries left
// pending by a dead worker are reclaimed before new messages are read.
type Consumer struct {
	rdb          *redis.Client
	log          *slog.Logger
	stream       string
	group        string
	consumerID   string
	blockTime    time.Duration
	batchSize    int64
	pendingIdle  time.Duration
	pendingStart string
	dlqStream    string
	maxDelivery  int
}

type ConsumerOption func(*Consumer)

func WithBlockTime(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.blockTime = d }
}

func WithBatchSize(n int64) ConsumerOption {
	return func(c *Consumer) { c.batchSize = n }
}

func WithPendingIdle(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.pendingIdle = d }
}

func WithMaxDelivery(n int) ConsumerOption {
	return func(c *Consumer) { c.maxDelivery = n }
}

func NewConsumer(rdb *redis.Client, log *slog.Logger, stream, group, consumerID string, opts ...ConsumerOption) (*Consumer, error) {
	if group == "" {
		return nil, errors.New("group name is required")
	}
	if stream == "" {
		stream = DefaultStream
	}
	if consumerID == "" {
		consumerID = fmt.Sprintf("worker-%d", time.Now().UnixNano())
	}
	c := &Consumer{
		rdb:          rdb,
		log:          log,
		stream:       stream,
		group:        group,
		consumerID:   consumerID,
		blockTime:    time.Second,
		batchSize:    10,
		pendingIdle:  time.Minute,
		pendingStart: "0-0",
		dlqStream:    stream + ":dlq",
		maxDelivery:  3,
	}
	for _, opt := range opts {
		opt(c)
	}
	err := rdb.XGroupCreateMkStream(context.Background(), c.stream, c.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	log.Info("consumer group ready",
		slog.String("stream", c.stream),
		slog.String("group", c.group),
		slog.String("consumer_id", c.consumerID))
	return c, nil
}

// Read returns the next batch of tasks, reclaiming stalled pending messages
// first. An empty slice with nil error means the block timed out.
func (c *Consumer) Read(ctx context.Context) ([]*Delivery, error) {
	pending, err := c.readPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}
	return c.readNew(ctx)
}

func (c *Consumer) readPending(ctx context.Context) ([]*Delivery, error) {
	msgs, nextStart, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumerID,
		MinIdle:  c.pendingIdle,
		Start:    c.pendingStart,
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim failed: %w", err)
	}
	if nextStart != "" {
		c.pendingStart = nextStart
	}
	deliveries, err := c.parse(ctx, msgs)
	if err != nil || len(deliveries) == 0 {
		return deliveries, err
	}
	return c.foldRetryCounts(ctx, deliveries)
}

// foldRetryCounts reconciles each reclaimed task's delivery counter with the
// group's retry count for its pending entry. A worker that dies mid-task
// never reaches Requeue, so the counter stored in the payload stops moving;
// the retry count Redis keeps per pending entry does not. Without this fold a
// crashing task would be reclaimed forever instead of hitting the dead-letter
// bound.
func (c *Consumer) foldRetryCounts(ctx context.Context, deliveries []*Delivery) ([]*Delivery, error) {
	pend, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  deliveries[0].ID,
		End:    deliveries[len(deliveries)-1].ID,
		Count:  c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending failed: %w", err)
	}
	retries := make(map[string]int64, len(pend))
	for _, p := range pend {
		retries[p.ID] = p.RetryCount
	}

	out := deliveries[:0]
	for _, d := range deliveries {
		// The first delivery is not a failure, so failures = retries - 1.
		if n := int(retries[d.ID]) - 1; n > d.Task.Delivery {
			d.Task.Delivery = n
		}
		if d.Task.Delivery > c.maxDelivery {
			c.log.Warn("reclaimed task exceeded delivery limit, dead-lettering",
				slog.String("msg_id", d.ID),
				slog.String("job_id", d.Task.JobID),
				slog.Int("delivery", d.Task.Delivery))
			if err := c.deadLetter(ctx, d.ID, d.Task, nil); err != nil {
				return nil, err
			}
			if err := c.Ack(ctx, d.ID); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *Consumer) readNew(ctx context.Context) ([]*Delivery, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockTime,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}
	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return c.parse(ctx, msgs)
}

func (c *Consumer) parse(ctx context.Context, msgs []redis.XMessage) ([]*Delivery, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	out := make([]*Delivery, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok || data == "" {
			c.log.Warn("invalid message format", slog.String("msg_id", msg.ID))
			c.poison(ctx, msg.ID, fmt.Sprintf("%v", msg.Values["data"]), "invalid message format")
			continue
		}
		var t jobs.Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			c.log.Error("parse task failed",
				slog.String("msg_id", msg.ID),
				slog.String("error", err.Error()))
			c.poison(ctx, msg.ID, data, err.Error())
			continue
		}
		out = append(out, &Delivery{ID: msg.ID, Task: t})
	}
	return out, nil
}

// Ack marks a delivery as handled.
func (c *Consumer) Ack(ctx context.Context, msgID string) error {
	acked, err := c.rdb.XAck(ctx, c.stream, c.group, msgID).Result()
	if err != nil {
		return fmt.Errorf("xack failed: %w", err)
	}
	if acked == 0 {
		c.log.Warn("message not acked (may already be acked)", slog.String("msg_id", msgID))
	}
	return nil
}

// Requeue puts a failed delivery back on the stream with an incremented
// delivery counter, moving it to the dead-letter stream once the counter
// exceeds the max. The infrastructure retry is for transient faults only;
// job-level failures are recorded on the job row and acked normally.
func (c *Consumer) Requeue(ctx context.Context, d *Delivery, cause error) error {
	d.Task.Delivery++
	if d.Task.Delivery > c.maxDelivery {
		if err := c.deadLetter(ctx, d.ID, d.Task, cause); err != nil {
			return err
		}
		return c.Ack(ctx, d.ID)
	}
	data, err := json.Marshal(d.Task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("requeue xadd failed: %w", err)
	}
	return c.Ack(ctx, d.ID)
}

func (c *Consumer) poison(ctx context.Context, msgID, payload, reason string) {
	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.dlqStream,
		Values: map[string]interface{}{
			"original_id": msgID,
			"payload":     payload,
			"reason":      reason,
			"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		c.log.Error("publish dead letter failed",
			slog.String("msg_id", msgID),
			slog.String("error", err.Error()))
	}
	if err := c.Ack(ctx, msgID); err != nil {
		c.log.Error("ack poison message failed",
			slog.String("msg_id", msgID),
			slog.String("error", err.Error()))
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msgID string, t jobs.Task, cause error) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	reason := "delivery limit exceeded"
	if cause != nil {
		reason = cause.Error()
	}
	return c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.dlqStream,
		Values: map[string]interface{}{
			"original_id": msgID,
			"payload":     string(data),
			"reason":      reason,
			"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// Pending reports the consumer group backlog.
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.rdb.XPending(ctx, c.stream, c.group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending failed: %w", err)
	}
	return info.Count, nil
}
