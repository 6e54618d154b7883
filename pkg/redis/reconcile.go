package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultReconcileStream = "clover:reconcile"
	DefaultReconcileGroup  = "clover-reconcilers"
)

// ReconcileMessage is a queued entry together with its stream id.
type ReconcileMessage struct {
	StreamID string
	Entry    models.ReconcileEntry
}

// ReconcileQueue is a Redis stream of mirror writes that failed after their
// ledger operation confirmed. An entry stays in the stream until it is
// acknowledged, so the stream length is the backlog. The stream is never
// trimmed by length.
type ReconcileQueue struct {
	client   *Client
	stream   string
	group    string
	consumer string
}

func NewReconcileQueue(client *Client, stream, group, consumer string) *ReconcileQueue {
	if stream == "" {
		stream = DefaultReconcileStream
	}
	if group == "" {
		group = DefaultReconcileGroup
	}
	return &ReconcileQueue{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
	}
}

// EnsureGroup creates the consumer group if it does not exist yet.
func (q *ReconcileQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (q *ReconcileQueue) Enqueue(ctx context.Context, entry *models.ReconcileEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal reconcile entry: %w", err)
	}

	streamID, err := q.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"data": string(payload),
		},
	}).Result()
	if err != nil {
		q.client.logger.WithContext(ctx).WithError(err).WithField("tx_hash", entry.TxHash).Error("Failed to enqueue reconcile entry")
		return err
	}

	q.client.logger.WithContext(ctx).WithFields(map[string]any{
		"entry_id":  entry.ID,
		"operation": entry.Operation,
		"tx_hash":   entry.TxHash,
		"stream_id": streamID,
	}).Warn("Queued mirror write for reconciliation")
	return nil
}

// Consume reads entries not yet delivered to any consumer of the group.
func (q *ReconcileQueue) Consume(ctx context.Context, count int64, block time.Duration) ([]ReconcileMessage, error) {
	results, err := q.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var raw []redis.XMessage
	for _, result := range results {
		raw = append(raw, result.Messages...)
	}
	return q.decode(ctx, raw)
}

// Reclaim takes over entries delivered but not acknowledged for at least minIdle,
// so failed replays are retried.
func (q *ReconcileQueue) Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]ReconcileMessage, error) {
	claimed, _, err := q.client.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q.decode(ctx, claimed)
}

// Ack acknowledges the entries and deletes them from the stream in one
// transaction, so they no longer count toward the backlog.
func (q *ReconcileQueue) Ack(ctx context.Context, streamIDs ...string) error {
	if len(streamIDs) == 0 {
		return nil
	}
	_, err := q.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.stream, q.group, streamIDs...)
		pipe.XDel(ctx, q.stream, streamIDs...)
		return nil
	})
	return err
}

// Count returns the number of entries not yet acknowledged, delivered or not.
func (q *ReconcileQueue) Count(ctx context.Context) (int64, error) {
	return q.client.rdb.XLen(ctx, q.stream).Result()
}

// decode parses stream messages. Messages that cannot be parsed are
// acknowledged here; left pending they would be reclaimed forever.
func (q *ReconcileQueue) decode(ctx context.Context, msgs []redis.XMessage) ([]ReconcileMessage, error) {
	out := make([]ReconcileMessage, 0, len(msgs))
	var malformed []string
	for _, msg := range msgs {
		entry, err := decodeEntry(msg)
		if err != nil {
			q.client.logger.WithContext(ctx).WithError(err).WithField("stream_id", msg.ID).Error("Dropping malformed reconcile entry")
			metrics.RecordReconcileEntry("unknown", "dropped")
			malformed = append(malformed, msg.ID)
			continue
		}
		out = append(out, ReconcileMessage{StreamID: msg.ID, Entry: entry})
	}

	if err := q.Ack(ctx, malformed...); err != nil {
		return out, fmt.Errorf("failed to drop malformed reconcile entries: %w", err)
	}
	return out, nil
}

func decodeEntry(msg redis.XMessage) (models.ReconcileEntry, error) {
	var entry models.ReconcileEntry
	data, ok := msg.Values["data"].(string)
	if !ok {
		return entry, fmt.Errorf("stream message %s has no data field", msg.ID)
	}
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return entry, fmt.Errorf("stream message %s: %w", msg.ID, err)
	}
	return entry, nil
}
