package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func newTestProducer(w *recordingWriter) *Producer {
	return newProducer(w, "provenance", ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPublishProvenance_BatchEvent(t *testing.T) {
	w := &recordingWriter{}
	p := newTestProducer(w)

	evt := &ProvenanceEvent{
		Type:          EventBatchTransferred,
		BatchID:       "5b1f0f5e-3c1d-4d52-9c8e-7a6b2a1f0e11",
		LedgerBatchID: 7,
		FromID:        "farmer",
		ToID:          "distributor",
		Status:        "IN_TRANSIT",
		TxHash:        "0xabc",
	}
	require.NoError(t, p.PublishProvenance(context.Background(), evt))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, evt.BatchID, string(msg.Key))
	assert.Equal(t, EventBatchTransferred, header(msg, "type"))
	assert.Equal(t, "0xabc", header(msg, "tx_hash"))
	assert.False(t, evt.Timestamp.IsZero(), "timestamp is filled in")

	var decoded ProvenanceEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, evt.BatchID, decoded.BatchID)
	assert.Equal(t, uint64(7), decoded.LedgerBatchID)
	assert.Equal(t, "IN_TRANSIT", decoded.Status)
	assert.True(t, evt.Timestamp.Equal(decoded.Timestamp))
}

func TestPublishProvenance_StakeholderEventKeyedByStakeholder(t *testing.T) {
	w := &recordingWriter{}
	p := newTestProducer(w)

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	evt := &ProvenanceEvent{
		Type:          EventStakeholderRegistered,
		StakeholderID: "d2c8a4c1-7e0b-4a53-8f2a-0c1b9d7e6f45",
		TxHash:        "0xdef",
		Timestamp:     at,
	}
	require.NoError(t, p.PublishProvenance(context.Background(), evt))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, evt.StakeholderID, string(w.msgs[0].Key))
	assert.Equal(t, at, evt.Timestamp, "an explicit timestamp is kept")
}

func TestPublishProvenance_Errors(t *testing.T) {
	t.Run("nil event", func(t *testing.T) {
		w := &recordingWriter{}
		assert.Error(t, newTestProducer(w).PublishProvenance(context.Background(), nil))
		assert.Empty(t, w.msgs)
	})

	t.Run("writer failure", func(t *testing.T) {
		w := &recordingWriter{err: errors.New("leader not available")}
		err := newTestProducer(w).PublishProvenance(context.Background(), &ProvenanceEvent{Type: EventBatchRegistered, BatchID: "b", TxHash: "0x1"})
		assert.EqualError(t, err, "leader not available")
	})
}

func TestProducer_Close(t *testing.T) {
	w := &recordingWriter{}
	require.NoError(t, newTestProducer(w).Close())
	assert.True(t, w.closed)
}

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig("kafka-1:9092, kafka-2:9092 ,kafka-3:9092", "provenance")
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092", "kafka-3:9092"}, cfg.Brokers)
	assert.Equal(t, "provenance", cfg.Topic)
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard{}.PublishProvenance(context.Background(), &ProvenanceEvent{}))
}
