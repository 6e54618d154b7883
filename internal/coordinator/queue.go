package coordinator

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/models"
)

// LogQueue stands in for the reconciliation stream when Redis is not
// configured. Entries are only logged, so they need manual repair.
type LogQueue struct {
	logger ectologger.Logger
}

func NewLogQueue(logger ectologger.Logger) *LogQueue {
	return &LogQueue{logger: logger}
}

func (q *LogQueue) Enqueue(ctx context.Context, entry *models.ReconcileEntry) error {
	q.logger.WithContext(ctx).WithFields(map[string]any{
		"operation": entry.Operation,
		"tx_hash":   entry.TxHash,
		"payload":   string(entry.Payload),
		"error":     entry.Error,
	}).Error("Mirror write needs reconciliation")
	return nil
}
