package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	DefaultBatchSize     = 10
	DefaultBlockTimeout  = 5 * time.Second
	DefaultClaimInterval = 30 * time.Second
	DefaultClaimMinIdle  = time.Minute
)

// Queue is the consuming side of the reconciliation stream.
type Queue interface {
	EnsureGroup(ctx context.Context) error
	Consume(ctx context.Context, count int64, block time.Duration) ([]redis.ReconcileMessage, error)
	Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]redis.ReconcileMessage, error)
	Ack(ctx context.Context, streamIDs ...string) error
}

type WorkerConfig struct {
	BatchSize     int64
	BlockTimeout  time.Duration
	ClaimInterval time.Duration
	ClaimMinIdle  time.Duration
}

// Worker drains the reconciliation stream through a Replayer. Entries that
// need another attempt stay pending and are reclaimed once idle.
type Worker struct {
	queue    Queue
	replayer *Replayer
	config   WorkerConfig
	logger   ectologger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	stopped chan struct{}
}

func NewWorker(queue Queue, replayer *Replayer, config WorkerConfig, logger ectologger.Logger) *Worker {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = DefaultBlockTimeout
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = DefaultClaimInterval
	}
	if config.ClaimMinIdle <= 0 {
		config.ClaimMinIdle = DefaultClaimMinIdle
	}
	return &Worker{
		queue:    queue,
		replayer: replayer,
		config:   config,
		logger:   logger,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("reconcile worker already running")
	}

	if err := w.queue.EnsureGroup(ctx); err != nil {
		w.logger.WithContext(ctx).WithError(err).Error("Failed to create reconcile consumer group")
		return err
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.stopped = make(chan struct{})
	go w.loop(ctx)

	w.logger.WithContext(ctx).Info("Reconcile worker started")
	return nil
}

// Stop signals the loop and waits for the current batch to finish.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	stopped := w.stopped
	w.mu.Unlock()

	select {
	case <-stopped:
		w.logger.WithContext(ctx).Info("Reconcile worker stopped")
		return nil
	case <-ctx.Done():
		w.logger.WithContext(ctx).Warn("Reconcile worker shutdown timed out")
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.config.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.reclaim(ctx)
		default:
		}

		if _, err := w.ProcessNew(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.WithContext(ctx).WithError(err).Warn("Failed to consume reconcile entries")
			select {
			case <-w.stopCh:
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessNew consumes and replays entries not yet delivered to this group.
// It returns how many were acknowledged.
func (w *Worker) ProcessNew(ctx context.Context) (int, error) {
	messages, err := w.queue.Consume(ctx, w.config.BatchSize, w.config.BlockTimeout)
	if err != nil {
		return 0, err
	}
	return w.process(ctx, messages), nil
}

// ProcessStale reclaims entries whose earlier replay did not finish.
func (w *Worker) ProcessStale(ctx context.Context) (int, error) {
	messages, err := w.queue.Reclaim(ctx, w.config.ClaimMinIdle, w.config.BatchSize)
	if err != nil {
		return 0, err
	}
	return w.process(ctx, messages), nil
}

func (w *Worker) reclaim(ctx context.Context) {
	acked, err := w.ProcessStale(ctx)
	if err != nil {
		w.logger.WithContext(ctx).WithError(err).Warn("Failed to reclaim reconcile entries")
		return
	}
	if acked > 0 {
		w.logger.WithContext(ctx).Infof("Reconciled %d reclaimed entries", acked)
	}
}

func (w *Worker) process(ctx context.Context, messages []redis.ReconcileMessage) int {
	acked := 0
	for _, msg := range messages {
		if w.handle(ctx, msg.Entry) {
			if err := w.queue.Ack(ctx, msg.StreamID); err != nil {
				w.logger.WithContext(ctx).WithError(err).Warnf("Failed to ack reconcile entry %s", msg.StreamID)
				continue
			}
			acked++
		}
	}
	return acked
}

// handle replays one entry and reports whether it should be acknowledged.
func (w *Worker) handle(ctx context.Context, entry models.ReconcileEntry) bool {
	ctx, span := tracing.StartSpan(ctx, "Worker.handle")
	defer span.End()

	log := w.logger.WithContext(ctx).WithFields(map[string]any{
		"entry_id":  entry.ID,
		"operation": entry.Operation,
		"tx_hash":   entry.TxHash,
	})

	outcome, err := w.replayer.Replay(ctx, entry)
	metrics.RecordReconcileEntry(string(entry.Operation), string(outcome))

	switch outcome {
	case OutcomeApplied:
		log.Info("Reconciled mirror write")
		return true
	case OutcomeDropped:
		log.WithError(err).Error("Dropping reconcile entry that can never apply")
		return true
	default:
		log.WithError(err).Warn("Reconcile entry not applied, will retry")
		return false
	}
}
