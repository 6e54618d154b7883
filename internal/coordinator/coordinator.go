// Package coordinator runs ledger-then-mirror writes as one logical operation.
//
// An operation is validated by its caller, submitted to the ledger, confirmed,
// and only then written to the mirror in a single local transaction. Once the
// ledger has accepted a transaction the remaining steps run on a detached
// context, so a caller that goes away does not leave a confirmed ledger write
// without its mirror row. A mirror write that fails after confirmation is
// reported as a persistence error carrying the ledger tx hash and is parked on
// the reconciliation queue. Nothing is ever re-submitted to the ledger.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

type Ledger interface {
	Submit(ctx context.Context, op ledger.Operation) (*ledger.PendingReceipt, error)
	AwaitConfirmation(ctx context.Context, pending *ledger.PendingReceipt) (*ledger.ConfirmedResult, error)
}

type ReconcileQueue interface {
	Enqueue(ctx context.Context, entry *models.ReconcileEntry) error
}

// Request is one dual-write operation.
type Request struct {
	Operation models.ReconcileOperation
	Op        ledger.Operation
	// Apply performs the mirror write for the confirmed transaction.
	Apply func(ctx context.Context, res *ledger.ConfirmedResult) error
	// Payload is the intended mirror write, parked for replay if Apply fails.
	Payload any
	// Finally runs exactly once when the operation is over, including work
	// that outlives the caller.
	Finally func()
}

type Coordinator struct {
	ledger Ledger
	queue  ReconcileQueue
	logger ectologger.Logger

	mu       sync.Mutex
	inflight sync.WaitGroup
	draining bool
}

func New(ledger Ledger, queue ReconcileQueue, logger ectologger.Logger) *Coordinator {
	return &Coordinator{
		ledger: ledger,
		queue:  queue,
		logger: logger,
	}
}

type outcome struct {
	res *ledger.ConfirmedResult
	err error
}

// Execute submits the ledger operation and, once it is confirmed, runs the
// mirror write. If ctx ends first the work carries on in the background and a
// ledger error with the pending tx hash is returned.
func (c *Coordinator) Execute(ctx context.Context, req Request) (*ledger.ConfirmedResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Coordinator.Execute", attribute.String("operation", string(req.Operation)))
	defer span.End()

	finally := onceFunc(req.Finally)
	operation := string(req.Operation)

	if !c.begin() {
		finally()
		return nil, apperrors.Ledger(nil, "service is shutting down")
	}

	pending, err := c.ledger.Submit(ctx, req.Op)
	if err != nil {
		c.inflight.Done()
		finally()
		metrics.RecordDualWrite(operation, "ledger_failed")
		tracing.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("ledger.tx_hash", pending.TxHash))

	metrics.InFlightOperations.Inc()
	done := make(chan outcome, 1)
	go func() {
		defer c.inflight.Done()
		defer metrics.InFlightOperations.Dec()
		defer finally()

		res, err := c.complete(context.WithoutCancel(ctx), req, pending)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			tracing.RecordError(span, out.err)
		}
		return out.res, out.err
	case <-ctx.Done():
		c.logger.WithContext(ctx).WithField("tx_hash", pending.TxHash).
			Warnf("caller left before %s completed, finishing in background", operation)
		return nil, apperrors.Ledger(ctx.Err(), "ledger confirmation pending").WithTxHash(pending.TxHash)
	}
}

func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining {
		return false
	}
	c.inflight.Add(1)
	return true
}

func (c *Coordinator) complete(ctx context.Context, req Request, pending *ledger.PendingReceipt) (*ledger.ConfirmedResult, error) {
	operation := string(req.Operation)
	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"operation": operation,
		"tx_hash":   pending.TxHash,
	})

	res, err := c.ledger.AwaitConfirmation(ctx, pending)
	if err != nil {
		metrics.RecordDualWrite(operation, "ledger_failed")
		// a timed out transaction may still be mined; park it so the mirror can catch up
		if errors.Is(err, context.DeadlineExceeded) {
			c.park(ctx, req, pending.TxHash, err)
		}
		return nil, err
	}

	if err := req.Apply(ctx, res); err != nil {
		if apperrors.Is(err, apperrors.KindEventNotFound) {
			metrics.RecordDualWrite(operation, "event_missing")
			log.WithError(err).Error("Confirmed transaction is missing its event")
			return nil, err
		}

		metrics.RecordDualWrite(operation, "mirror_failed")
		log.WithError(err).Error("Mirror write failed after ledger confirmation")
		c.park(ctx, req, res.TxHash, err)
		return nil, apperrors.Persistence(err, res.TxHash)
	}

	metrics.RecordDualWrite(operation, "ok")
	return res, nil
}

// park enqueues the intended mirror write for reconciliation.
func (c *Coordinator) park(ctx context.Context, req Request, txHash string, cause error) {
	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"operation": req.Operation,
		"tx_hash":   txHash,
	})

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		log.WithError(err).Error("Failed to encode reconciliation payload")
		metrics.RecordReconcileEntry(string(req.Operation), "encode_failed")
		return
	}

	entry := &models.ReconcileEntry{
		Operation: req.Operation,
		TxHash:    txHash,
		Payload:   payload,
		Error:     cause.Error(),
		CreatedAt: time.Now().UTC(),
	}
	if err := c.queue.Enqueue(ctx, entry); err != nil {
		log.WithError(err).Error("Failed to enqueue reconciliation entry")
		metrics.RecordReconcileEntry(string(req.Operation), "enqueue_failed")
		return
	}
	metrics.RecordReconcileEntry(string(req.Operation), "enqueued")
}

// Drain stops accepting new operations and waits for in-flight ones.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.logger.WithContext(ctx).Warn("Timed out draining in-flight ledger operations")
		return ctx.Err()
	}
}

func onceFunc(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	return sync.OnceFunc(fn)
}
