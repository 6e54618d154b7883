// Package reconcile replays mirror writes that failed after their ledger
// transaction confirmed. The ledger is read, never written: every replay is
// checked against the confirmed receipt before the mirror is touched.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Outcome tells the worker what to do with an entry after a replay.
type Outcome string

const (
	// OutcomeApplied means the mirror now reflects the ledger. Ack.
	OutcomeApplied Outcome = "applied"
	// OutcomeRetry leaves the entry pending so it is reclaimed later.
	OutcomeRetry Outcome = "retry"
	// OutcomeDropped means the entry can never be applied. Ack and log.
	OutcomeDropped Outcome = "dropped"
)

type LedgerReader interface {
	Lookup(ctx context.Context, txHash string) (*ledger.ConfirmedResult, error)
	DecodeEvent(res *ledger.ConfirmedResult, name string) (ledger.Event, error)
}

type BatchRepository interface {
	Create(ctx context.Context, batch *models.Batch) (*models.Batch, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Batch, error)
	ApplyTransfer(ctx context.Context, write models.TransferWrite) error
}

type StakeholderRepository interface {
	Create(ctx context.Context, stakeholder *models.Stakeholder) (*models.Stakeholder, error)
}

type Replayer struct {
	ledger       LedgerReader
	batches      BatchRepository
	stakeholders StakeholderRepository
	logger       ectologger.Logger
}

func NewReplayer(ledger LedgerReader, batches BatchRepository, stakeholders StakeholderRepository, logger ectologger.Logger) *Replayer {
	return &Replayer{
		ledger:       ledger,
		batches:      batches,
		stakeholders: stakeholders,
		logger:       logger,
	}
}

// Replay applies one parked mirror write. Applying an entry that is already
// reflected in the mirror is a no-op.
func (r *Replayer) Replay(ctx context.Context, entry models.ReconcileEntry) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "Replayer.Replay",
		attribute.String("operation", string(entry.Operation)),
		attribute.String("ledger.tx_hash", entry.TxHash),
	)
	defer span.End()

	res, err := r.ledger.Lookup(ctx, entry.TxHash)
	if err != nil {
		tracing.RecordError(span, err)
		switch {
		case apperrors.Is(err, apperrors.KindNotFound):
			// not mined yet
			return OutcomeRetry, err
		case isRevert(err):
			return OutcomeDropped, err
		default:
			return OutcomeRetry, err
		}
	}

	switch entry.Operation {
	case models.ReconcileRegisterBatch:
		err = r.replayBatch(ctx, entry, res)
	case models.ReconcileTransferBatch:
		err = r.replayTransfer(ctx, entry, res)
	case models.ReconcileRegisterStakeholder:
		err = r.replayStakeholder(ctx, entry, res)
	default:
		err = apperrors.InvalidPayload("unknown reconcile operation %q", entry.Operation)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return outcomeFor(err), err
	}
	return OutcomeApplied, nil
}

func (r *Replayer) replayBatch(ctx context.Context, entry models.ReconcileEntry, res *ledger.ConfirmedResult) error {
	var batch models.Batch
	if err := decode(entry, &batch); err != nil {
		return err
	}

	ev, err := r.ledger.DecodeEvent(res, ledger.EventBatchCreated)
	if err != nil {
		return err
	}
	event, ok := ev.(ledger.BatchCreatedEvent)
	if !ok || event.OriginHash != batch.OriginHash {
		return apperrors.EventNotFound(ledger.EventBatchCreated, res.TxHash)
	}

	batch.LedgerBatchID = event.BatchID
	batch.BlockchainTxHash = res.TxHash
	_, err = r.batches.Create(ctx, &batch)
	return err
}

func (r *Replayer) replayTransfer(ctx context.Context, entry models.ReconcileEntry, res *ledger.ConfirmedResult) error {
	var write models.TransferWrite
	if err := decode(entry, &write); err != nil {
		return err
	}

	ev, err := r.ledger.DecodeEvent(res, ledger.EventBatchTransferred)
	if err != nil {
		return err
	}
	event, ok := ev.(ledger.BatchTransferredEvent)
	// the parked write does not carry the recipient's account; the transfer
	// hash already commits to the recipient id
	submitted := ledger.TransferBatch{
		BatchID:      write.Batch.LedgerBatchID,
		TotalPrice:   write.Transfer.TotalPrice,
		TransferHash: write.Transfer.TransferHash,
	}
	if !ok || !event.Records(submitted) {
		return apperrors.EventNotFound(ledger.EventBatchTransferred, res.TxHash)
	}
	write.Transfer.BlockchainTxHash = res.TxHash

	err = r.batches.ApplyTransfer(ctx, write)
	if !apperrors.Is(err, apperrors.KindConflict) {
		return err
	}

	// The version moved but the chain head is still where this transfer
	// expects it, so nothing else was applied on top. Rebase and retry once.
	current, getErr := r.batches.GetByID(ctx, write.Batch.ID)
	if getErr != nil {
		return getErr
	}
	if current.LastHash != write.Transfer.PrevHash {
		return apperrors.Wrap(apperrors.KindInvalidPayload, err,
			fmt.Sprintf("batch %s chain head %s does not precede transfer %s", current.ID, current.LastHash, write.Transfer.TransferHash))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id":         current.ID,
		"expected_version": write.ExpectedVersion,
		"current_version":  current.Version,
	}).Warn("Rebasing parked transfer onto current batch version")
	write.ExpectedVersion = current.Version
	return r.batches.ApplyTransfer(ctx, write)
}

func (r *Replayer) replayStakeholder(ctx context.Context, entry models.ReconcileEntry, res *ledger.ConfirmedResult) error {
	var stakeholder models.Stakeholder
	if err := decode(entry, &stakeholder); err != nil {
		return err
	}

	ev, err := r.ledger.DecodeEvent(res, ledger.EventStakeholderRegistered)
	if err != nil {
		return err
	}
	event, ok := ev.(ledger.StakeholderRegisteredEvent)
	if !ok || !strings.EqualFold(event.Account, stakeholder.AccountAddress) {
		return apperrors.EventNotFound(ledger.EventStakeholderRegistered, res.TxHash)
	}

	stakeholder.LedgerTxHash = res.TxHash
	_, err = r.stakeholders.Create(ctx, &stakeholder)
	return err
}

func decode(entry models.ReconcileEntry, v any) error {
	if err := json.Unmarshal(entry.Payload, v); err != nil {
		return apperrors.Wrap(apperrors.KindInvalidPayload, err, "failed to decode reconcile payload")
	}
	return nil
}

// isRevert reports a receipt that was included but reverted. Read failures
// carry the transport error as their cause.
func isRevert(err error) bool {
	appErr, ok := apperrors.As(err)
	return ok && appErr.Kind == apperrors.KindLedger && appErr.Unwrap() == nil
}

// outcomeFor sorts mirror errors into ones a later attempt can fix and ones
// it cannot.
func outcomeFor(err error) Outcome {
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalidPayload, apperrors.KindEventNotFound, apperrors.KindConflict:
		return OutcomeDropped
	default:
		return OutcomeRetry
	}
}
