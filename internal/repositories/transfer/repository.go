package transfer

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/database"
	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/google/uuid"
)

// TransferRepository defines the interface for transfer record access. Records
// are append-only, so there is no update or delete.
type TransferRepository interface {
	Insert(ctx context.Context, transfer *models.Transfer) (bool, error)
	GetByTxHash(ctx context.Context, txHash string) (*models.Transfer, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]models.Transfer, error)
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert appends the transfer record. It reports false when a record for the
// same ledger transaction already exists.
func (r *Repository) Insert(ctx context.Context, transfer *models.Transfer) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "TransferRepository.Insert")
	defer span.End()

	if transfer.ID == uuid.Nil {
		transfer.ID = uuid.New()
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}

	ib := transferStruct.InsertInto(transactionsTable, FromTransfer(transfer))

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":       transfer.ID,
		"batch_id": transfer.BatchID,
		"tx_hash":  transfer.BlockchainTxHash,
	}).Debug("Inserting transfer record")

	inserted, err := database.InsertIfAbsent(ctx, r.db.Conn(ctx), ib, "blockchain_tx_hash")
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert transfer record")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert transfer record")
	}

	return inserted, nil
}

func (r *Repository) GetByTxHash(ctx context.Context, txHash string) (*models.Transfer, error) {
	ctx, span := tracing.StartSpan(ctx, "TransferRepository.GetByTxHash")
	defer span.End()

	sb := transferStruct.SelectFrom(transactionsTable)
	sb.Where(sb.Equal("blockchain_tx_hash", txHash))
	sql, args := sb.Build()

	var row TransferRow
	if err := r.db.Conn(ctx).GetContext(ctx, &row, sql, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("transfer %s not found", txHash)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get transfer record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get transfer record")
	}

	return ToTransfer(&row), nil
}

// ListByBatch returns the batch's transfers, oldest first.
func (r *Repository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]models.Transfer, error) {
	ctx, span := tracing.StartSpan(ctx, "TransferRepository.ListByBatch")
	defer span.End()

	sb := transferStruct.SelectFrom(transactionsTable)
	sb.Where(sb.Equal("batch_id", batchID))
	sb.OrderBy("transaction_date", "created_at").Asc()
	sql, args := sb.Build()

	var rows []TransferRow
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, sql, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list transfer records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list transfer records")
	}

	return ToTransfers(rows), nil
}
