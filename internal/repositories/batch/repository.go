package batch

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/database"
	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/google/uuid"
)

// BatchRepository defines the interface for batch data access
type BatchRepository interface {
	Create(ctx context.Context, batch *models.Batch) (*models.Batch, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Batch, error)
	GetByLedgerID(ctx context.Context, ledgerBatchID uint64) (*models.Batch, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Batch, error)
	ApplyTransfer(ctx context.Context, write models.TransferWrite) error
}

// TransferWriter appends transfer records inside the caller's transaction.
type TransferWriter interface {
	Insert(ctx context.Context, transfer *models.Transfer) (bool, error)
}

type Repository struct {
	db        database.DB
	transfers TransferWriter
	logger    ectologger.Logger
}

func NewRepository(db database.DB, transfers TransferWriter, logger ectologger.Logger) *Repository {
	return &Repository{
		db:        db,
		transfers: transfers,
		logger:    logger,
	}
}

// Create inserts the batch. The insert is keyed by ledger batch id, so a
// replayed creation returns the row already stored.
func (r *Repository) Create(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.Create")
	defer span.End()

	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Version == 0 {
		batch.Version = 1
	}

	now := Now()
	batch.CreatedAt = now
	batch.UpdatedAt = now

	ib := batchStruct.InsertInto(batchesTable, FromBatch(batch))

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":              batch.ID,
		"ledger_batch_id": batch.LedgerBatchID,
		"farmer_id":       batch.FarmerID,
	}).Debug("Creating batch")

	inserted, err := database.InsertIfAbsent(ctx, r.db.Conn(ctx), ib, "ledger_batch_id")
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create batch")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create batch")
	}

	if !inserted {
		r.logger.WithContext(ctx).Infof("batch with ledger id %d already stored", batch.LedgerBatchID)
		return r.GetByLedgerID(ctx, batch.LedgerBatchID)
	}

	return batch, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.GetByID")
	defer span.End()

	return r.getOne(ctx, "id", id)
}

func (r *Repository) GetByLedgerID(ctx context.Context, ledgerBatchID uint64) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.GetByLedgerID")
	defer span.End()

	return r.getOne(ctx, "ledger_batch_id", int64(ledgerBatchID))
}

func (r *Repository) getOne(ctx context.Context, column string, value any) (*models.Batch, error) {
	sb := batchStruct.SelectFrom(batchesTable)
	sb.Where(sb.Equal(column, value))
	sql, args := sb.Build()

	var row BatchRow
	if err := r.db.Conn(ctx).GetContext(ctx, &row, sql, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("batch not found")
		}
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to get batch by %s", column)
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get batch")
	}

	return ToBatch(&row), nil
}

// ListByOwner returns the batches currently owned by ownerID, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.ListByOwner")
	defer span.End()

	sb := batchStruct.SelectFrom(batchesTable)
	sb.Where(sb.Equal("current_owner_id", ownerID))
	sb.OrderBy("created_at").Desc()
	sql, args := sb.Build()

	var rows []BatchRow
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, sql, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list batches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list batches")
	}

	return ToBatches(rows), nil
}

// ApplyTransfer appends the transfer record and moves the batch to its new
// owner in one transaction. A record already stored for the same ledger
// transaction makes this a no-op. The batch row is only updated while its
// version still matches write.ExpectedVersion.
func (r *Repository) ApplyTransfer(ctx context.Context, write models.TransferWrite) error {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.ApplyTransfer")
	defer span.End()

	return r.db.WithTx(ctx, nil, func(ctx context.Context) error {
		inserted, err := r.transfers.Insert(ctx, &write.Transfer)
		if err != nil {
			return err
		}
		if !inserted {
			r.logger.WithContext(ctx).Infof("transfer %s already applied", write.Transfer.BlockchainTxHash)
			return nil
		}

		b := write.Batch
		ub := database.NewUpdateBuilder()
		ub.Update(batchesTable)
		ub.Set(
			ub.Assign("current_owner_id", b.CurrentOwnerID),
			ub.Assign("status", string(b.Status)),
			ub.Assign("quantity", b.Quantity),
			ub.Assign("last_hash", b.LastHash),
			ub.Incr("version"),
			ub.Assign("updated_at", Now()),
		)
		ub.Where(
			ub.Equal("id", b.ID),
			ub.Equal("version", write.ExpectedVersion),
		)
		sql, args := ub.Build()

		r.logger.WithContext(ctx).WithFields(map[string]any{
			"id":               b.ID,
			"current_owner_id": b.CurrentOwnerID,
			"status":           b.Status,
			"expected_version": write.ExpectedVersion,
		}).Debug("Applying transfer to batch")

		result, err := r.db.Conn(ctx).ExecContext(ctx, sql, args...)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to update batch")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update batch")
		}

		if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
			return apperrors.Conflict("batch %s was modified concurrently", b.ID)
		}
		return nil
	})
}
