package batch

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	batchesTable = "batches"
)

// BatchRow represents the database row for a batch
type BatchRow struct {
	ID               uuid.UUID       `db:"id"`
	LedgerBatchID    int64           `db:"ledger_batch_id"`
	FarmerID         uuid.UUID       `db:"farmer_id"`
	CurrentOwnerID   uuid.UUID       `db:"current_owner_id"`
	ProductName      string          `db:"product_name"`
	ProductType      string          `db:"product_type"`
	Variety          sql.NullString  `db:"variety"`
	Quantity         decimal.Decimal `db:"quantity"`
	Unit             string          `db:"unit"`
	HarvestDate      time.Time       `db:"harvest_date"`
	ExpiryDate       time.Time       `db:"expiry_date"`
	BasePrice        decimal.Decimal `db:"base_price"`
	Status           string          `db:"status"`
	QualityGrade     sql.NullString  `db:"quality_grade"`
	OriginLocation   string          `db:"origin_location"`
	OriginHash       string          `db:"origin_hash"`
	QualityHash      sql.NullString  `db:"quality_hash"`
	LastHash         string          `db:"last_hash"`
	BlockchainTxHash string          `db:"blockchain_tx_hash"`
	Version          int             `db:"version"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

var batchStruct = database.NewStruct(new(BatchRow))

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// FromBatch converts a domain model to a database row
func FromBatch(b *models.Batch) *BatchRow {
	return &BatchRow{
		ID:               b.ID,
		LedgerBatchID:    int64(b.LedgerBatchID),
		FarmerID:         b.FarmerID,
		CurrentOwnerID:   b.CurrentOwnerID,
		ProductName:      b.ProductName,
		ProductType:      b.ProductType,
		Variety:          nullString(b.Variety),
		Quantity:         b.Quantity,
		Unit:             b.Unit,
		HarvestDate:      b.HarvestDate,
		ExpiryDate:       b.ExpiryDate,
		BasePrice:        b.BasePrice,
		Status:           string(b.Status),
		QualityGrade:     nullString(b.QualityGrade),
		OriginLocation:   b.OriginLocation,
		OriginHash:       b.OriginHash,
		QualityHash:      nullString(b.QualityHash),
		LastHash:         b.LastHash,
		BlockchainTxHash: b.BlockchainTxHash,
		Version:          b.Version,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

// ToBatch converts a database row to a domain model
func ToBatch(row *BatchRow) *models.Batch {
	return &models.Batch{
		ID:               row.ID,
		LedgerBatchID:    uint64(row.LedgerBatchID),
		FarmerID:         row.FarmerID,
		CurrentOwnerID:   row.CurrentOwnerID,
		ProductName:      row.ProductName,
		ProductType:      row.ProductType,
		Variety:          row.Variety.String,
		Quantity:         row.Quantity,
		Unit:             row.Unit,
		HarvestDate:      row.HarvestDate.UTC(),
		ExpiryDate:       row.ExpiryDate.UTC(),
		BasePrice:        row.BasePrice,
		Status:           models.BatchStatus(row.Status),
		QualityGrade:     row.QualityGrade.String,
		OriginLocation:   row.OriginLocation,
		OriginHash:       row.OriginHash,
		QualityHash:      row.QualityHash.String,
		LastHash:         row.LastHash,
		BlockchainTxHash: row.BlockchainTxHash,
		Version:          row.Version,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
}

func ToBatches(rows []BatchRow) []models.Batch {
	batches := make([]models.Batch, len(rows))
	for i := range rows {
		batches[i] = *ToBatch(&rows[i])
	}
	return batches
}

func Now() time.Time {
	return time.Now().UTC()
}
