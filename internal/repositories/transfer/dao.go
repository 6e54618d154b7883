package transfer

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	transactionsTable = "transactions"
)

// TransferRow represents the database row for a transfer record
type TransferRow struct {
	ID               uuid.UUID       `db:"id"`
	BatchID          uuid.UUID       `db:"batch_id"`
	FromID           uuid.UUID       `db:"from_id"`
	ToID             uuid.UUID       `db:"to_id"`
	Quantity         decimal.Decimal `db:"quantity"`
	PricePerUnit     decimal.Decimal `db:"price_per_unit"`
	TotalPrice       decimal.Decimal `db:"total_price"`
	Currency         string          `db:"currency"`
	PaymentMethod    sql.NullString  `db:"payment_method"`
	TransportMethod  sql.NullString  `db:"transport_method"`
	VehicleNumber    sql.NullString  `db:"vehicle_number"`
	DeliveryDate     sql.NullTime    `db:"delivery_date"`
	Location         sql.NullString  `db:"location"`
	Notes            sql.NullString  `db:"notes"`
	Conditions       sql.NullString  `db:"conditions"`
	TransactionDate  time.Time       `db:"transaction_date"`
	StatusAfter      string          `db:"status_after"`
	PrevHash         string          `db:"prev_hash"`
	TransferHash     string          `db:"transfer_hash"`
	BlockchainTxHash string          `db:"blockchain_tx_hash"`
	CreatedAt        time.Time       `db:"created_at"`
}

var transferStruct = database.NewStruct(new(TransferRow))

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func FromTransfer(t *models.Transfer) *TransferRow {
	row := &TransferRow{
		ID:               t.ID,
		BatchID:          t.BatchID,
		FromID:           t.FromID,
		ToID:             t.ToID,
		Quantity:         t.Quantity,
		PricePerUnit:     t.PricePerUnit,
		TotalPrice:       t.TotalPrice,
		Currency:         t.Currency,
		PaymentMethod:    nullString(string(t.PaymentMethod)),
		TransportMethod:  nullString(string(t.TransportMethod)),
		VehicleNumber:    nullString(t.VehicleNumber),
		Location:         nullString(t.Location),
		Notes:            nullString(t.Notes),
		Conditions:       nullString(t.Conditions),
		TransactionDate:  t.TransactionDate,
		StatusAfter:      string(t.StatusAfter),
		PrevHash:         t.PrevHash,
		TransferHash:     t.TransferHash,
		BlockchainTxHash: t.BlockchainTxHash,
		CreatedAt:        t.CreatedAt,
	}
	if t.DeliveryDate != nil {
		row.DeliveryDate = sql.NullTime{Time: *t.DeliveryDate, Valid: true}
	}
	return row
}

func ToTransfer(row *TransferRow) *models.Transfer {
	t := &models.Transfer{
		ID:               row.ID,
		BatchID:          row.BatchID,
		FromID:           row.FromID,
		ToID:             row.ToID,
		Quantity:         row.Quantity,
		PricePerUnit:     row.PricePerUnit,
		TotalPrice:       row.TotalPrice,
		Currency:         row.Currency,
		PaymentMethod:    models.PaymentMethod(row.PaymentMethod.String),
		TransportMethod:  models.TransportMethod(row.TransportMethod.String),
		VehicleNumber:    row.VehicleNumber.String,
		Location:         row.Location.String,
		Notes:            row.Notes.String,
		Conditions:       row.Conditions.String,
		TransactionDate:  row.TransactionDate.UTC(),
		StatusAfter:      models.BatchStatus(row.StatusAfter),
		PrevHash:         row.PrevHash,
		TransferHash:     row.TransferHash,
		BlockchainTxHash: row.BlockchainTxHash,
		CreatedAt:        row.CreatedAt.UTC(),
	}
	if row.DeliveryDate.Valid {
		d := row.DeliveryDate.Time.UTC()
		t.DeliveryDate = &d
	}
	return t
}

func ToTransfers(rows []TransferRow) []models.Transfer {
	transfers := make([]models.Transfer, len(rows))
	for i := range rows {
		transfers[i] = *ToTransfer(&rows[i])
	}
	return transfers
}
