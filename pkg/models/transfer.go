package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCrypto       PaymentMethod = "CRYPTO"
)

type TransportMethod string

const (
	TransportMethodTruck TransportMethod = "TRUCK"
	TransportMethodRail  TransportMethod = "RAIL"
	TransportMethodAir   TransportMethod = "AIR"
	TransportMethodShip  TransportMethod = "SHIP"
)

// Transfer is one confirmed ownership change of a batch.
type Transfer struct {
	ID               uuid.UUID       `json:"id"`
	BatchID          uuid.UUID       `json:"batch_id"`
	FromID           uuid.UUID       `json:"from_id"`
	ToID             uuid.UUID       `json:"to_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	PricePerUnit     decimal.Decimal `json:"price_per_unit"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	Currency         string          `json:"currency"`
	PaymentMethod    PaymentMethod   `json:"payment_method,omitempty"`
	TransportMethod  TransportMethod `json:"transport_method,omitempty"`
	VehicleNumber    string          `json:"vehicle_number,omitempty"`
	DeliveryDate     *time.Time      `json:"delivery_date,omitempty"`
	Location         string          `json:"location,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	Conditions       string          `json:"conditions,omitempty"`
	TransactionDate  time.Time       `json:"transaction_date"`
	StatusAfter      BatchStatus     `json:"status_after"`
	PrevHash         string          `json:"prev_hash"`
	TransferHash     string          `json:"transfer_hash"`
	BlockchainTxHash string          `json:"blockchain_tx_hash"`
	CreatedAt        time.Time       `json:"created_at"`
}

// TransferWrite is the atomic mirror update for a confirmed transfer. The batch
// row is only updated when its stored version still equals ExpectedVersion.
type TransferWrite struct {
	Batch           Batch    `json:"batch"`
	ExpectedVersion int      `json:"expected_version"`
	Transfer        Transfer `json:"transfer"`
}
