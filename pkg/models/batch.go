package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchStatusProduced  BatchStatus = "PRODUCED"
	BatchStatusInTransit BatchStatus = "IN_TRANSIT"
	BatchStatusDelivered BatchStatus = "DELIVERED"
	BatchStatusSold      BatchStatus = "SOLD"
	// BatchStatusExpired is derived at read time and never persisted.
	BatchStatusExpired BatchStatus = "EXPIRED"
)

type Batch struct {
	ID             uuid.UUID       `json:"id"`
	LedgerBatchID  uint64          `json:"ledger_batch_id"`
	FarmerID       uuid.UUID       `json:"farmer_id"`
	CurrentOwnerID uuid.UUID       `json:"current_owner_id"`
	ProductName    string          `json:"product_name"`
	ProductType    string          `json:"product_type"`
	Variety        string          `json:"variety,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	HarvestDate    time.Time       `json:"harvest_date"`
	ExpiryDate     time.Time       `json:"expiry_date"`
	BasePrice      decimal.Decimal `json:"base_price"`
	Status         BatchStatus     `json:"status"`
	QualityGrade   string          `json:"quality_grade,omitempty"`
	OriginLocation string          `json:"origin_location"`
	OriginHash     string          `json:"origin_hash"`
	QualityHash    string          `json:"quality_hash,omitempty"`
	// LastHash is the head of the batch's hash chain: the origin hash until the first transfer.
	LastHash         string    `json:"last_hash"`
	BlockchainTxHash string    `json:"blockchain_tx_hash"`
	Version          int       `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
