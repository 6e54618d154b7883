package batch

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	defaultUnit     = "kg"
	defaultCurrency = "INR"
)

// Quantities and prices carry at most ledger.QuantityScale and
// ledger.PriceScale places; anything finer would be rounded by the ledger and
// the mirror after the hash was taken.
type RegisterBatchRequest struct {
	ProductName    string          `json:"product_name" validate:"required,min=1,max=100"`
	ProductType    string          `json:"product_type" validate:"required,min=1,max=100"`
	Variety        string          `json:"variety,omitempty" validate:"max=100"`
	Quantity       decimal.Decimal `json:"quantity" validate:"gt=0,scale=3"`
	Unit           string          `json:"unit,omitempty" validate:"max=16"`
	HarvestDate    time.Time       `json:"harvest_date" validate:"required"`
	ExpiryDate     time.Time       `json:"expiry_date" validate:"required,gtfield=HarvestDate"`
	BasePrice      decimal.Decimal `json:"base_price" validate:"gt=0,scale=2"`
	QualityGrade   string          `json:"quality_grade,omitempty" validate:"max=16"`
	OriginLocation string          `json:"origin_location" validate:"required,max=255"`
}

// TransferBatchRequest names the recipient by id or by email. Quantity
// defaults to the whole batch.
type TransferBatchRequest struct {
	ToStakeholderID string                 `json:"to_stakeholder_id,omitempty" validate:"omitempty,uuid"`
	ToEmail         string                 `json:"to_email,omitempty" validate:"omitempty,email"`
	Quantity        *decimal.Decimal       `json:"quantity,omitempty" validate:"omitempty,gt=0,scale=3"`
	PricePerUnit    decimal.Decimal        `json:"price_per_unit" validate:"gt=0,scale=2"`
	Currency        string                 `json:"currency,omitempty" validate:"omitempty,len=3"`
	PaymentMethod   models.PaymentMethod   `json:"payment_method,omitempty" validate:"omitempty,oneof=CASH BANK_TRANSFER CRYPTO"`
	TransportMethod models.TransportMethod `json:"transport_method,omitempty" validate:"omitempty,oneof=TRUCK RAIL AIR SHIP"`
	VehicleNumber   string                 `json:"vehicle_number,omitempty" validate:"max=32"`
	DeliveryDate    *time.Time             `json:"delivery_date,omitempty"`
	Location        string                 `json:"location,omitempty" validate:"max=255"`
	Notes           string                 `json:"notes,omitempty" validate:"max=1000"`
	Conditions      string                 `json:"conditions,omitempty" validate:"max=1000"`
}

type TransferResult struct {
	Batch    models.Batch    `json:"batch"`
	Transfer models.Transfer `json:"transfer"`
	// RetainedQuantity is what the sender kept on a partial transfer. It is
	// not part of the batch record afterwards.
	RetainedQuantity decimal.Decimal `json:"retained_quantity"`
}
