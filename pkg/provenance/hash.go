// Package provenance computes the content hashes that make a batch's history
// tamper-evident and rebuilds its journey from mirror records.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/shopspring/decimal"
)

// Field is one key/value entry of a hash payload.
type Field struct {
	Key   string
	Value string
}

// Payload is an ordered key/value list. Order does not affect the hash.
type Payload []Field

func (p Payload) With(key, value string) Payload {
	return append(p, Field{Key: key, Value: value})
}

// WithOptional adds the field only when value is non-empty.
func (p Payload) WithOptional(key, value string) Payload {
	if value == "" {
		return p
	}
	return p.With(key, value)
}

// ComputeHash canonicalizes the payload as a JSON array of [key, value] pairs
// sorted by key and returns its SHA-256 digest as 0x-prefixed hex.
func ComputeHash(p Payload) (string, error) {
	if len(p) == 0 {
		return "", apperrors.InvalidPayload("hash payload is empty")
	}

	sorted := make(Payload, len(p))
	copy(sorted, p)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	pairs := make([][2]string, len(sorted))
	for i, f := range sorted {
		if f.Key == "" {
			return "", apperrors.InvalidPayload("hash payload has an empty key")
		}
		if i > 0 && sorted[i-1].Key == f.Key {
			return "", apperrors.InvalidPayload("hash payload has duplicate key %q", f.Key)
		}
		pairs[i] = [2]string{f.Key, f.Value}
	}

	encoded, err := json.Marshal(pairs)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInvalidPayload, err, "failed to encode hash payload")
	}

	sum := sha256.Sum256(encoded)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// FormatTime renders timestamps in the form used inside hash payloads.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDecimal(d decimal.Decimal) string {
	return d.String()
}

const (
	KeyFarmerID     = "farmer_id"
	KeyHarvestDate  = "harvest_date"
	KeyLocation     = "location"
	KeyProductName  = "product_name"
	KeyProductType  = "product_type"
	KeyVariety      = "variety"
	KeyQuantity     = "quantity"
	KeyUnit         = "unit"
	KeyBatchID      = "batch_id"
	KeyFrom         = "from"
	KeyTo           = "to"
	KeyPrice        = "price_per_unit"
	KeyTimestamp    = "timestamp"
	KeyPrevHash     = "prev_hash"
	KeyBatchRef     = "batch_ref"
	KeyInspectorID  = "inspector_id"
	KeyGrade        = "grade"
	KeyInspectedAt  = "inspected_at"
	KeyName         = "name"
	KeyEmail        = "email"
	KeyRole         = "role"
	KeyBusinessName = "business_name"
)

type OriginData struct {
	FarmerID    string
	HarvestDate time.Time
	Location    string
	ProductName string
	ProductType string
	Variety     string
	Quantity    decimal.Decimal
	Unit        string
}

func OriginPayload(o OriginData) (Payload, error) {
	if o.FarmerID == "" {
		return nil, apperrors.InvalidPayload("origin payload requires a farmer id")
	}
	if o.HarvestDate.IsZero() {
		return nil, apperrors.InvalidPayload("origin payload requires a harvest date")
	}
	if o.Location == "" {
		return nil, apperrors.InvalidPayload("origin payload requires a location")
	}

	p := Payload{}.
		With(KeyFarmerID, o.FarmerID).
		With(KeyHarvestDate, FormatTime(o.HarvestDate)).
		With(KeyLocation, o.Location).
		WithOptional(KeyProductName, o.ProductName).
		WithOptional(KeyProductType, o.ProductType).
		WithOptional(KeyVariety, o.Variety).
		WithOptional(KeyUnit, o.Unit)
	if !o.Quantity.IsZero() {
		p = p.With(KeyQuantity, formatDecimal(o.Quantity))
	}
	return p, nil
}

func OriginHash(o OriginData) (string, error) {
	p, err := OriginPayload(o)
	if err != nil {
		return "", err
	}
	return ComputeHash(p)
}

// TransferData is the content of one link in a batch's hash chain.
// PrevHash is the origin hash for the first transfer.
type TransferData struct {
	BatchID      uint64
	FromID       string
	ToID         string
	Quantity     decimal.Decimal
	PricePerUnit decimal.Decimal
	Timestamp    time.Time
	PrevHash     string
}

func TransferPayload(t TransferData) (Payload, error) {
	switch {
	case t.BatchID == 0:
		return nil, apperrors.InvalidPayload("transfer payload requires a batch id")
	case t.FromID == "":
		return nil, apperrors.InvalidPayload("transfer payload requires a sender")
	case t.ToID == "":
		return nil, apperrors.InvalidPayload("transfer payload requires a recipient")
	case !t.Quantity.IsPositive():
		return nil, apperrors.InvalidPayload("transfer payload requires a positive quantity")
	case t.PricePerUnit.IsNegative():
		return nil, apperrors.InvalidPayload("transfer payload requires a price")
	case t.Timestamp.IsZero():
		return nil, apperrors.InvalidPayload("transfer payload requires a timestamp")
	}

	return Payload{}.
		With(KeyBatchID, strconv.FormatUint(t.BatchID, 10)).
		With(KeyFrom, t.FromID).
		With(KeyTo, t.ToID).
		With(KeyQuantity, formatDecimal(t.Quantity)).
		With(KeyPrice, formatDecimal(t.PricePerUnit)).
		With(KeyTimestamp, FormatTime(t.Timestamp)).
		With(KeyPrevHash, t.PrevHash), nil
}

func TransferHash(t TransferData) (string, error) {
	p, err := TransferPayload(t)
	if err != nil {
		return "", err
	}
	return ComputeHash(p)
}

type QualityData struct {
	BatchRef    string
	InspectorID string
	Grade       string
	InspectedAt time.Time
}

func QualityHash(q QualityData) (string, error) {
	switch {
	case q.BatchRef == "":
		return "", apperrors.InvalidPayload("quality payload requires a batch or farmer reference")
	case q.Grade == "":
		return "", apperrors.InvalidPayload("quality payload requires a grade")
	case q.InspectedAt.IsZero():
		return "", apperrors.InvalidPayload("quality payload requires an inspection time")
	}

	return ComputeHash(Payload{}.
		With(KeyBatchRef, q.BatchRef).
		WithOptional(KeyInspectorID, q.InspectorID).
		With(KeyGrade, q.Grade).
		With(KeyInspectedAt, FormatTime(q.InspectedAt)))
}

// ProfileData is the stakeholder profile registered with the ledger.
type ProfileData struct {
	Name         string
	Email        string
	Role         string
	Location     string
	BusinessName string
}

func ProfileHash(p ProfileData) (string, error) {
	if p.Name == "" || p.Email == "" || p.Role == "" {
		return "", apperrors.InvalidPayload("profile payload requires name, email and role")
	}
	return ComputeHash(Payload{}.
		With(KeyName, p.Name).
		With(KeyEmail, p.Email).
		With(KeyRole, p.Role).
		WithOptional(KeyLocation, p.Location).
		WithOptional(KeyBusinessName, p.BusinessName))
}
