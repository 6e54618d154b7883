package ledger

import (
	"math/big"
	"strings"
	"time"

	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

const (
	// QuantityScale is the number of decimal places kept when a quantity is sent to the ledger.
	QuantityScale = 3
	// PriceScale converts prices to minor currency units.
	PriceScale = 2
)

// Operation is an ownership-changing call on the ledger contract.
type Operation interface {
	Method() string
	Args() ([]any, error)
}

type CreateBatch struct {
	Owner       string
	ProductName string
	ProductType string
	Quantity    decimal.Decimal
	HarvestDate time.Time
	ExpiryDate  time.Time
	BasePrice   decimal.Decimal
	OriginHash  string
	QualityHash string
}

func (o CreateBatch) Method() string { return MethodCreateBatch }

func (o CreateBatch) Args() ([]any, error) {
	owner, err := ParseAddress(o.Owner)
	if err != nil {
		return nil, err
	}
	origin, err := HashToBytes32(o.OriginHash)
	if err != nil {
		return nil, err
	}
	quality, err := HashToBytes32(o.QualityHash)
	if err != nil {
		return nil, err
	}

	return []any{
		owner,
		o.ProductName,
		o.ProductType,
		ToUnits(o.Quantity, QuantityScale),
		big.NewInt(o.HarvestDate.Unix()),
		big.NewInt(o.ExpiryDate.Unix()),
		ToUnits(o.BasePrice, PriceScale),
		origin,
		quality,
	}, nil
}

type TransferBatch struct {
	BatchID      uint64
	From         string
	To           string
	TotalPrice   decimal.Decimal
	TransferHash string
}

func (o TransferBatch) Method() string { return MethodTransferBatch }

func (o TransferBatch) Args() ([]any, error) {
	from, err := ParseAddress(o.From)
	if err != nil {
		return nil, err
	}
	to, err := ParseAddress(o.To)
	if err != nil {
		return nil, err
	}
	hash, err := HashToBytes32(o.TransferHash)
	if err != nil {
		return nil, err
	}

	return []any{
		new(big.Int).SetUint64(o.BatchID),
		from,
		to,
		ToUnits(o.TotalPrice, PriceScale),
		hash,
	}, nil
}

type RegisterStakeholder struct {
	Account  string
	Role     models.Role
	Name     string
	DataHash string
}

func (o RegisterStakeholder) Method() string { return MethodRegisterStakeholder }

func (o RegisterStakeholder) Args() ([]any, error) {
	account, err := ParseAddress(o.Account)
	if err != nil {
		return nil, err
	}
	if !o.Role.Valid() {
		return nil, apperrors.ValidationFailed("unknown role %q", o.Role)
	}
	hash, err := HashToBytes32(o.DataHash)
	if err != nil {
		return nil, err
	}
	return []any{account, o.Role.LedgerCode(), o.Name, hash}, nil
}

// ToUnits scales d by 10^scale and truncates to an integer.
func ToUnits(d decimal.Decimal, scale int32) *big.Int {
	return d.Shift(scale).Truncate(0).BigInt()
}

// FromUnits is the inverse of ToUnits.
func FromUnits(v *big.Int, scale int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -scale)
}

func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, apperrors.ValidationFailed("invalid ledger account %q", s)
	}
	return common.HexToAddress(s), nil
}

// HashToBytes32 converts a 0x-prefixed digest to a ledger bytes32. An empty
// string is the zero hash.
func HashToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, nil
	}
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) != 32 {
		return out, apperrors.InvalidPayload("hash %q is not a 32-byte hex digest", s)
	}
	copy(out[:], raw)
	return out, nil
}

// Bytes32ToHash renders a ledger bytes32 in the 0x-prefixed lower-case form used by the mirror.
func Bytes32ToHash(b [32]byte) string {
	if b == ([32]byte{}) {
		return ""
	}
	return strings.ToLower(hexutil.Encode(b[:]))
}
