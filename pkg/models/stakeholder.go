package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleFarmer      Role = "FARMER"
	RoleDistributor Role = "DISTRIBUTOR"
	RoleRetailer    Role = "RETAILER"
	RoleConsumer    Role = "CONSUMER"
	RoleInspector   Role = "QUALITY_INSPECTOR"
)

// Roles lists every role in ledger enum order.
var Roles = []Role{RoleFarmer, RoleDistributor, RoleRetailer, RoleConsumer, RoleInspector}

func (r Role) Valid() bool {
	return r.LedgerCode() != 0
}

// LedgerCode is the role's uint8 value on the ledger. Zero means unknown.
func (r Role) LedgerCode() uint8 {
	for i, role := range Roles {
		if role == r {
			return uint8(i + 1)
		}
	}
	return 0
}

func RoleFromLedgerCode(code uint8) (Role, bool) {
	if code == 0 || int(code) > len(Roles) {
		return "", false
	}
	return Roles[code-1], true
}

type Stakeholder struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           Role      `json:"role"`
	AccountAddress string    `json:"account_address"`
	IsVerified     bool      `json:"is_verified"`
	Phone          string    `json:"phone,omitempty"`
	Location       string    `json:"location,omitempty"`
	BusinessName   string    `json:"business_name,omitempty"`
	LedgerTxHash   string    `json:"ledger_tx_hash,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StakeholderSummary is the public view embedded in batch responses.
type StakeholderSummary struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	Location     string    `json:"location,omitempty"`
	BusinessName string    `json:"business_name,omitempty"`
	IsVerified   bool      `json:"is_verified"`
}

func (s Stakeholder) Summary() StakeholderSummary {
	return StakeholderSummary{
		ID:           s.ID,
		Name:         s.Name,
		Role:         s.Role,
		Location:     s.Location,
		BusinessName: s.BusinessName,
		IsVerified:   s.IsVerified,
	}
}
