package stakeholder

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/google/uuid"
)

const (
	stakeholdersTable = "stakeholders"

	emailConstraint = "stakeholders_email_key"
)

// StakeholderRow represents the database row for a stakeholder
type StakeholderRow struct {
	ID             uuid.UUID      `db:"id"`
	Name           string         `db:"name"`
	Email          string         `db:"email"`
	Role           string         `db:"role"`
	AccountAddress string         `db:"account_address"`
	IsVerified     bool           `db:"is_verified"`
	Phone          sql.NullString `db:"phone"`
	Location       sql.NullString `db:"location"`
	BusinessName   sql.NullString `db:"business_name"`
	LedgerTxHash   sql.NullString `db:"ledger_tx_hash"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

var stakeholderStruct = database.NewStruct(new(StakeholderRow))

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// FromStakeholder converts a domain model to a database row
func FromStakeholder(s *models.Stakeholder) *StakeholderRow {
	return &StakeholderRow{
		ID:             s.ID,
		Name:           s.Name,
		Email:          s.Email,
		Role:           string(s.Role),
		AccountAddress: s.AccountAddress,
		IsVerified:     s.IsVerified,
		Phone:          nullString(s.Phone),
		Location:       nullString(s.Location),
		BusinessName:   nullString(s.BusinessName),
		LedgerTxHash:   nullString(s.LedgerTxHash),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// ToStakeholder converts a database row to a domain model
func ToStakeholder(row *StakeholderRow) *models.Stakeholder {
	return &models.Stakeholder{
		ID:             row.ID,
		Name:           row.Name,
		Email:          row.Email,
		Role:           models.Role(row.Role),
		AccountAddress: row.AccountAddress,
		IsVerified:     row.IsVerified,
		Phone:          row.Phone.String,
		Location:       row.Location.String,
		BusinessName:   row.BusinessName.String,
		LedgerTxHash:   row.LedgerTxHash.String,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
}

func Now() time.Time {
	return time.Now().UTC()
}
