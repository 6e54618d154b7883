package provenance

import (
	"sort"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

type StageKind string

const (
	StageOrigin   StageKind = "ORIGIN"
	StageTransfer StageKind = "TRANSFER"
)

// Stage is one step of a batch's journey.
type Stage struct {
	Kind        StageKind                  `json:"kind"`
	Stakeholder *models.StakeholderSummary `json:"stakeholder,omitempty"`
	From        *models.StakeholderSummary `json:"from,omitempty"`
	Timestamp   time.Time                  `json:"timestamp"`
	Status      models.BatchStatus         `json:"status"`
	Location    string                     `json:"location,omitempty"`
	Transfer    *models.Transfer           `json:"transfer,omitempty"`
}

type Analytics struct {
	TotalTransfers     int             `json:"total_transfers"`
	AveragePrice       decimal.Decimal `json:"average_price"`
	DaysInSupplyChain  int             `json:"days_in_supply_chain"`
	EstimatedShelfLife int             `json:"estimated_shelf_life"`
}

type Journey struct {
	Batch        models.Batch               `json:"batch"`
	Farmer       *models.StakeholderSummary `json:"farmer,omitempty"`
	CurrentOwner *models.StakeholderSummary `json:"current_owner,omitempty"`
	Stages       []Stage                    `json:"stages"`
	Transactions []models.Transfer          `json:"transactions"`
	Analytics    Analytics                  `json:"analytics"`
	// ChainVerified is false when a stored transfer hash no longer matches its content.
	ChainVerified bool `json:"chain_verified"`
	ChainBrokenAt *int `json:"chain_broken_at,omitempty"`
}

type JourneyInput struct {
	Batch        models.Batch
	Stakeholders map[uuid.UUID]models.Stakeholder
	Transfers    []models.Transfer
}

// BuildJourney assembles the read view of a batch from mirror records.
func BuildJourney(in JourneyInput, now time.Time) Journey {
	batch := in.Batch
	batch.Status = lifecycle.EffectiveStatus(batch, now)

	transfers := make([]models.Transfer, len(in.Transfers))
	copy(transfers, in.Transfers)
	sort.SliceStable(transfers, func(i, j int) bool {
		return transfers[i].TransactionDate.Before(transfers[j].TransactionDate)
	})

	summary := func(id uuid.UUID) *models.StakeholderSummary {
		s, ok := in.Stakeholders[id]
		if !ok {
			return nil
		}
		sum := s.Summary()
		return &sum
	}

	stages := make([]Stage, 0, len(transfers)+1)
	stages = append(stages, Stage{
		Kind:        StageOrigin,
		Stakeholder: summary(batch.FarmerID),
		Timestamp:   batch.CreatedAt,
		Status:      models.BatchStatusProduced,
		Location:    batch.OriginLocation,
	})
	for i := range transfers {
		t := transfers[i]
		stages = append(stages, Stage{
			Kind:        StageTransfer,
			Stakeholder: summary(t.ToID),
			From:        summary(t.FromID),
			Timestamp:   t.TransactionDate,
			Status:      t.StatusAfter,
			Location:    t.Location,
			Transfer:    &t,
		})
	}

	journey := Journey{
		Batch:         batch,
		Farmer:        summary(batch.FarmerID),
		CurrentOwner:  summary(batch.CurrentOwnerID),
		Stages:        stages,
		Transactions:  transfers,
		Analytics:     analytics(batch, transfers, now),
		ChainVerified: true,
	}

	if broken := VerifyChain(batch.OriginHash, Links(batch, transfers)); broken >= 0 {
		journey.ChainVerified = false
		journey.ChainBrokenAt = &broken
	}

	return journey
}

// Links converts stored transfers into hash chain links for verification.
func Links(batch models.Batch, transfers []models.Transfer) []Link {
	return ectolinq.Map(transfers, func(t models.Transfer) Link {
		return Link{
			Data: TransferData{
				BatchID:      batch.LedgerBatchID,
				FromID:       t.FromID.String(),
				ToID:         t.ToID.String(),
				Quantity:     t.Quantity,
				PricePerUnit: t.PricePerUnit,
				Timestamp:    t.TransactionDate,
				PrevHash:     t.PrevHash,
			},
			Hash: t.TransferHash,
		}
	})
}

func analytics(batch models.Batch, transfers []models.Transfer, now time.Time) Analytics {
	average := batch.BasePrice
	if len(transfers) > 0 {
		prices := ectolinq.Map(transfers, func(t models.Transfer) decimal.Decimal {
			return t.PricePerUnit
		})
		average = decimal.Sum(decimal.Zero, prices...).Div(decimal.NewFromInt(int64(len(transfers)))).Round(2)
	}

	return Analytics{
		TotalTransfers:     len(transfers),
		AveragePrice:       average,
		DaysInSupplyChain:  wholeDays(now.Sub(batch.CreatedAt)),
		EstimatedShelfLife: wholeDays(batch.ExpiryDate.Sub(now)),
	}
}

// wholeDays floors toward negative infinity so an expired batch reports -1 on its first day past expiry.
func wholeDays(d time.Duration) int {
	days := int(d / day)
	if d < 0 && d%day != 0 {
		days--
	}
	return days
}
