package models

import (
	"encoding/json"
	"time"
)

type ReconcileOperation string

const (
	ReconcileRegisterBatch       ReconcileOperation = "register_batch"
	ReconcileTransferBatch       ReconcileOperation = "transfer_batch"
	ReconcileRegisterStakeholder ReconcileOperation = "register_stakeholder"
)

// ReconcileEntry records a ledger-confirmed operation whose mirror write failed.
// Payload holds the intended mirror write so it can be replayed.
type ReconcileEntry struct {
	ID        string             `json:"id,omitempty"`
	Operation ReconcileOperation `json:"operation"`
	TxHash    string             `json:"tx_hash"`
	Payload   json.RawMessage    `json:"payload"`
	Error     string             `json:"error"`
	Attempts  int                `json:"attempts"`
	CreatedAt time.Time          `json:"created_at"`
}
