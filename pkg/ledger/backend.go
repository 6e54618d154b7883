package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReceiptPending is returned by Backend.Receipt while the transaction is not yet included.
var ErrReceiptPending = errors.New("receipt pending")

// Receipt is the outcome of an included transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Reverted    bool
	// RevertReason is empty when the node does not report one.
	RevertReason string
	Logs         []*types.Log
}

// Backend is the wire-level connection to the ledger, bound to one signing account.
type Backend interface {
	Account() common.Address
	// NonceAt returns the next nonce the node expects from account.
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	// Send signs and broadcasts contract calldata with the given nonce.
	Send(ctx context.Context, nonce uint64, data []byte) (common.Hash, error)
	// Receipt returns ErrReceiptPending until the transaction is included.
	Receipt(ctx context.Context, txHash common.Hash) (*Receipt, error)
	Ping(ctx context.Context) error
	Close()
}
