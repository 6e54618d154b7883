package ledger

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
)

type Config struct {
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	SendTimeout         time.Duration
	QueueSize           int
}

func (c Config) withDefaults() Config {
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// PendingReceipt identifies a submitted but unconfirmed transaction.
type PendingReceipt struct {
	TxHash      string
	Nonce       uint64
	Method      string
	SubmittedAt time.Time
}

// ConfirmedResult is an included, non-reverted transaction.
type ConfirmedResult struct {
	TxHash      string
	BlockNumber uint64
	Logs        []*types.Log
}

// Gateway submits contract operations for a single signing account and turns
// receipts into typed events.
type Gateway struct {
	backend    Backend
	contract   abi.ABI
	dispatcher *dispatcher
	config     Config
	logger     ectologger.Logger
}

func NewGateway(backend Backend, config Config, logger ectologger.Logger) (*Gateway, error) {
	contract, err := ParseContract()
	if err != nil {
		return nil, err
	}
	config = config.withDefaults()

	return &Gateway{
		backend:    backend,
		contract:   contract,
		dispatcher: newDispatcher(backend, config.QueueSize, config.SendTimeout, logger),
		config:     config,
		logger:     logger,
	}, nil
}

// Close drains queued submissions and closes the backend.
func (g *Gateway) Close() {
	g.dispatcher.close()
	g.backend.Close()
}

func (g *Gateway) Ping(ctx context.Context) error {
	return g.backend.Ping(ctx)
}

func (g *Gateway) Submit(ctx context.Context, op Operation) (*PendingReceipt, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Submit", attribute.String("ledger.method", op.Method()))
	defer span.End()

	args, err := op.Args()
	if err != nil {
		return nil, err
	}
	data, err := g.contract.Pack(op.Method(), args...)
	if err != nil {
		g.logger.WithContext(ctx).WithError(err).Errorf("Failed to encode %s call", op.Method())
		return nil, apperrors.Wrap(apperrors.KindInvalidPayload, err, "failed to encode ledger call")
	}

	res := g.dispatcher.submit(ctx, op.Method(), data)
	if res.err != nil {
		metrics.RecordLedgerSubmission(op.Method(), "rejected")
		tracing.RecordError(span, res.err)
		return nil, apperrors.Ledger(res.err, "ledger submission failed")
	}
	metrics.RecordLedgerSubmission(op.Method(), "submitted")
	span.SetAttributes(attribute.String("ledger.tx_hash", res.txHash.Hex()))

	return &PendingReceipt{
		TxHash:      res.txHash.Hex(),
		Nonce:       res.nonce,
		Method:      op.Method(),
		SubmittedAt: time.Now(),
	}, nil
}

// AwaitConfirmation polls for the receipt until it is included or the
// confirmation timeout passes. A reverted transaction is a ledger error
// carrying the node's revert reason.
func (g *Gateway) AwaitConfirmation(ctx context.Context, pending *PendingReceipt) (*ConfirmedResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.AwaitConfirmation", attribute.String("ledger.tx_hash", pending.TxHash))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.config.ConfirmationTimeout)
	defer cancel()

	log := g.logger.WithContext(ctx).WithFields(map[string]any{
		"tx_hash": pending.TxHash,
		"method":  pending.Method,
	})

	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()

	txHash := common.HexToHash(pending.TxHash)
	for {
		receipt, err := g.backend.Receipt(ctx, txHash)
		switch {
		case err == nil:
			metrics.RecordLedgerConfirmation(pending.Method, time.Since(pending.SubmittedAt))
			return g.confirmed(receipt, pending)
		case err == ErrReceiptPending:
		default:
			log.WithError(err).Warn("Failed to fetch receipt, retrying")
		}

		select {
		case <-ctx.Done():
			metrics.RecordLedgerSubmission(pending.Method, "timeout")
			log.Error("Timed out waiting for ledger confirmation")
			err := apperrors.Ledger(ctx.Err(), "timed out waiting for ledger confirmation").WithTxHash(pending.TxHash)
			tracing.RecordError(span, err)
			return nil, err
		case <-ticker.C:
		}
	}
}

func (g *Gateway) confirmed(receipt *Receipt, pending *PendingReceipt) (*ConfirmedResult, error) {
	if receipt.Reverted {
		metrics.RecordLedgerSubmission(pending.Method, "reverted")
		g.logger.WithFields(map[string]any{
			"tx_hash": pending.TxHash,
			"reason":  receipt.RevertReason,
		}).Warn("Ledger transaction reverted")
		return nil, apperrors.Ledger(nil, "ledger transaction reverted").
			WithReason(receipt.RevertReason).
			WithTxHash(pending.TxHash)
	}

	metrics.RecordLedgerSubmission(pending.Method, "confirmed")
	return &ConfirmedResult{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber,
		Logs:        receipt.Logs,
	}, nil
}

// Execute submits op and waits for its confirmation.
func (g *Gateway) Execute(ctx context.Context, op Operation) (*ConfirmedResult, error) {
	pending, err := g.Submit(ctx, op)
	if err != nil {
		return nil, err
	}
	return g.AwaitConfirmation(ctx, pending)
}

// Lookup reads the outcome of an already submitted transaction without waiting.
func (g *Gateway) Lookup(ctx context.Context, txHash string) (*ConfirmedResult, error) {
	receipt, err := g.backend.Receipt(ctx, common.HexToHash(txHash))
	if err == ErrReceiptPending {
		return nil, apperrors.NotFound("transaction %s is not confirmed", txHash)
	}
	if err != nil {
		return nil, apperrors.Ledger(err, "failed to read ledger receipt").WithTxHash(txHash)
	}
	return g.confirmed(receipt, &PendingReceipt{TxHash: txHash, Method: "lookup"})
}

// Events decodes every log of the result, including ones foreign to the contract.
func (g *Gateway) Events(res *ConfirmedResult) ([]Event, error) {
	events := make([]Event, 0, len(res.Logs))
	for _, log := range res.Logs {
		ev, err := decodeLog(g.contract, log)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// DecodeEvent returns the first event called name emitted by the transaction.
// Unrelated logs are skipped. A missing or undecodable event is an integrity fault.
func (g *Gateway) DecodeEvent(res *ConfirmedResult, name string) (Event, error) {
	for _, log := range res.Logs {
		ev, err := decodeLog(g.contract, log)
		if err != nil {
			g.logger.WithError(err).WithField("tx_hash", res.TxHash).Errorf("Failed to decode %s log", name)
			continue
		}
		if ev.EventName() == name {
			return ev, nil
		}
	}

	g.logger.WithFields(map[string]any{
		"tx_hash": res.TxHash,
		"event":   name,
		"logs":    len(res.Logs),
	}).Error("Expected ledger event not found in confirmed transaction")
	return nil, apperrors.EventNotFound(name, res.TxHash)
}
