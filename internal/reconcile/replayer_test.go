package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/internal/coordinator"
	"github.com/Ramsey-B/clover/internal/repositories/memory"
	batchsvc "github.com/Ramsey-B/clover/internal/services/batch"
	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/locks"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	mu      sync.Mutex
	entries []*models.ReconcileEntry
}

func (q *recordingQueue) Enqueue(_ context.Context, entry *models.ReconcileEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry)
	return nil
}

func (q *recordingQueue) last(t *testing.T) models.ReconcileEntry {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.NotEmpty(t, q.entries)
	return *q.entries[len(q.entries)-1]
}

type fixture struct {
	store    *memory.Store
	backend  *ledger.SimulatedBackend
	gateway  *ledger.Gateway
	queue    *recordingQueue
	batches  *batchsvc.Service
	replayer *Replayer

	farmer      *models.Stakeholder
	distributor *models.Stakeholder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	backend := ledger.NewSimulatedBackend(common.HexToAddress("0x1000000000000000000000000000000000000001"))
	gw, err := ledger.NewGateway(backend, ledger.Config{
		ConfirmationTimeout: 2 * time.Second,
		PollInterval:        2 * time.Millisecond,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(gw.Close)

	store := memory.NewStore()
	queue := &recordingQueue{}
	harvest := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	now := func() time.Time { return harvest.AddDate(0, 0, 10) }

	f := &fixture{
		store:   store,
		backend: backend,
		gateway: gw,
		queue:   queue,
		batches: batchsvc.NewService(batchsvc.Dependencies{
			Batches:      store.Batches(),
			Stakeholders: store.Stakeholders(),
			Transfers:    store.Transfers(),
			Decoder:      gw,
			Coordinator:  coordinator.New(gw, queue, logger),
			Locker:       locks.NewLocal(),
			Machine:      lifecycle.NewMachine(lifecycle.PolicyCollapse, now),
			Logger:       logger,
			Now:          now,
		}),
		replayer: NewReplayer(gw, store.Batches(), store.Stakeholders(), logger),
	}
	f.farmer = f.stakeholder(t, 1, models.RoleFarmer)
	f.distributor = f.stakeholder(t, 2, models.RoleDistributor)
	return f
}

func (f *fixture) stakeholder(t *testing.T, n int64, role models.Role) *models.Stakeholder {
	t.Helper()
	account := common.BigToAddress(big.NewInt(0x7000 + n))
	s, err := f.store.Stakeholders().Create(context.Background(), &models.Stakeholder{
		Name:           string(role),
		Email:          account.Hex() + "@example.com",
		Role:           role,
		AccountAddress: account.Hex(),
		IsVerified:     true,
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) registerRequest() batchsvc.RegisterBatchRequest {
	harvest := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	return batchsvc.RegisterBatchRequest{
		ProductName:    "Alphonso Mango",
		ProductType:    "Fruit",
		Quantity:       decimal.NewFromInt(50),
		HarvestDate:    harvest,
		ExpiryDate:     harvest.AddDate(0, 1, 0),
		BasePrice:      decimal.NewFromInt(80),
		OriginLocation: "Ratnagiri, Maharashtra",
	}
}

func (f *fixture) transferRequest() batchsvc.TransferBatchRequest {
	return batchsvc.TransferBatchRequest{
		ToStakeholderID: f.distributor.ID.String(),
		PricePerUnit:    decimal.NewFromInt(95),
		PaymentMethod:   models.PaymentMethodBankTransfer,
		TransportMethod: models.TransportMethodTruck,
	}
}

// parkTransfer registers a batch and transfers it with the mirror write failing.
func (f *fixture) parkTransfer(t *testing.T) (*models.Batch, models.ReconcileEntry) {
	t.Helper()
	ctx := context.Background()
	b, err := f.batches.RegisterBatch(ctx, f.farmer.ID, f.registerRequest())
	require.NoError(t, err)

	f.store.FailNext("ApplyTransfer", errors.New("connection refused"))
	_, err = f.batches.TransferBatch(ctx, f.farmer.ID, b.ID, f.transferRequest())
	require.True(t, apperrors.Is(err, apperrors.KindPersistence), "got %v", err)

	entry := f.queue.last(t)
	require.Equal(t, models.ReconcileTransferBatch, entry.Operation)
	return b, entry
}

func rewrite(t *testing.T, entry models.ReconcileEntry, mutate func(w *models.TransferWrite)) models.ReconcileEntry {
	t.Helper()
	var write models.TransferWrite
	require.NoError(t, json.Unmarshal(entry.Payload, &write))
	mutate(&write)
	payload, err := json.Marshal(write)
	require.NoError(t, err)
	entry.Payload = payload
	return entry
}

func TestReplay_RegisterBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.FailNext("CreateBatch", errors.New("connection refused"))
	_, err := f.batches.RegisterBatch(ctx, f.farmer.ID, f.registerRequest())
	require.True(t, apperrors.Is(err, apperrors.KindPersistence), "got %v", err)

	entry := f.queue.last(t)
	assert.Equal(t, models.ReconcileRegisterBatch, entry.Operation)

	outcome, err := f.replayer.Replay(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	b, err := f.store.Batches().GetByLedgerID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, entry.TxHash, b.BlockchainTxHash)
	assert.Equal(t, f.farmer.ID, b.CurrentOwnerID)
	assert.Equal(t, models.BatchStatusProduced, b.Status)

	// replaying again leaves the single row untouched
	outcome, err = f.replayer.Replay(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	owned, err := f.store.Batches().ListByOwner(ctx, f.farmer.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 1)
}

func TestReplay_Transfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, entry := f.parkTransfer(t)

	outcome, err := f.replayer.Replay(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	moved, err := f.store.Batches().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, f.distributor.ID, moved.CurrentOwnerID)
	assert.Equal(t, models.BatchStatusInTransit, moved.Status)
	assert.Equal(t, 2, moved.Version)

	outcome, err = f.replayer.Replay(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	transfers, err := f.store.Transfers().ListByBatch(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, entry.TxHash, transfers[0].BlockchainTxHash)
	assert.Equal(t, b.LastHash, transfers[0].PrevHash)

	again, err := f.store.Batches().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Version, "a replayed transfer is not applied twice")
}

func TestReplay_TransferRebasesOntoCurrentVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, entry := f.parkTransfer(t)

	stale := rewrite(t, entry, func(w *models.TransferWrite) { w.ExpectedVersion = 7 })

	outcome, err := f.replayer.Replay(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	moved, err := f.store.Batches().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, f.distributor.ID, moved.CurrentOwnerID)
}

func TestReplay_TransferOnDivergedChainIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, entry := f.parkTransfer(t)

	diverged := rewrite(t, entry, func(w *models.TransferWrite) {
		w.ExpectedVersion = 7
		w.Transfer.PrevHash = "0x" + common.Bytes2Hex(make([]byte, 32))
	})

	outcome, err := f.replayer.Replay(ctx, diverged)
	require.Error(t, err)
	assert.Equal(t, OutcomeDropped, outcome)

	untouched, err := f.store.Batches().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, f.farmer.ID, untouched.CurrentOwnerID)
}

func TestReplay_MismatchedEventIsDropped(t *testing.T) {
	f := newFixture(t)
	_, entry := f.parkTransfer(t)

	tampered := rewrite(t, entry, func(w *models.TransferWrite) { w.Batch.LedgerBatchID = 99 })

	outcome, err := f.replayer.Replay(context.Background(), tampered)
	assert.True(t, apperrors.Is(err, apperrors.KindEventNotFound), "got %v", err)
	assert.Equal(t, OutcomeDropped, outcome)
}

func TestReplay_MirrorStillDownIsRetried(t *testing.T) {
	f := newFixture(t)
	_, entry := f.parkTransfer(t)

	f.store.FailNext("ApplyTransfer", errors.New("connection refused"))
	outcome, err := f.replayer.Replay(context.Background(), entry)
	require.Error(t, err)
	assert.Equal(t, OutcomeRetry, outcome)
}

func TestReplay_PendingTransactionIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.Hold()
	pending, err := f.gateway.Submit(ctx, ledger.RegisterStakeholder{
		Account:  f.distributor.AccountAddress,
		Role:     models.RoleDistributor,
		Name:     "Distributor",
		DataHash: "0x" + common.Bytes2Hex(make([]byte, 32)),
	})
	require.NoError(t, err)

	outcome, err := f.replayer.Replay(ctx, models.ReconcileEntry{
		Operation: models.ReconcileRegisterStakeholder,
		TxHash:    pending.TxHash,
		Payload:   json.RawMessage(`{}`),
	})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound), "got %v", err)
	assert.Equal(t, OutcomeRetry, outcome)
}

func TestReplay_RevertedTransactionIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.gateway.Submit(ctx, ledger.TransferBatch{
		BatchID:      42,
		From:         f.farmer.AccountAddress,
		To:           f.distributor.AccountAddress,
		TotalPrice:   decimal.NewFromInt(10),
		TransferHash: "0x" + common.Bytes2Hex(make([]byte, 32)),
	})
	require.NoError(t, err)

	outcome, err := f.replayer.Replay(ctx, models.ReconcileEntry{
		Operation: models.ReconcileTransferBatch,
		TxHash:    pending.TxHash,
		Payload:   json.RawMessage(`{}`),
	})
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apperrors.KindLedger, appErr.Kind)
	assert.Equal(t, "Batch does not exist", appErr.Reason)
	assert.Equal(t, OutcomeDropped, outcome)
}

func TestReplay_RegisterStakeholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := common.BigToAddress(big.NewInt(0x7100)).Hex()
	res, err := f.gateway.Execute(ctx, ledger.RegisterStakeholder{
		Account:  account,
		Role:     models.RoleRetailer,
		Name:     "Fresh Mart",
		DataHash: "0x" + common.Bytes2Hex(make([]byte, 32)),
	})
	require.NoError(t, err)

	payload, err := json.Marshal(models.Stakeholder{
		Name:           "Fresh Mart",
		Email:          "buyers@freshmart.example",
		Role:           models.RoleRetailer,
		AccountAddress: account,
	})
	require.NoError(t, err)

	outcome, err := f.replayer.Replay(ctx, models.ReconcileEntry{
		Operation: models.ReconcileRegisterStakeholder,
		TxHash:    res.TxHash,
		Payload:   payload,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	stored, err := f.store.Stakeholders().GetByAccount(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, res.TxHash, stored.LedgerTxHash)
	assert.False(t, stored.IsVerified)
}

func TestReplay_UnknownOperationIsDropped(t *testing.T) {
	f := newFixture(t)
	_, entry := f.parkTransfer(t)
	entry.Operation = "reprice_batch"

	outcome, err := f.replayer.Replay(context.Background(), entry)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidPayload), "got %v", err)
	assert.Equal(t, OutcomeDropped, outcome)
}
