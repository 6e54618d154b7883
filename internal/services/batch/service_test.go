package batch

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
	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/locks"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/provenance"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	harvest = time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	expiry  = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
)

// clock starts ten days after harvest and moves a minute per reading.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

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

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.ProvenanceEvent
}

func (p *recordingPublisher) PublishProvenance(_ context.Context, evt *kafka.ProvenanceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *evt)
	return nil
}

type fixture struct {
	svc       *Service
	store     *memory.Store
	backend   *ledger.SimulatedBackend
	queue     *recordingQueue
	publisher *recordingPublisher

	farmer       *models.Stakeholder
	distributor  *models.Stakeholder
	distributor2 *models.Stakeholder
	retailer     *models.Stakeholder
	consumer     *models.Stakeholder
	unverified   *models.Stakeholder
}

func newFixture(t *testing.T, policy lifecycle.Policy) *fixture {
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
	publisher := &recordingPublisher{}
	clk := &clock{t: harvest.AddDate(0, 0, 10)}

	f := &fixture{
		store:     store,
		backend:   backend,
		queue:     queue,
		publisher: publisher,
	}
	f.svc = NewService(Dependencies{
		Batches:      store.Batches(),
		Stakeholders: store.Stakeholders(),
		Transfers:    store.Transfers(),
		Decoder:      gw,
		Coordinator:  coordinator.New(gw, queue, logger),
		Locker:       locks.NewLocal(),
		Machine:      lifecycle.NewMachine(policy, clk.now),
		Publisher:    publisher,
		Logger:       logger,
		Now:          clk.now,
	})

	f.farmer = f.stakeholder(t, 1, models.RoleFarmer, true)
	f.distributor = f.stakeholder(t, 2, models.RoleDistributor, true)
	f.distributor2 = f.stakeholder(t, 3, models.RoleDistributor, true)
	f.retailer = f.stakeholder(t, 4, models.RoleRetailer, true)
	f.consumer = f.stakeholder(t, 5, models.RoleConsumer, true)
	f.unverified = f.stakeholder(t, 6, models.RoleRetailer, false)
	return f
}

func (f *fixture) stakeholder(t *testing.T, n int64, role models.Role, verified bool) *models.Stakeholder {
	t.Helper()
	account := common.BigToAddress(big.NewInt(0x5000 + n))
	s, err := f.store.Stakeholders().Create(context.Background(), &models.Stakeholder{
		Name:           string(role),
		Email:          account.Hex() + "@example.com",
		Role:           role,
		AccountAddress: account.Hex(),
		IsVerified:     verified,
	})
	require.NoError(t, err)
	return s
}

func registerRequest() RegisterBatchRequest {
	return RegisterBatchRequest{
		ProductName:    "Basmati Rice",
		ProductType:    "Grain",
		Variety:        "1121",
		Quantity:       decimal.NewFromInt(100),
		HarvestDate:    harvest,
		ExpiryDate:     expiry,
		BasePrice:      decimal.NewFromInt(10),
		QualityGrade:   "A",
		OriginLocation: "Karnal, Haryana",
	}
}

func transferTo(s *models.Stakeholder, price int64) TransferBatchRequest {
	return TransferBatchRequest{
		ToStakeholderID: s.ID.String(),
		PricePerUnit:    decimal.NewFromInt(price),
		PaymentMethod:   models.PaymentMethodBankTransfer,
		TransportMethod: models.TransportMethodTruck,
	}
}

func (f *fixture) register(t *testing.T) *models.Batch {
	t.Helper()
	b, err := f.svc.RegisterBatch(context.Background(), f.farmer.ID, registerRequest())
	require.NoError(t, err)
	return b
}

func requireKind(t *testing.T, err error, kind apperrors.Kind) *apperrors.Error {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected a domain error, got %v", err)
	require.Equal(t, kind, appErr.Kind, "unexpected error: %v", err)
	return appErr
}

func TestRegisterBatch_StartsProduced(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)

	b := f.register(t)

	assert.Equal(t, models.BatchStatusProduced, b.Status)
	assert.Equal(t, uint64(1), b.LedgerBatchID)
	assert.Equal(t, f.farmer.ID, b.FarmerID)
	assert.Equal(t, f.farmer.ID, b.CurrentOwnerID)
	assert.Equal(t, "kg", b.Unit)
	assert.Len(t, b.OriginHash, 66)
	assert.Len(t, b.QualityHash, 66)
	assert.Equal(t, b.OriginHash, b.LastHash)
	assert.NotEmpty(t, b.BlockchainTxHash)

	owner, ok := f.backend.OwnerOf(b.LedgerBatchID)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress(f.farmer.AccountAddress), owner)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, kafka.EventBatchRegistered, f.publisher.events[0].Type)
}

func TestRegisterBatch_RequiresFarmer(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)

	_, err := f.svc.RegisterBatch(context.Background(), f.distributor.ID, registerRequest())
	requireKind(t, err, apperrors.KindUnauthorized)

	_, err = f.svc.RegisterBatch(context.Background(), uuid.New(), registerRequest())
	requireKind(t, err, apperrors.KindUnauthorized)

	assert.Equal(t, 0, f.backend.Sends())
}

func TestRegisterBatch_ValidationFailed(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)

	tests := []struct {
		name   string
		mutate func(r *RegisterBatchRequest)
	}{
		{"missing product name", func(r *RegisterBatchRequest) { r.ProductName = "" }},
		{"zero quantity", func(r *RegisterBatchRequest) { r.Quantity = decimal.Zero }},
		{"negative price", func(r *RegisterBatchRequest) { r.BasePrice = decimal.NewFromInt(-1) }},
		{"expiry before harvest", func(r *RegisterBatchRequest) { r.ExpiryDate = harvest.Add(-time.Hour) }},
		{"missing location", func(r *RegisterBatchRequest) { r.OriginLocation = "" }},
		{"quantity finer than grams", func(r *RegisterBatchRequest) { r.Quantity = decimal.RequireFromString("10.0005") }},
		{"price finer than paise", func(r *RegisterBatchRequest) { r.BasePrice = decimal.RequireFromString("10.001") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := registerRequest()
			tt.mutate(&req)
			_, err := f.svc.RegisterBatch(context.Background(), f.farmer.ID, req)
			requireKind(t, err, apperrors.KindValidationFailed)
		})
	}
	assert.Equal(t, 0, f.backend.Sends())
}

func TestTransferBatch_FarmerToDistributor(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)
	ctx := context.Background()
	b := f.register(t)

	res, err := f.svc.TransferBatch(ctx, f.farmer.ID, b.ID, transferTo(f.distributor, 12))
	require.NoError(t, err)

	assert.Equal(t, "1200.00", res.Transfer.TotalPrice.StringFixed(2))
	assert.Equal(t, "INR", res.Transfer.Currency)
	assert.True(t, res.RetainedQuantity.IsZero())
	assert.Equal(t, models.BatchStatusInTransit, res.Transfer.StatusAfter)
	assert.Equal(t, b.OriginHash, res.Transfer.PrevHash)
	assert.NotEmpty(t, res.Transfer.BlockchainTxHash)

	stored, err := f.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, f.distributor.ID, stored.CurrentOwnerID)
	assert.Equal(t, models.BatchStatusInTransit, stored.Status)
	assert.Equal(t, res.Transfer.TransferHash, stored.LastHash)
	assert.Equal(t, 2, stored.Version)

	owner, _ := f.backend.OwnerOf(b.LedgerBatchID)
	assert.Equal(t, common.HexToAddress(f.distributor.AccountAddress), owner)

	owned, err := f.svc.ListBatchesForOwner(ctx, f.distributor.ID)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, b.ID, owned[0].ID)
}

func TestTransferBatch_ByEmailAndPartialQuantity(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)
	b := f.register(t)

	req := transferTo(f.retailer, 15)
	req.ToStakeholderID = ""
	req.ToEmail = f.retailer.Email
	quantity := decimal.NewFromInt(40)
	req.Quantity = &quantity

	res, err := f.svc.TransferBatch(context.Background(), f.farmer.ID, b.ID, req)
	require.NoError(t, err)
	assert.Equal(t, f.retailer.ID, res.Transfer.ToID)
	assert.Equal(t, "600.00", res.Transfer.TotalPrice.StringFixed(2))
	assert.True(t, res.Batch.Quantity.Equal(quantity))
	assert.Equal(t, "60", res.RetainedQuantity.String())
}

func TestTransferBatch_Rejections(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)
	ctx := context.Background()
	b := f.register(t)

	_, err := f.svc.TransferBatch(ctx, f.farmer.ID, b.ID, transferTo(f.distributor, 12))
	require.NoError(t, err)
	sends := f.backend.Sends()

	tooMuch := decimal.NewFromInt(101)
	tests := []struct {
		name  string
		actor uuid.UUID
		batch uuid.UUID
		req   TransferBatchRequest
		kind  apperrors.Kind
	}{
		{"distributor to distributor", f.distributor.ID, b.ID, transferTo(f.distributor2, 12), apperrors.KindInvalidRecipient},
		{"non owner", f.farmer.ID, b.ID, transferTo(f.retailer, 12), apperrors.KindForbidden},
		{"unverified recipient", f.distributor.ID, b.ID, transferTo(f.unverified, 12), apperrors.KindInvalidRecipient},
		{"unknown recipient", f.distributor.ID, b.ID, TransferBatchRequest{ToStakeholderID: uuid.NewString(), PricePerUnit: decimal.NewFromInt(1)}, apperrors.KindInvalidRecipient},
		{"self", f.distributor.ID, b.ID, transferTo(f.distributor, 12), apperrors.KindInvalidRecipient},
		{"unknown batch", f.distributor.ID, uuid.New(), transferTo(f.retailer, 12), apperrors.KindNotFound},
		{"no recipient", f.distributor.ID, b.ID, TransferBatchRequest{PricePerUnit: decimal.NewFromInt(1)}, apperrors.KindValidationFailed},
		{"zero price", f.distributor.ID, b.ID, transferTo(f.retailer, 0), apperrors.KindValidationFailed},
		{"price finer than paise", f.distributor.ID, b.ID, func() TransferBatchRequest {
			r := transferTo(f.retailer, 12)
			r.PricePerUnit = decimal.RequireFromString("12.345")
			return r
		}(), apperrors.KindValidationFailed},
		{"quantity below ledger precision", f.distributor.ID, b.ID, func() TransferBatchRequest {
			r := transferTo(f.retailer, 12)
			tiny := decimal.RequireFromString("0.0004")
			r.Quantity = &tiny
			return r
		}(), apperrors.KindValidationFailed},
		{"quantity above available", f.distributor.ID, b.ID, func() TransferBatchRequest {
			r := transferTo(f.retailer, 12)
			r.Quantity = &tooMuch
			return r
		}(), apperrors.KindValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.TransferBatch(ctx, tt.actor, tt.batch, tt.req)
			requireKind(t, err, tt.kind)
		})
	}

	assert.Equal(t, sends, f.backend.Sends(), "rejected transfers never reach the ledger")

	stored, err := f.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, f.distributor.ID, stored.CurrentOwnerID)
}

func TestTransferBatch_MirrorFailureAfterConfirmation(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)
	ctx := context.Background()
	b := f.register(t)

	f.store.FailNext("ApplyTransfer", errors.New("connection refused"))
	_, err := f.svc.TransferBatch(ctx, f.farmer.ID, b.ID, transferTo(f.distributor, 12))
	appErr := requireKind(t, err, apperrors.KindPersistence)
	assert.NotEmpty(t, appErr.TxHash)

	owner, _ := f.backend.OwnerOf(b.LedgerBatchID)
	assert.Equal(t, common.HexToAddress(f.distributor.AccountAddress), owner, "the ledger keeps the transfer")

	stored, err := f.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, f.farmer.ID, stored.CurrentOwnerID, "the mirror has not caught up yet")

	require.Len(t, f.queue.entries, 1)
	entry := f.queue.entries[0]
	assert.Equal(t, models.ReconcileTransferBatch, entry.Operation)
	assert.Equal(t, appErr.TxHash, entry.TxHash)

	var write models.TransferWrite
	require.NoError(t, json.Unmarshal(entry.Payload, &write))
	assert.Equal(t, appErr.TxHash, write.Transfer.BlockchainTxHash)
	assert.Equal(t, f.distributor.ID, write.Batch.CurrentOwnerID)
	assert.Equal(t, 1, write.ExpectedVersion)

	// the lock is free again, and the ledger rather than the stale mirror decides ownership
	_, err = f.svc.TransferBatch(ctx, f.farmer.ID, b.ID, transferTo(f.retailer, 12))
	reverted := requireKind(t, err, apperrors.KindLedger)
	assert.Equal(t, "Not batch owner", reverted.Reason)
}

func TestTransferBatch_SoldIsTerminal(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)
	ctx := context.Background()

	sold, err := f.store.Batches().Create(ctx, &models.Batch{
		LedgerBatchID:  f.backend.SeedBatch(common.HexToAddress(f.retailer.AccountAddress)),
		FarmerID:       f.farmer.ID,
		CurrentOwnerID: f.retailer.ID,
		Quantity:       decimal.NewFromInt(10),
		HarvestDate:    harvest,
		ExpiryDate:     expiry,
		Status:         models.BatchStatusSold,
		LastHash:       "0x01",
	})
	require.NoError(t, err)
	sends := f.backend.Sends()

	_, err = f.svc.TransferBatch(ctx, f.retailer.ID, sold.ID, transferTo(f.consumer, 20))
	requireKind(t, err, apperrors.KindInvalidTransition)
	assert.Equal(t, sends, f.backend.Sends())
}

func TestTransferBatch_ExpiredBatch(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)
	ctx := context.Background()

	stale, err := f.store.Batches().Create(ctx, &models.Batch{
		LedgerBatchID:  f.backend.SeedBatch(common.HexToAddress(f.farmer.AccountAddress)),
		FarmerID:       f.farmer.ID,
		CurrentOwnerID: f.farmer.ID,
		Quantity:       decimal.NewFromInt(10),
		HarvestDate:    harvest.AddDate(0, 0, -30),
		ExpiryDate:     harvest,
		Status:         models.BatchStatusProduced,
		LastHash:       "0x01",
	})
	require.NoError(t, err)

	got, err := f.svc.GetBatch(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusExpired, got.Status)

	_, err = f.svc.TransferBatch(ctx, f.farmer.ID, stale.ID, transferTo(f.distributor, 5))
	requireKind(t, err, apperrors.KindInvalidTransition)
}

func TestTransferBatch_DestinationPolicy(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDestination)
	ctx := context.Background()
	b := f.register(t)

	steps := []struct {
		actor, to *models.Stakeholder
		want      models.BatchStatus
	}{
		{f.farmer, f.distributor, models.BatchStatusInTransit},
		{f.distributor, f.retailer, models.BatchStatusDelivered},
		{f.retailer, f.consumer, models.BatchStatusSold},
	}
	for _, step := range steps {
		res, err := f.svc.TransferBatch(ctx, step.actor.ID, b.ID, transferTo(step.to, 12))
		require.NoError(t, err)
		assert.Equal(t, step.want, res.Batch.Status)
	}

	stored, err := f.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSold, stored.Status)
	assert.Equal(t, 4, stored.Version)
}

func TestTransferBatch_ConcurrentTransferConflicts(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)
	ctx := context.Background()
	b := f.register(t)

	f.backend.Hold()
	first := make(chan error, 1)
	go func() {
		_, err := f.svc.TransferBatch(ctx, f.farmer.ID, b.ID, transferTo(f.distributor, 12))
		first <- err
	}()
	require.Eventually(t, func() bool { return f.backend.Sends() == 2 }, time.Second, time.Millisecond)

	_, err := f.svc.TransferBatch(ctx, f.farmer.ID, b.ID, transferTo(f.retailer, 12))
	requireKind(t, err, apperrors.KindConflict)
	assert.Equal(t, 2, f.backend.Sends())

	f.backend.Release()
	require.NoError(t, <-first)

	stored, err := f.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, f.distributor.ID, stored.CurrentOwnerID)
}

func TestGetJourney(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)
	ctx := context.Background()
	b := f.register(t)

	_, err := f.svc.TransferBatch(ctx, f.farmer.ID, b.ID, transferTo(f.distributor, 12))
	require.NoError(t, err)
	_, err = f.svc.TransferBatch(ctx, f.distributor.ID, b.ID, transferTo(f.retailer, 16))
	require.NoError(t, err)

	journey, err := f.svc.GetJourney(ctx, b.ID)
	require.NoError(t, err)

	assert.True(t, journey.ChainVerified)
	assert.Nil(t, journey.ChainBrokenAt)
	require.Len(t, journey.Stages, 3)
	assert.Equal(t, f.farmer.ID, journey.Stages[0].Stakeholder.ID)
	assert.Equal(t, f.distributor.ID, journey.Stages[1].Stakeholder.ID)
	assert.Equal(t, f.retailer.ID, journey.Stages[2].Stakeholder.ID)
	assert.Equal(t, f.retailer.ID, journey.CurrentOwner.ID)
	assert.Equal(t, 2, journey.Analytics.TotalTransfers)
	assert.Equal(t, "14", journey.Analytics.AveragePrice.String())
	assert.Len(t, journey.Transactions, 2)

	_, err = f.svc.GetJourney(ctx, uuid.New())
	requireKind(t, err, apperrors.KindNotFound)
}

func TestRegisterBatch_ScaleAtLedgerPrecision(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)

	req := registerRequest()
	req.Quantity = decimal.RequireFromString("99.125")
	req.BasePrice = decimal.RequireFromString("10.50")

	b, err := f.svc.RegisterBatch(context.Background(), f.farmer.ID, req)
	require.NoError(t, err)
	assert.Equal(t, "99.125", b.Quantity.String())
	assert.Equal(t, int64(99125), ledger.ToUnits(b.Quantity, ledger.QuantityScale).Int64())
}

func TestRegisterBatch_QualityHashIsBoundToTheBatch(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)
	ctx := context.Background()

	first := f.register(t)
	other := registerRequest()
	other.OriginLocation = "Amritsar, Punjab"
	second, err := f.svc.RegisterBatch(ctx, f.farmer.ID, other)
	require.NoError(t, err)

	expected, err := provenance.QualityHash(provenance.QualityData{
		BatchRef:    first.OriginHash,
		InspectorID: f.farmer.ID.String(),
		Grade:       "A",
		InspectedAt: harvest,
	})
	require.NoError(t, err)
	assert.Equal(t, expected, first.QualityHash)
	assert.NotEqual(t, first.QualityHash, second.QualityHash, "same grade and harvest on two batches must not share a quality hash")
}

// skewedDecoder returns the real event with its total altered, as a ledger
// that recorded a different price would.
type skewedDecoder struct {
	inner EventDecoder
}

func (d skewedDecoder) DecodeEvent(res *ledger.ConfirmedResult, name string) (ledger.Event, error) {
	ev, err := d.inner.DecodeEvent(res, name)
	if err != nil {
		return nil, err
	}
	if transferred, ok := ev.(ledger.BatchTransferredEvent); ok {
		transferred.TotalPrice = new(big.Int).Add(transferred.TotalPrice, big.NewInt(1))
		return transferred, nil
	}
	return ev, nil
}

func TestTransferBatch_EventMustRecordSubmittedTotal(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyCollapse)
	ctx := context.Background()
	b := f.register(t)

	f.svc.decoder = skewedDecoder{inner: f.svc.decoder}
	_, err := f.svc.TransferBatch(ctx, f.farmer.ID, b.ID, transferTo(f.distributor, 12))
	requireKind(t, err, apperrors.KindEventNotFound)

	stored, err := f.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, f.farmer.ID, stored.CurrentOwnerID)
	assert.Equal(t, 1, stored.Version)
}
