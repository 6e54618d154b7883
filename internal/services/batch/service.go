package batch

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/internal/coordinator"
	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/locks"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/provenance"
	"github.com/Ramsey-B/clover/pkg/roles"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/utils"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type BatchRepository interface {
	Create(ctx context.Context, batch *models.Batch) (*models.Batch, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Batch, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Batch, error)
	ApplyTransfer(ctx context.Context, write models.TransferWrite) error
}

type StakeholderRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Stakeholder, error)
	GetByEmail(ctx context.Context, email string) (*models.Stakeholder, error)
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Stakeholder, error)
}

type TransferRepository interface {
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]models.Transfer, error)
}

type EventDecoder interface {
	DecodeEvent(res *ledger.ConfirmedResult, name string) (ledger.Event, error)
}

type Executor interface {
	Execute(ctx context.Context, req coordinator.Request) (*ledger.ConfirmedResult, error)
}

type Publisher interface {
	PublishProvenance(ctx context.Context, evt *kafka.ProvenanceEvent) error
}

type Dependencies struct {
	Batches      BatchRepository
	Stakeholders StakeholderRepository
	Transfers    TransferRepository
	Decoder      EventDecoder
	Coordinator  Executor
	Locker       locks.Locker
	Machine      *lifecycle.Machine
	Publisher    Publisher
	Logger       ectologger.Logger
	Now          func() time.Time
}

type Service struct {
	batches      BatchRepository
	stakeholders StakeholderRepository
	transfers    TransferRepository
	decoder      EventDecoder
	coordinator  Executor
	locker       locks.Locker
	machine      *lifecycle.Machine
	publisher    Publisher
	logger       ectologger.Logger
	now          func() time.Time
}

func NewService(deps Dependencies) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Machine == nil {
		deps.Machine = lifecycle.NewMachine(lifecycle.PolicyCollapse, deps.Now)
	}
	if deps.Publisher == nil {
		deps.Publisher = kafka.Discard{}
	}
	return &Service{
		batches:      deps.Batches,
		stakeholders: deps.Stakeholders,
		transfers:    deps.Transfers,
		decoder:      deps.Decoder,
		coordinator:  deps.Coordinator,
		locker:       deps.Locker,
		machine:      deps.Machine,
		publisher:    deps.Publisher,
		logger:       deps.Logger,
		now:          deps.Now,
	}
}

// RegisterBatch records a farmer's new batch on the ledger and then in the mirror.
func (s *Service) RegisterBatch(ctx context.Context, actorID uuid.UUID, req RegisterBatchRequest) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.RegisterBatch")
	defer span.End()

	actor, err := s.stakeholders.GetByID(ctx, actorID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, apperrors.Unauthorized("unknown stakeholder %s", actorID)
		}
		return nil, err
	}
	if actor.Role != models.RoleFarmer {
		return nil, apperrors.Unauthorized("only farmers can register batches")
	}

	req, err = utils.Validate(req)
	if err != nil {
		return nil, err
	}
	if req.Unit == "" {
		req.Unit = defaultUnit
	}

	harvest := req.HarvestDate.UTC().Truncate(time.Microsecond)
	expiry := req.ExpiryDate.UTC().Truncate(time.Microsecond)

	originHash, err := provenance.OriginHash(provenance.OriginData{
		FarmerID:    actor.ID.String(),
		HarvestDate: harvest,
		Location:    req.OriginLocation,
		ProductName: req.ProductName,
		ProductType: req.ProductType,
		Variety:     req.Variety,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
	})
	if err != nil {
		return nil, err
	}

	var qualityHash string
	if req.QualityGrade != "" {
		qualityHash, err = provenance.QualityHash(provenance.QualityData{
			BatchRef:    originHash,
			InspectorID: actor.ID.String(),
			Grade:       req.QualityGrade,
			InspectedAt: harvest,
		})
		if err != nil {
			return nil, err
		}
	}

	pending := models.Batch{
		ID:             uuid.New(),
		FarmerID:       actor.ID,
		CurrentOwnerID: actor.ID,
		ProductName:    req.ProductName,
		ProductType:    req.ProductType,
		Variety:        req.Variety,
		Quantity:       req.Quantity,
		Unit:           req.Unit,
		HarvestDate:    harvest,
		ExpiryDate:     expiry,
		BasePrice:      req.BasePrice,
		Status:         s.machine.Initial(),
		QualityGrade:   req.QualityGrade,
		OriginLocation: req.OriginLocation,
		OriginHash:     originHash,
		QualityHash:    qualityHash,
		LastHash:       originHash,
		Version:        1,
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id":     pending.ID,
		"farmer_id":    actor.ID,
		"product_name": pending.ProductName,
		"origin_hash":  originHash,
	}).Info("registering batch")

	var created *models.Batch
	_, err = s.coordinator.Execute(ctx, coordinator.Request{
		Operation: models.ReconcileRegisterBatch,
		Op: ledger.CreateBatch{
			Owner:       actor.AccountAddress,
			ProductName: pending.ProductName,
			ProductType: pending.ProductType,
			Quantity:    pending.Quantity,
			HarvestDate: harvest,
			ExpiryDate:  expiry,
			BasePrice:   pending.BasePrice,
			OriginHash:  originHash,
			QualityHash: qualityHash,
		},
		Payload: &pending,
		Apply: func(ctx context.Context, res *ledger.ConfirmedResult) error {
			ev, err := s.decoder.DecodeEvent(res, ledger.EventBatchCreated)
			if err != nil {
				return err
			}
			event, ok := ev.(ledger.BatchCreatedEvent)
			if !ok || event.OriginHash != originHash {
				return apperrors.EventNotFound(ledger.EventBatchCreated, res.TxHash)
			}

			pending.LedgerBatchID = event.BatchID
			pending.BlockchainTxHash = res.TxHash
			stored, err := s.batches.Create(ctx, &pending)
			if err != nil {
				return err
			}
			created = stored

			s.publish(ctx, &kafka.ProvenanceEvent{
				Type:          kafka.EventBatchRegistered,
				BatchID:       stored.ID.String(),
				LedgerBatchID: stored.LedgerBatchID,
				StakeholderID: actor.ID.String(),
				Status:        string(stored.Status),
				Hash:          stored.OriginHash,
				TxHash:        res.TxHash,
			})
			return nil
		},
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("batch.ledger_id", int64(created.LedgerBatchID)))
	s.machine.Resolve(created)
	return created, nil
}

// TransferBatch hands the batch from its current owner to another stakeholder.
// Every check runs before the ledger sees the transfer, and the batch stays
// locked until the mirror write is finished.
func (s *Service) TransferBatch(ctx context.Context, actorID, batchID uuid.UUID, req TransferBatchRequest) (*TransferResult, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.TransferBatch", attribute.String("batch.id", batchID.String()))
	defer span.End()

	req, err := utils.Validate(req)
	if err != nil {
		return nil, s.reject(ctx, err)
	}
	if req.ToStakeholderID == "" && req.ToEmail == "" {
		return nil, s.reject(ctx, apperrors.ValidationFailed("a recipient id or email is required"))
	}

	unlock, err := s.locker.Lock(ctx, batchID.String())
	if err != nil {
		if errors.Is(err, locks.ErrHeld) {
			return nil, s.reject(ctx, apperrors.Conflict("batch %s already has a transfer in progress", batchID))
		}
		return nil, err
	}
	handedOff := false
	defer func() {
		if !handedOff {
			unlock()
		}
	}()

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, s.reject(ctx, err)
	}
	if batch.CurrentOwnerID != actorID {
		return nil, s.reject(ctx, apperrors.Forbidden("only the current owner can transfer batch %s", batchID))
	}

	actor, err := s.stakeholders.GetByID(ctx, actorID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, s.reject(ctx, apperrors.Forbidden("unknown stakeholder %s", actorID))
		}
		return nil, err
	}

	recipient, err := s.findRecipient(ctx, req)
	if err != nil {
		return nil, s.reject(ctx, err)
	}
	if recipient.ID == actor.ID {
		return nil, s.reject(ctx, apperrors.InvalidRecipient("a batch cannot be transferred to its owner"))
	}
	if !recipient.IsVerified {
		return nil, s.reject(ctx, apperrors.InvalidRecipient("recipient %s is not verified", recipient.ID))
	}
	if !roles.IsAllowed(actor.Role, recipient.Role) {
		return nil, s.reject(ctx, apperrors.InvalidRecipient("%s cannot transfer to %s", actor.Role, recipient.Role))
	}

	next, err := s.machine.NextOnTransfer(*batch, recipient.Role)
	if err != nil {
		return nil, s.reject(ctx, err)
	}

	quantity := batch.Quantity
	if req.Quantity != nil {
		if req.Quantity.GreaterThan(batch.Quantity) {
			return nil, s.reject(ctx, apperrors.ValidationFailed("quantity %s exceeds the %s available", req.Quantity, batch.Quantity))
		}
		quantity = *req.Quantity
	}
	// the batch follows the goods handed over; whatever the sender keeps leaves
	// tracked custody and is reported back rather than dropped silently
	retained := batch.Quantity.Sub(quantity)
	if retained.IsPositive() {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"batch_id":    batch.ID,
			"transferred": quantity.String(),
			"retained":    retained.String(),
		}).Warn("Partial transfer retained quantity outside the batch record")
	}

	timestamp := s.now().UTC().Truncate(time.Microsecond)
	transferHash, err := provenance.TransferHash(provenance.TransferData{
		BatchID:      batch.LedgerBatchID,
		FromID:       actor.ID.String(),
		ToID:         recipient.ID.String(),
		Quantity:     quantity,
		PricePerUnit: req.PricePerUnit,
		Timestamp:    timestamp,
		PrevHash:     batch.LastHash,
	})
	if err != nil {
		return nil, s.reject(ctx, err)
	}

	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	totalPrice := req.PricePerUnit.Mul(quantity).Round(ledger.PriceScale)

	moved := *batch
	moved.CurrentOwnerID = recipient.ID
	moved.Status = next
	moved.Quantity = quantity
	moved.LastHash = transferHash

	write := models.TransferWrite{
		Batch:           moved,
		ExpectedVersion: batch.Version,
		Transfer: models.Transfer{
			ID:              uuid.New(),
			BatchID:         batch.ID,
			FromID:          actor.ID,
			ToID:            recipient.ID,
			Quantity:        quantity,
			PricePerUnit:    req.PricePerUnit,
			TotalPrice:      totalPrice,
			Currency:        currency,
			PaymentMethod:   req.PaymentMethod,
			TransportMethod: req.TransportMethod,
			VehicleNumber:   req.VehicleNumber,
			DeliveryDate:    req.DeliveryDate,
			Location:        req.Location,
			Notes:           req.Notes,
			Conditions:      req.Conditions,
			TransactionDate: timestamp,
			StatusAfter:     next,
			PrevHash:        batch.LastHash,
			TransferHash:    transferHash,
		},
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id":      batch.ID,
		"from":          actor.ID,
		"to":            recipient.ID,
		"status":        next,
		"total_price":   totalPrice.StringFixed(ledger.PriceScale),
		"transfer_hash": transferHash,
	}).Info("transferring batch")

	op := ledger.TransferBatch{
		BatchID:      batch.LedgerBatchID,
		From:         actor.AccountAddress,
		To:           recipient.AccountAddress,
		TotalPrice:   totalPrice,
		TransferHash: transferHash,
	}

	handedOff = true
	_, err = s.coordinator.Execute(ctx, coordinator.Request{
		Operation: models.ReconcileTransferBatch,
		Op:        op,
		Payload:   &write,
		Apply: func(ctx context.Context, res *ledger.ConfirmedResult) error {
			ev, err := s.decoder.DecodeEvent(res, ledger.EventBatchTransferred)
			if err != nil {
				return err
			}
			event, ok := ev.(ledger.BatchTransferredEvent)
			if !ok || !event.Records(op) {
				return apperrors.EventNotFound(ledger.EventBatchTransferred, res.TxHash)
			}

			write.Transfer.BlockchainTxHash = res.TxHash
			if err := s.batches.ApplyTransfer(ctx, write); err != nil {
				return err
			}

			s.publish(ctx, &kafka.ProvenanceEvent{
				Type:          kafka.EventBatchTransferred,
				BatchID:       batch.ID.String(),
				LedgerBatchID: batch.LedgerBatchID,
				FromID:        actor.ID.String(),
				ToID:          recipient.ID.String(),
				Status:        string(next),
				Hash:          transferHash,
				TxHash:        res.TxHash,
			})
			return nil
		},
		Finally: unlock,
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	metrics.RecordTransfer(string(actor.Role), string(recipient.Role))

	moved.Version = batch.Version + 1
	s.machine.Resolve(&moved)
	return &TransferResult{Batch: moved, Transfer: write.Transfer, RetainedQuantity: retained}, nil
}

func (s *Service) findRecipient(ctx context.Context, req TransferBatchRequest) (*models.Stakeholder, error) {
	var (
		recipient *models.Stakeholder
		err       error
	)
	if req.ToStakeholderID != "" {
		recipient, err = s.stakeholders.GetByID(ctx, uuid.MustParse(req.ToStakeholderID))
	} else {
		recipient, err = s.stakeholders.GetByEmail(ctx, req.ToEmail)
	}
	if apperrors.Is(err, apperrors.KindNotFound) {
		return nil, apperrors.InvalidRecipient("recipient not found")
	}
	return recipient, err
}

// reject records a transfer refused before reaching the ledger.
func (s *Service) reject(ctx context.Context, err error) error {
	kind := apperrors.KindOf(err)
	if kind == "" {
		return err
	}
	metrics.RecordTransferRejection(string(kind))
	s.logger.WithContext(ctx).WithError(err).Warnf("transfer rejected: %s", kind)
	return err
}

func (s *Service) publish(ctx context.Context, evt *kafka.ProvenanceEvent) {
	evt.Timestamp = s.now().UTC()
	if err := s.publisher.PublishProvenance(ctx, evt); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("tx_hash", evt.TxHash).Warn("failed to publish provenance event")
	}
}

func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.GetBatch")
	defer span.End()

	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.machine.Resolve(batch)
	return batch, nil
}

func (s *Service) ListBatchesForOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.ListBatchesForOwner")
	defer span.End()

	batches, err := s.batches.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range batches {
		s.machine.Resolve(&batches[i])
	}
	return batches, nil
}

// GetJourney reconstructs the batch's history from the mirror and verifies its hash chain.
func (s *Service) GetJourney(ctx context.Context, id uuid.UUID) (*provenance.Journey, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.GetJourney")
	defer span.End()

	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	transfers, err := s.transfers.ListByBatch(ctx, id)
	if err != nil {
		return nil, err
	}

	ids := []uuid.UUID{batch.FarmerID, batch.CurrentOwnerID}
	for _, t := range transfers {
		ids = append(ids, t.FromID, t.ToID)
	}
	stakeholders, err := s.stakeholders.GetMany(ctx, unique(ids))
	if err != nil {
		return nil, err
	}

	journey := provenance.BuildJourney(provenance.JourneyInput{
		Batch:        *batch,
		Stakeholders: stakeholders,
		Transfers:    transfers,
	}, s.now())

	if !journey.ChainVerified {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"batch_id":  batch.ID,
			"broken_at": *journey.ChainBrokenAt,
		}).Error("batch hash chain does not verify")
	}
	return &journey, nil
}

func unique(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
