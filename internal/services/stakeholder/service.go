package stakeholder

import (
	"context"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/internal/coordinator"
	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/provenance"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/utils"
	"github.com/google/uuid"
)

type StakeholderRepository interface {
	Create(ctx context.Context, stakeholder *models.Stakeholder) (*models.Stakeholder, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Stakeholder, error)
	GetByEmail(ctx context.Context, email string) (*models.Stakeholder, error)
	SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*models.Stakeholder, error)
}

// Provisioner creates ledger accounts. Keys stay with the provisioner.
type Provisioner interface {
	NewAccount(ctx context.Context) (string, error)
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

type RegisterStakeholderRequest struct {
	Name         string      `json:"name" validate:"required,min=1,max=100"`
	Email        string      `json:"email" validate:"required,email,max=255"`
	Role         models.Role `json:"role" validate:"required,oneof=FARMER DISTRIBUTOR RETAILER CONSUMER QUALITY_INSPECTOR"`
	Phone        string      `json:"phone,omitempty" validate:"max=32"`
	Location     string      `json:"location,omitempty" validate:"max=255"`
	BusinessName string      `json:"business_name,omitempty" validate:"max=255"`
}

type Service struct {
	repo        StakeholderRepository
	provisioner Provisioner
	decoder     EventDecoder
	coordinator Executor
	publisher   Publisher
	logger      ectologger.Logger
}

func NewService(repo StakeholderRepository, provisioner Provisioner, decoder EventDecoder, coordinator Executor, publisher Publisher, logger ectologger.Logger) *Service {
	if publisher == nil {
		publisher = kafka.Discard{}
	}
	return &Service{
		repo:        repo,
		provisioner: provisioner,
		decoder:     decoder,
		coordinator: coordinator,
		publisher:   publisher,
		logger:      logger,
	}
}

// RegisterStakeholder provisions a ledger account for the new stakeholder,
// registers it with the ledger and stores the unverified profile.
func (s *Service) RegisterStakeholder(ctx context.Context, req RegisterStakeholderRequest) (*models.Stakeholder, error) {
	ctx, span := tracing.StartSpan(ctx, "stakeholder.RegisterStakeholder")
	defer span.End()

	req, err := utils.Validate(req)
	if err != nil {
		return nil, err
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	existing, err := s.repo.GetByEmail(ctx, req.Email)
	if err == nil && existing != nil {
		return nil, apperrors.Conflict("a stakeholder with email %s already exists", req.Email)
	}
	if err != nil && !apperrors.Is(err, apperrors.KindNotFound) {
		return nil, err
	}

	dataHash, err := provenance.ProfileHash(provenance.ProfileData{
		Name:         req.Name,
		Email:        req.Email,
		Role:         string(req.Role),
		Location:     req.Location,
		BusinessName: req.BusinessName,
	})
	if err != nil {
		return nil, err
	}

	account, err := s.provisioner.NewAccount(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("failed to provision ledger account")
		return nil, err
	}

	pending := models.Stakeholder{
		ID:             uuid.New(),
		Name:           req.Name,
		Email:          req.Email,
		Role:           req.Role,
		AccountAddress: account,
		Phone:          req.Phone,
		Location:       req.Location,
		BusinessName:   req.BusinessName,
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"stakeholder_id":  pending.ID,
		"role":            pending.Role,
		"account_address": account,
	}).Info("registering stakeholder")

	var created *models.Stakeholder
	_, err = s.coordinator.Execute(ctx, coordinator.Request{
		Operation: models.ReconcileRegisterStakeholder,
		Op: ledger.RegisterStakeholder{
			Account:  account,
			Role:     req.Role,
			Name:     req.Name,
			DataHash: dataHash,
		},
		Payload: &pending,
		Apply: func(ctx context.Context, res *ledger.ConfirmedResult) error {
			ev, err := s.decoder.DecodeEvent(res, ledger.EventStakeholderRegistered)
			if err != nil {
				return err
			}
			event, ok := ev.(ledger.StakeholderRegisteredEvent)
			if !ok || !strings.EqualFold(event.Account, account) {
				return apperrors.EventNotFound(ledger.EventStakeholderRegistered, res.TxHash)
			}

			pending.LedgerTxHash = res.TxHash
			stored, err := s.repo.Create(ctx, &pending)
			if err != nil {
				return err
			}
			created = stored

			if err := s.publisher.PublishProvenance(ctx, &kafka.ProvenanceEvent{
				Type:          kafka.EventStakeholderRegistered,
				StakeholderID: stored.ID.String(),
				Hash:          dataHash,
				TxHash:        res.TxHash,
				Timestamp:     time.Now().UTC(),
			}); err != nil {
				s.logger.WithContext(ctx).WithError(err).Warn("failed to publish provenance event")
			}
			return nil
		},
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	return created, nil
}

// VerifyStakeholder marks the stakeholder as verified so it can receive transfers.
func (s *Service) VerifyStakeholder(ctx context.Context, id uuid.UUID) (*models.Stakeholder, error) {
	ctx, span := tracing.StartSpan(ctx, "stakeholder.VerifyStakeholder")
	defer span.End()

	stakeholder, err := s.repo.SetVerified(ctx, id, true)
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithField("stakeholder_id", id).Info("stakeholder verified")
	return stakeholder, nil
}

func (s *Service) GetStakeholder(ctx context.Context, id uuid.UUID) (*models.Stakeholder, error) {
	ctx, span := tracing.StartSpan(ctx, "stakeholder.GetStakeholder")
	defer span.End()

	return s.repo.GetByID(ctx, id)
}
