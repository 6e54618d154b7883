package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/internal/services/batch"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/provenance"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/utils"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type BatchService interface {
	RegisterBatch(ctx context.Context, actorID uuid.UUID, req batch.RegisterBatchRequest) (*models.Batch, error)
	TransferBatch(ctx context.Context, actorID, batchID uuid.UUID, req batch.TransferBatchRequest) (*batch.TransferResult, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*models.Batch, error)
	ListBatchesForOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Batch, error)
	GetJourney(ctx context.Context, id uuid.UUID) (*provenance.Journey, error)
}

// BatchHandler handles batch API endpoints
type BatchHandler struct {
	service BatchService
	logger  ectologger.Logger
}

func NewBatchHandler(service BatchService, logger ectologger.Logger) *BatchHandler {
	return &BatchHandler{
		service: service,
		logger:  logger,
	}
}

// Register registers batch routes
func (h *BatchHandler) Register(g *echo.Group) {
	g.POST("", h.Create)
	g.GET("", h.ListMine)
	g.GET("/:id", h.GetByID)
	g.POST("/:id/transfer", h.Transfer)
	g.GET("/:id/journey", h.Journey)
}

// Create registers a new batch owned by the acting farmer
func (h *BatchHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "BatchHandler.Create")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actorID, err := GetActorID(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[batch.RegisterBatchRequest](c)
	if err != nil {
		return err
	}

	created, err := h.service.RegisterBatch(ctx, actorID, req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, created)
}

// ListMine returns the batches currently owned by the actor
func (h *BatchHandler) ListMine(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "BatchHandler.ListMine")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actorID, err := GetActorID(c)
	if err != nil {
		return err
	}

	batches, err := h.service.ListBatchesForOwner(ctx, actorID)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list batches")
		return err
	}
	return SuccessResponse(c, batches)
}

func (h *BatchHandler) GetByID(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "BatchHandler.GetByID")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	b, err := h.service.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, b)
}

// Transfer moves the batch from the actor to the named recipient
func (h *BatchHandler) Transfer(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "BatchHandler.Transfer")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	actorID, err := GetActorID(c)
	if err != nil {
		return err
	}

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[batch.TransferBatchRequest](c)
	if err != nil {
		return err
	}

	result, err := h.service.TransferBatch(ctx, actorID, id, req)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

func (h *BatchHandler) Journey(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "BatchHandler.Journey")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	journey, err := h.service.GetJourney(ctx, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, journey)
}
