package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/internal/services/stakeholder"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/utils"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type StakeholderService interface {
	RegisterStakeholder(ctx context.Context, req stakeholder.RegisterStakeholderRequest) (*models.Stakeholder, error)
	VerifyStakeholder(ctx context.Context, id uuid.UUID) (*models.Stakeholder, error)
	GetStakeholder(ctx context.Context, id uuid.UUID) (*models.Stakeholder, error)
}

// StakeholderHandler handles stakeholder API endpoints
type StakeholderHandler struct {
	service StakeholderService
	logger  ectologger.Logger
}

func NewStakeholderHandler(service StakeholderService, logger ectologger.Logger) *StakeholderHandler {
	return &StakeholderHandler{
		service: service,
		logger:  logger,
	}
}

// Register registers stakeholder routes
func (h *StakeholderHandler) Register(g *echo.Group) {
	g.POST("", h.Create)
	g.GET("/:id", h.GetByID)
	g.POST("/:id/verify", h.Verify)
}

func (h *StakeholderHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "StakeholderHandler.Create")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	req, err := utils.BindRequest[stakeholder.RegisterStakeholderRequest](c)
	if err != nil {
		return err
	}

	created, err := h.service.RegisterStakeholder(ctx, req)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("Failed to register stakeholder")
		return err
	}
	return CreatedResponse(c, created)
}

func (h *StakeholderHandler) GetByID(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "StakeholderHandler.GetByID")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	s, err := h.service.GetStakeholder(ctx, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, s)
}

// Verify marks a stakeholder as verified
func (h *StakeholderHandler) Verify(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "StakeholderHandler.Verify")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	s, err := h.service.VerifyStakeholder(ctx, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, s)
}
