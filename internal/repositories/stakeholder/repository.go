package stakeholder

import (
	"context"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/database"
	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/google/uuid"
)

// StakeholderRepository defines the interface for stakeholder data access
type StakeholderRepository interface {
	Create(ctx context.Context, stakeholder *models.Stakeholder) (*models.Stakeholder, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Stakeholder, error)
	GetByEmail(ctx context.Context, email string) (*models.Stakeholder, error)
	GetByAccount(ctx context.Context, address string) (*models.Stakeholder, error)
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Stakeholder, error)
	SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*models.Stakeholder, error)
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the stakeholder. The insert is keyed by account address, so
// replaying the same registration returns the row already stored.
func (r *Repository) Create(ctx context.Context, stakeholder *models.Stakeholder) (*models.Stakeholder, error) {
	ctx, span := tracing.StartSpan(ctx, "StakeholderRepository.Create")
	defer span.End()

	if stakeholder.ID == uuid.Nil {
		stakeholder.ID = uuid.New()
	}
	stakeholder.Email = strings.ToLower(stakeholder.Email)

	now := Now()
	stakeholder.CreatedAt = now
	stakeholder.UpdatedAt = now

	ib := stakeholderStruct.InsertInto(stakeholdersTable, FromStakeholder(stakeholder))

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":              stakeholder.ID,
		"role":            stakeholder.Role,
		"account_address": stakeholder.AccountAddress,
	}).Debug("Creating stakeholder")

	inserted, err := database.InsertIfAbsent(ctx, r.db.Conn(ctx), ib, "account_address")
	if err != nil {
		if database.IsUniqueViolation(err, emailConstraint) {
			return nil, apperrors.Conflict("a stakeholder with email %s already exists", stakeholder.Email)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create stakeholder")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create stakeholder")
	}

	if !inserted {
		r.logger.WithContext(ctx).Infof("stakeholder with account %s already stored", stakeholder.AccountAddress)
		return r.GetByAccount(ctx, stakeholder.AccountAddress)
	}

	return stakeholder, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Stakeholder, error) {
	ctx, span := tracing.StartSpan(ctx, "StakeholderRepository.GetByID")
	defer span.End()

	return r.getOne(ctx, "id", id)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Stakeholder, error) {
	ctx, span := tracing.StartSpan(ctx, "StakeholderRepository.GetByEmail")
	defer span.End()

	return r.getOne(ctx, "email", strings.ToLower(email))
}

func (r *Repository) GetByAccount(ctx context.Context, address string) (*models.Stakeholder, error) {
	ctx, span := tracing.StartSpan(ctx, "StakeholderRepository.GetByAccount")
	defer span.End()

	return r.getOne(ctx, "account_address", address)
}

func (r *Repository) getOne(ctx context.Context, column string, value any) (*models.Stakeholder, error) {
	sb := stakeholderStruct.SelectFrom(stakeholdersTable)
	sb.Where(sb.Equal(column, value))
	sql, args := sb.Build()

	var row StakeholderRow
	if err := r.db.Conn(ctx).GetContext(ctx, &row, sql, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("stakeholder not found")
		}
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to get stakeholder by %s", column)
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get stakeholder")
	}

	return ToStakeholder(&row), nil
}

// GetMany loads the given stakeholders keyed by id. Unknown ids are left out.
func (r *Repository) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Stakeholder, error) {
	ctx, span := tracing.StartSpan(ctx, "StakeholderRepository.GetMany")
	defer span.End()

	result := make(map[uuid.UUID]models.Stakeholder, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	sb := stakeholderStruct.SelectFrom(stakeholdersTable)
	sb.Where(sb.In("id", values...))
	sql, args := sb.Build()

	var rows []StakeholderRow
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, sql, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list stakeholders")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list stakeholders")
	}

	for i := range rows {
		result[rows[i].ID] = *ToStakeholder(&rows[i])
	}
	return result, nil
}

func (r *Repository) SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*models.Stakeholder, error) {
	ctx, span := tracing.StartSpan(ctx, "StakeholderRepository.SetVerified")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(stakeholdersTable)
	ub.Set(
		ub.Assign("is_verified", verified),
		ub.Assign("updated_at", Now()),
	)
	ub.Where(ub.Equal("id", id))
	sql, args := ub.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":       id,
		"verified": verified,
	}).Debug("Updating stakeholder verification")

	result, err := r.db.Conn(ctx).ExecContext(ctx, sql, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update stakeholder")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update stakeholder")
	}

	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		return nil, apperrors.NotFound("stakeholder not found")
	}

	return r.GetByID(ctx, id)
}
