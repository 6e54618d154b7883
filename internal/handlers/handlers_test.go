package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/internal/services/batch"
	"github.com/Ramsey-B/clover/internal/services/stakeholder"
	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/provenance"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBatches struct {
	actor    uuid.UUID
	transfer batch.TransferBatchRequest
	err      error
}

func (f *fakeBatches) RegisterBatch(_ context.Context, actorID uuid.UUID, req batch.RegisterBatchRequest) (*models.Batch, error) {
	f.actor = actorID
	if f.err != nil {
		return nil, f.err
	}
	return &models.Batch{ID: uuid.New(), FarmerID: actorID, ProductName: req.ProductName, Status: models.BatchStatusProduced}, nil
}

func (f *fakeBatches) TransferBatch(_ context.Context, actorID, batchID uuid.UUID, req batch.TransferBatchRequest) (*batch.TransferResult, error) {
	f.actor = actorID
	f.transfer = req
	if f.err != nil {
		return nil, f.err
	}
	return &batch.TransferResult{Batch: models.Batch{ID: batchID, Status: models.BatchStatusInTransit}}, nil
}

func (f *fakeBatches) GetBatch(_ context.Context, id uuid.UUID) (*models.Batch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Batch{ID: id}, nil
}

func (f *fakeBatches) ListBatchesForOwner(_ context.Context, ownerID uuid.UUID) ([]models.Batch, error) {
	f.actor = ownerID
	return []models.Batch{{ID: uuid.New(), CurrentOwnerID: ownerID}}, nil
}

func (f *fakeBatches) GetJourney(_ context.Context, id uuid.UUID) (*provenance.Journey, error) {
	return &provenance.Journey{Batch: models.Batch{ID: id}, ChainVerified: true}, nil
}

type fakeStakeholders struct {
	err error
}

func (f *fakeStakeholders) RegisterStakeholder(_ context.Context, req stakeholder.RegisterStakeholderRequest) (*models.Stakeholder, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Stakeholder{ID: uuid.New(), Name: req.Name, Role: req.Role}, nil
}

func (f *fakeStakeholders) VerifyStakeholder(_ context.Context, id uuid.UUID) (*models.Stakeholder, error) {
	return &models.Stakeholder{ID: id, IsVerified: true}, nil
}

func (f *fakeStakeholders) GetStakeholder(_ context.Context, id uuid.UUID) (*models.Stakeholder, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Stakeholder{ID: id}, nil
}

func newServer(batches BatchService, stakeholders StakeholderService) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())

	api := e.Group("/api/v1")
	NewBatchHandler(batches, logger).Register(api.Group("/batches"))
	NewStakeholderHandler(stakeholders, logger).Register(api.Group("/stakeholders"))
	return e
}

func do(e *echo.Echo, method, path, actor, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if actor != "" {
		req.Header.Set(middleware.HeaderActorID, actor)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const registerBody = `{
	"product_name": "Basmati Rice",
	"product_type": "Grain",
	"quantity": "100",
	"harvest_date": "2024-05-01T06:00:00Z",
	"expiry_date": "2024-07-01T00:00:00Z",
	"base_price": "10",
	"origin_location": "Karnal, Haryana"
}`

func TestBatchHandler_CreateRequiresActor(t *testing.T) {
	e := newServer(&fakeBatches{}, &fakeStakeholders{})

	rec := do(e, http.MethodPost, "/api/v1/batches", "", registerBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBatchHandler_Create(t *testing.T) {
	batches := &fakeBatches{}
	e := newServer(batches, &fakeStakeholders{})
	actor := uuid.New()

	rec := do(e, http.MethodPost, "/api/v1/batches", actor.String(), registerBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, actor, batches.actor)

	var got models.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Basmati Rice", got.ProductName)
	assert.Equal(t, models.BatchStatusProduced, got.Status)
}

func TestBatchHandler_CreateRejectsInvalidBody(t *testing.T) {
	e := newServer(&fakeBatches{}, &fakeStakeholders{})

	rec := do(e, http.MethodPost, "/api/v1/batches", uuid.NewString(), `{"product_name": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.KindValidationFailed), body.Meta["kind"])
}

func TestBatchHandler_Transfer(t *testing.T) {
	batches := &fakeBatches{}
	e := newServer(batches, &fakeStakeholders{})
	batchID := uuid.New()
	to := uuid.New()

	body := `{"to_stakeholder_id": "` + to.String() + `", "price_per_unit": "12", "quantity": "40", "transport_method": "TRUCK"}`
	rec := do(e, http.MethodPost, "/api/v1/batches/"+batchID.String()+"/transfer", uuid.NewString(), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, to.String(), batches.transfer.ToStakeholderID)
	require.NotNil(t, batches.transfer.Quantity)
	assert.True(t, batches.transfer.Quantity.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, models.TransportMethodTruck, batches.transfer.TransportMethod)
}

func TestBatchHandler_DomainErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not owner", apperrors.Forbidden("not the batch owner"), http.StatusForbidden},
		{"bad recipient", apperrors.InvalidRecipient("distributor cannot transfer to distributor"), http.StatusUnprocessableEntity},
		{"busy", apperrors.Conflict("transfer in progress"), http.StatusConflict},
		{"revert", apperrors.Ledger(nil, "ledger transaction reverted").WithReason("Not batch owner"), http.StatusBadGateway},
		{"mirror", apperrors.Persistence(assert.AnError, "0xabc"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newServer(&fakeBatches{err: tt.err}, &fakeStakeholders{})
			body := `{"to_email": "shop@example.com", "price_per_unit": "12"}`
			rec := do(e, http.MethodPost, "/api/v1/batches/"+uuid.NewString()+"/transfer", uuid.NewString(), body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestBatchHandler_PersistenceErrorCarriesTxHash(t *testing.T) {
	e := newServer(&fakeBatches{err: apperrors.Persistence(assert.AnError, "0xabc")}, &fakeStakeholders{})

	rec := do(e, http.MethodPost, "/api/v1/batches/"+uuid.NewString()+"/transfer", uuid.NewString(), `{"to_email": "shop@example.com", "price_per_unit": "12"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "0xabc", body.Meta["tx_hash"])
	assert.NotContains(t, body.Message, assert.AnError.Error(), "internal causes stay out of the response")
}

func TestBatchHandler_InvalidID(t *testing.T) {
	e := newServer(&fakeBatches{}, &fakeStakeholders{})

	rec := do(e, http.MethodGet, "/api/v1/batches/not-a-uuid", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchHandler_ListMineUsesActor(t *testing.T) {
	batches := &fakeBatches{}
	e := newServer(batches, &fakeStakeholders{})
	actor := uuid.New()

	rec := do(e, http.MethodGet, "/api/v1/batches", actor.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, actor, batches.actor)
}

func TestBatchHandler_Journey(t *testing.T) {
	e := newServer(&fakeBatches{}, &fakeStakeholders{})

	rec := do(e, http.MethodGet, "/api/v1/batches/"+uuid.NewString()+"/journey", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chain_verified":true`)
}

func TestStakeholderHandler(t *testing.T) {
	e := newServer(&fakeBatches{}, &fakeStakeholders{})

	rec := do(e, http.MethodPost, "/api/v1/stakeholders", "", `{"name": "Asha", "email": "asha@example.com", "role": "FARMER"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(e, http.MethodPost, "/api/v1/stakeholders", "", `{"name": "Asha", "email": "asha@example.com", "role": "ADMIN"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/api/v1/stakeholders/"+uuid.NewString()+"/verify", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_verified":true`)
}

func TestStakeholderHandler_NotFound(t *testing.T) {
	e := newServer(&fakeBatches{}, &fakeStakeholders{err: apperrors.NotFound("stakeholder not found")})

	rec := do(e, http.MethodGet, "/api/v1/stakeholders/"+uuid.NewString(), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
