package stakeholder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/internal/coordinator"
	"github.com/Ramsey-B/clover/internal/repositories/memory"
	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
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

type failingProvisioner struct{}

func (failingProvisioner) NewAccount(context.Context) (string, error) {
	return "", errors.New("keystore is read-only")
}

type testEnv struct {
	svc         *Service
	store       *memory.Store
	backend     *ledger.SimulatedBackend
	provisioner *ledger.KeystoreProvisioner
	queue       *recordingQueue
}

func newTestEnv(t *testing.T) *testEnv {
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
	provisioner := ledger.NewKeystoreProvisioner(t.TempDir(), "test", keystore.LightScryptN, keystore.LightScryptP)

	return &testEnv{
		svc:         NewService(store.Stakeholders(), provisioner, gw, coordinator.New(gw, queue, logger), kafka.Discard{}, logger),
		store:       store,
		backend:     backend,
		provisioner: provisioner,
		queue:       queue,
	}
}

func distributorRequest() RegisterStakeholderRequest {
	return RegisterStakeholderRequest{
		Name:         "Green Valley Logistics",
		Email:        "Ops@GreenValley.example",
		Role:         models.RoleDistributor,
		Location:     "Pune",
		BusinessName: "Green Valley Logistics Pvt Ltd",
	}
}

func TestRegisterStakeholder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s, err := env.svc.RegisterStakeholder(ctx, distributorRequest())
	require.NoError(t, err)

	assert.Equal(t, "ops@greenvalley.example", s.Email)
	assert.Equal(t, models.RoleDistributor, s.Role)
	assert.False(t, s.IsVerified, "new stakeholders start unverified")
	assert.NotEmpty(t, s.LedgerTxHash)
	assert.True(t, env.provisioner.HasAccount(s.AccountAddress), "the key stays in the keystore")
	assert.Equal(t, 1, env.backend.Sends())

	got, err := env.svc.GetStakeholder(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.AccountAddress, got.AccountAddress)
}

func TestRegisterStakeholder_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.RegisterStakeholder(ctx, distributorRequest())
	require.NoError(t, err)

	req := distributorRequest()
	req.Email = "ops@greenvalley.example"
	_, err = env.svc.RegisterStakeholder(ctx, req)
	assert.True(t, apperrors.Is(err, apperrors.KindConflict), "got %v", err)
	assert.Equal(t, 1, env.backend.Sends(), "duplicates never reach the ledger")
}

func TestRegisterStakeholder_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(r *RegisterStakeholderRequest)
	}{
		{"missing name", func(r *RegisterStakeholderRequest) { r.Name = "" }},
		{"bad email", func(r *RegisterStakeholderRequest) { r.Email = "not-an-email" }},
		{"unknown role", func(r *RegisterStakeholderRequest) { r.Role = "ADMIN" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := distributorRequest()
			tt.mutate(&req)
			_, err := env.svc.RegisterStakeholder(context.Background(), req)
			assert.True(t, apperrors.Is(err, apperrors.KindValidationFailed), "got %v", err)
		})
	}
	assert.Equal(t, 0, env.backend.Sends())
}

func TestRegisterStakeholder_ProvisioningFailure(t *testing.T) {
	env := newTestEnv(t)
	env.svc.provisioner = failingProvisioner{}

	_, err := env.svc.RegisterStakeholder(context.Background(), distributorRequest())
	require.Error(t, err)
	assert.Equal(t, 0, env.backend.Sends())
}

func TestRegisterStakeholder_MirrorFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailNext("CreateStakeholder", errors.New("connection reset"))

	_, err := env.svc.RegisterStakeholder(context.Background(), distributorRequest())
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindPersistence, appErr.Kind)
	assert.NotEmpty(t, appErr.TxHash)

	require.Len(t, env.queue.entries, 1)
	assert.Equal(t, models.ReconcileRegisterStakeholder, env.queue.entries[0].Operation)
}

func TestVerifyStakeholder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s, err := env.svc.RegisterStakeholder(ctx, distributorRequest())
	require.NoError(t, err)

	verified, err := env.svc.VerifyStakeholder(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)

	_, err = env.svc.VerifyStakeholder(ctx, uuid.New())
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}
