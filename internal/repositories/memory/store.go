// Package memory holds an in-process mirror used in dev mode and tests. It
// enforces the same uniqueness, idempotency and version rules as the
// postgres repositories.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/google/uuid"
)

type memoryState struct {
	stakeholders map[uuid.UUID]models.Stakeholder
	batches      map[uuid.UUID]models.Batch
	transfers    map[uuid.UUID]models.Transfer
}

func newMemoryState() memoryState {
	return memoryState{
		stakeholders: make(map[uuid.UUID]models.Stakeholder),
		batches:      make(map[uuid.UUID]models.Batch),
		transfers:    make(map[uuid.UUID]models.Transfer),
	}
}

type Store struct {
	mu       sync.RWMutex
	state    memoryState
	failures map[string]error
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		state:    newMemoryState(),
		failures: make(map[string]error),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FailNext makes the next call of the named operation (e.g. "ApplyTransfer")
// return err without touching state.
func (s *Store) FailNext(operation string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[operation] = err
}

// takeFailure must be called with the write lock held.
func (s *Store) takeFailure(operation string) error {
	err, ok := s.failures[operation]
	if !ok {
		return nil
	}
	delete(s.failures, operation)
	return err
}

func (s *Store) Stakeholders() *Stakeholders { return &Stakeholders{store: s} }

func (s *Store) Batches() *Batches { return &Batches{store: s} }

func (s *Store) Transfers() *Transfers { return &Transfers{store: s} }

func (s *Store) Ping(context.Context) error { return nil }

// Stakeholders implements the stakeholder repository over the store.
type Stakeholders struct {
	store *Store
}

func (r *Stakeholders) Create(_ context.Context, stakeholder *models.Stakeholder) (*models.Stakeholder, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("CreateStakeholder"); err != nil {
		return nil, err
	}

	stakeholder.Email = strings.ToLower(stakeholder.Email)
	for _, existing := range s.state.stakeholders {
		if existing.AccountAddress == stakeholder.AccountAddress {
			found := existing
			return &found, nil
		}
	}
	for _, existing := range s.state.stakeholders {
		if existing.Email == stakeholder.Email {
			return nil, apperrors.Conflict("a stakeholder with email %s already exists", stakeholder.Email)
		}
	}

	if stakeholder.ID == uuid.Nil {
		stakeholder.ID = uuid.New()
	}
	now := s.now()
	stakeholder.CreatedAt = now
	stakeholder.UpdatedAt = now
	s.state.stakeholders[stakeholder.ID] = *stakeholder

	created := *stakeholder
	return &created, nil
}

func (r *Stakeholders) GetByID(_ context.Context, id uuid.UUID) (*models.Stakeholder, error) {
	return r.find(func(st models.Stakeholder) bool { return st.ID == id })
}

func (r *Stakeholders) GetByEmail(_ context.Context, email string) (*models.Stakeholder, error) {
	email = strings.ToLower(email)
	return r.find(func(st models.Stakeholder) bool { return st.Email == email })
}

func (r *Stakeholders) GetByAccount(_ context.Context, address string) (*models.Stakeholder, error) {
	return r.find(func(st models.Stakeholder) bool { return strings.EqualFold(st.AccountAddress, address) })
}

func (r *Stakeholders) find(match func(models.Stakeholder) bool) (*models.Stakeholder, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, st := range r.store.state.stakeholders {
		if match(st) {
			found := st
			return &found, nil
		}
	}
	return nil, apperrors.NotFound("stakeholder not found")
}

func (r *Stakeholders) GetMany(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Stakeholder, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make(map[uuid.UUID]models.Stakeholder, len(ids))
	for _, id := range ids {
		if st, ok := r.store.state.stakeholders[id]; ok {
			result[id] = st
		}
	}
	return result, nil
}

func (r *Stakeholders) SetVerified(_ context.Context, id uuid.UUID, verified bool) (*models.Stakeholder, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state.stakeholders[id]
	if !ok {
		return nil, apperrors.NotFound("stakeholder not found")
	}
	st.IsVerified = verified
	st.UpdatedAt = s.now()
	s.state.stakeholders[id] = st

	return &st, nil
}

// Batches implements the batch repository over the store.
type Batches struct {
	store *Store
}

func (r *Batches) Create(_ context.Context, batch *models.Batch) (*models.Batch, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("CreateBatch"); err != nil {
		return nil, err
	}

	for _, existing := range s.state.batches {
		if existing.LedgerBatchID == batch.LedgerBatchID {
			found := existing
			return &found, nil
		}
	}

	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Version == 0 {
		batch.Version = 1
	}
	now := s.now()
	batch.CreatedAt = now
	batch.UpdatedAt = now
	s.state.batches[batch.ID] = *batch

	created := *batch
	return &created, nil
}

func (r *Batches) GetByID(_ context.Context, id uuid.UUID) (*models.Batch, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	b, ok := r.store.state.batches[id]
	if !ok {
		return nil, apperrors.NotFound("batch not found")
	}
	return &b, nil
}

func (r *Batches) GetByLedgerID(_ context.Context, ledgerBatchID uint64) (*models.Batch, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, b := range r.store.state.batches {
		if b.LedgerBatchID == ledgerBatchID {
			found := b
			return &found, nil
		}
	}
	return nil, apperrors.NotFound("batch not found")
}

func (r *Batches) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]models.Batch, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	batches := make([]models.Batch, 0)
	for _, b := range r.store.state.batches {
		if b.CurrentOwnerID == ownerID {
			batches = append(batches, b)
		}
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].CreatedAt.After(batches[j].CreatedAt)
	})
	return batches, nil
}

func (r *Batches) ApplyTransfer(_ context.Context, write models.TransferWrite) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("ApplyTransfer"); err != nil {
		return err
	}

	for _, t := range s.state.transfers {
		if t.BlockchainTxHash == write.Transfer.BlockchainTxHash {
			return nil
		}
	}

	current, ok := s.state.batches[write.Batch.ID]
	if !ok || current.Version != write.ExpectedVersion {
		return apperrors.Conflict("batch %s was modified concurrently", write.Batch.ID)
	}

	now := s.now()
	current.CurrentOwnerID = write.Batch.CurrentOwnerID
	current.Status = write.Batch.Status
	current.Quantity = write.Batch.Quantity
	current.LastHash = write.Batch.LastHash
	current.Version++
	current.UpdatedAt = now
	s.state.batches[current.ID] = current

	t := write.Transfer
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	s.state.transfers[t.ID] = t

	return nil
}

// Transfers implements the transfer record repository over the store.
type Transfers struct {
	store *Store
}

func (r *Transfers) Insert(_ context.Context, transfer *models.Transfer) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.state.transfers {
		if t.BlockchainTxHash == transfer.BlockchainTxHash {
			return false, nil
		}
	}
	if transfer.ID == uuid.Nil {
		transfer.ID = uuid.New()
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = s.now()
	}
	s.state.transfers[transfer.ID] = *transfer
	return true, nil
}

func (r *Transfers) GetByTxHash(_ context.Context, txHash string) (*models.Transfer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, t := range r.store.state.transfers {
		if t.BlockchainTxHash == txHash {
			found := t
			return &found, nil
		}
	}
	return nil, apperrors.NotFound("transfer %s not found", txHash)
}

func (r *Transfers) ListByBatch(_ context.Context, batchID uuid.UUID) ([]models.Transfer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	transfers := make([]models.Transfer, 0)
	for _, t := range r.store.state.transfers {
		if t.BatchID == batchID {
			transfers = append(transfers, t)
		}
	}
	sort.Slice(transfers, func(i, j int) bool {
		if transfers[i].TransactionDate.Equal(transfers[j].TransactionDate) {
			return transfers[i].CreatedAt.Before(transfers[j].CreatedAt)
		}
		return transfers[i].TransactionDate.Before(transfers[j].TransactionDate)
	})
	return transfers, nil
}
