package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type simBatch struct {
	owner common.Address
}

// SimulatedBackend is an in-process ledger that executes the contract's rules
// and emits ABI-encoded logs. It serves dev mode and tests.
type SimulatedBackend struct {
	mu       sync.Mutex
	contract abi.ABI
	account  common.Address
	address  common.Address
	now      func() time.Time

	nonces       map[common.Address]uint64
	receipts     map[common.Hash]*Receipt
	held         []common.Hash
	holding      bool
	block        uint64
	nextBatchID  uint64
	batches      map[uint64]*simBatch
	stakeholders map[common.Address]uint8
	sends        int
	nonceLag     uint64
	sendErr      error
}

func NewSimulatedBackend(account common.Address) *SimulatedBackend {
	contract, err := ParseContract()
	if err != nil {
		panic(fmt.Sprintf("invalid contract ABI: %v", err))
	}
	return &SimulatedBackend{
		contract:     contract,
		account:      account,
		address:      common.HexToAddress("0x00000000000000000000000000000000000c10e5"),
		now:          time.Now,
		nonces:       map[common.Address]uint64{},
		receipts:     map[common.Hash]*Receipt{},
		batches:      map[uint64]*simBatch{},
		stakeholders: map[common.Address]uint8{},
	}
}

func (s *SimulatedBackend) Account() common.Address {
	return s.account
}

// ContractAddress is the address the simulated contract emits logs from.
func (s *SimulatedBackend) ContractAddress() common.Address {
	return s.address
}

func (s *SimulatedBackend) NonceAt(_ context.Context, account common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nonces[account]
	if n < s.nonceLag {
		return 0, nil
	}
	return n - s.nonceLag, nil
}

func (s *SimulatedBackend) Send(_ context.Context, nonce uint64, data []byte) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendErr != nil {
		err := s.sendErr
		s.sendErr = nil
		return common.Hash{}, err
	}

	expected := s.nonces[s.account]
	if nonce < expected {
		return common.Hash{}, fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", expected, nonce)
	}
	if nonce > expected {
		return common.Hash{}, fmt.Errorf("nonce too high: next nonce %d, tx nonce %d", expected, nonce)
	}
	s.nonces[s.account] = nonce + 1
	s.sends++

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	txHash := crypto.Keccak256Hash(s.account.Bytes(), nonceBytes[:], data)

	s.block++
	receipt := &Receipt{TxHash: txHash, BlockNumber: s.block}
	logs, reason := s.execute(data)
	if reason != "" {
		receipt.Reverted = true
		receipt.RevertReason = reason
	} else {
		for i, log := range logs {
			log.TxHash = txHash
			log.BlockNumber = s.block
			log.Index = uint(i)
		}
		receipt.Logs = logs
	}

	s.receipts[txHash] = receipt
	if s.holding {
		s.held = append(s.held, txHash)
	}
	return txHash, nil
}

func (s *SimulatedBackend) Receipt(_ context.Context, txHash common.Hash) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.held {
		if h == txHash {
			return nil, ErrReceiptPending
		}
	}
	r, ok := s.receipts[txHash]
	if !ok {
		return nil, ErrReceiptPending
	}
	return r, nil
}

func (s *SimulatedBackend) Ping(context.Context) error {
	return nil
}

func (s *SimulatedBackend) Close() {}

// Hold keeps receipts of subsequent transactions pending until Release.
func (s *SimulatedBackend) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = true
}

// Release includes every held transaction.
func (s *SimulatedBackend) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = false
	s.held = nil
}

// SetNonceLag makes NonceAt under-report by lag, like a node that has not yet
// seen recent submissions.
func (s *SimulatedBackend) SetNonceLag(lag uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonceLag = lag
}

// FailNextSend makes the next Send return err without consuming a nonce.
func (s *SimulatedBackend) FailNextSend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Sends returns how many transactions were accepted.
func (s *SimulatedBackend) Sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

// OwnerOf returns the ledger owner of a batch.
func (s *SimulatedBackend) OwnerOf(batchID uint64) (common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return common.Address{}, false
	}
	return b.owner, true
}

// SeedBatch registers a batch directly, bypassing createBatch.
func (s *SimulatedBackend) SeedBatch(owner common.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextBatchID++
	s.batches[s.nextBatchID] = &simBatch{owner: owner}
	return s.nextBatchID
}

// execute applies a contract call and returns its logs, or a revert reason.
func (s *SimulatedBackend) execute(data []byte) ([]*types.Log, string) {
	if len(data) < 4 {
		return nil, "invalid calldata"
	}
	method, err := s.contract.MethodById(data[:4])
	if err != nil {
		return nil, "unknown method"
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, "invalid arguments"
	}

	ts := big.NewInt(s.now().Unix())
	switch method.Name {
	case MethodCreateBatch:
		owner := args[0].(common.Address)
		if args[5].(*big.Int).Cmp(args[4].(*big.Int)) <= 0 {
			return nil, "Expiry must be after harvest"
		}
		s.nextBatchID++
		id := s.nextBatchID
		s.batches[id] = &simBatch{owner: owner}
		return s.emit(EventBatchCreated, new(big.Int).SetUint64(id), owner, args[7].([32]byte), ts)

	case MethodTransferBatch:
		id := args[0].(*big.Int)
		from := args[1].(common.Address)
		to := args[2].(common.Address)
		b, ok := s.batches[id.Uint64()]
		if !ok || !id.IsUint64() {
			return nil, "Batch does not exist"
		}
		if b.owner != from {
			return nil, "Not batch owner"
		}
		b.owner = to
		return s.emit(EventBatchTransferred, id, from, to, args[3].(*big.Int), args[4].([32]byte), ts)

	case MethodRegisterStakeholder:
		account := args[0].(common.Address)
		if _, exists := s.stakeholders[account]; exists {
			return nil, "Stakeholder already registered"
		}
		role := args[1].(uint8)
		s.stakeholders[account] = role
		return s.emit(EventStakeholderRegistered, account, role, args[2].(string))
	}
	return nil, "unsupported method"
}

// emit builds a log for event name from values given in ABI input order.
func (s *SimulatedBackend) emit(name string, values ...any) ([]*types.Log, string) {
	ev := s.contract.Events[name]
	topics := []common.Hash{ev.ID}
	var data []any
	for i, input := range ev.Inputs {
		if !input.Indexed {
			data = append(data, values[i])
			continue
		}
		switch v := values[i].(type) {
		case *big.Int:
			topics = append(topics, common.BigToHash(v))
		case common.Address:
			topics = append(topics, common.BytesToHash(v.Bytes()))
		case [32]byte:
			topics = append(topics, common.Hash(v))
		}
	}

	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, "failed to encode event"
	}
	return []*types.Log{{Address: s.address, Topics: topics, Data: packed}}, ""
}
