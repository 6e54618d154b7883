package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// Event is a decoded contract log. The concrete type tells which event it is.
type Event interface {
	EventName() string
}

type BatchCreatedEvent struct {
	BatchID    uint64
	Owner      string
	OriginHash string
	Timestamp  time.Time
}

func (BatchCreatedEvent) EventName() string { return EventBatchCreated }

type BatchTransferredEvent struct {
	BatchID      uint64
	From         string
	To           string
	TotalPrice   *big.Int
	TransferHash string
	Timestamp    time.Time
}

func (BatchTransferredEvent) EventName() string { return EventBatchTransferred }

// Records reports whether the event is the ledger's record of op: same batch,
// transfer hash and total in minor units, and the same recipient when op names one.
func (e BatchTransferredEvent) Records(op TransferBatch) bool {
	if e.BatchID != op.BatchID || e.TransferHash != op.TransferHash {
		return false
	}
	if e.TotalPrice == nil || e.TotalPrice.Cmp(ToUnits(op.TotalPrice, PriceScale)) != 0 {
		return false
	}
	if op.To != "" && common.HexToAddress(e.To) != common.HexToAddress(op.To) {
		return false
	}
	return true
}

type StakeholderRegisteredEvent struct {
	Account string
	Role    uint8
	Name    string
}

func (StakeholderRegisteredEvent) EventName() string { return EventStakeholderRegistered }

// UnknownEvent is a log that does not belong to the contract ABI.
type UnknownEvent struct {
	Address string
	Topic   string
}

func (UnknownEvent) EventName() string { return "" }

// decodeLog turns a raw log into a typed event. Logs whose first topic does
// not match a contract event decode to UnknownEvent without error.
func decodeLog(contract abi.ABI, log *types.Log) (Event, error) {
	unknown := UnknownEvent{Address: log.Address.Hex()}
	if len(log.Topics) == 0 {
		return unknown, nil
	}
	unknown.Topic = log.Topics[0].Hex()

	ev, err := contract.EventByID(log.Topics[0])
	if err != nil {
		return unknown, nil
	}

	values := map[string]any{}
	if len(log.Data) > 0 {
		if err := ev.Inputs.NonIndexed().UnpackIntoMap(values, log.Data); err != nil {
			return nil, errors.Wrapf(err, "failed to unpack %s data", ev.Name)
		}
	}

	var indexed abi.Arguments
	for _, input := range ev.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s topics", ev.Name)
	}

	d := mapDecoder{values: values}
	var out Event
	switch ev.Name {
	case EventBatchCreated:
		out = BatchCreatedEvent{
			BatchID:    d.uint64("batchId"),
			Owner:      d.address("owner"),
			OriginHash: d.hash("originHash"),
			Timestamp:  d.time("timestamp"),
		}
	case EventBatchTransferred:
		out = BatchTransferredEvent{
			BatchID:      d.uint64("batchId"),
			From:         d.address("from"),
			To:           d.address("to"),
			TotalPrice:   d.bigInt("totalPrice"),
			TransferHash: d.hash("transferHash"),
			Timestamp:    d.time("timestamp"),
		}
	case EventStakeholderRegistered:
		out = StakeholderRegisteredEvent{
			Account: d.address("account"),
			Role:    d.uint8("role"),
			Name:    d.string("name"),
		}
	default:
		return unknown, nil
	}

	if d.err != nil {
		return nil, errors.Wrapf(d.err, "malformed %s event", ev.Name)
	}
	return out, nil
}

// mapDecoder reads typed values from an unpacked ABI map and keeps the first
// type mismatch.
type mapDecoder struct {
	values map[string]any
	err    error
}

func (d *mapDecoder) fail(key string) {
	if d.err == nil {
		d.err = errors.Errorf("field %s has unexpected type %T", key, d.values[key])
	}
}

func (d *mapDecoder) bigInt(key string) *big.Int {
	v, ok := d.values[key].(*big.Int)
	if !ok {
		d.fail(key)
		return new(big.Int)
	}
	return v
}

func (d *mapDecoder) uint64(key string) uint64 {
	v := d.bigInt(key)
	if !v.IsUint64() {
		d.fail(key)
		return 0
	}
	return v.Uint64()
}

func (d *mapDecoder) uint8(key string) uint8 {
	v, ok := d.values[key].(uint8)
	if !ok {
		d.fail(key)
	}
	return v
}

func (d *mapDecoder) string(key string) string {
	v, ok := d.values[key].(string)
	if !ok {
		d.fail(key)
	}
	return v
}

func (d *mapDecoder) address(key string) string {
	v, ok := d.values[key].(common.Address)
	if !ok {
		d.fail(key)
		return ""
	}
	return v.Hex()
}

func (d *mapDecoder) hash(key string) string {
	v, ok := d.values[key].([32]byte)
	if !ok {
		d.fail(key)
		return ""
	}
	return Bytes32ToHash(v)
}

func (d *mapDecoder) time(key string) time.Time {
	return time.Unix(d.bigInt(key).Int64(), 0).UTC()
}
