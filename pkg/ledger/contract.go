package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ContractABI is the supply chain contract interface shared by every backend.
const ContractABI = `[
  {"type":"function","name":"createBatch","stateMutability":"nonpayable","inputs":[
    {"name":"owner","type":"address"},
    {"name":"productName","type":"string"},
    {"name":"productType","type":"string"},
    {"name":"quantity","type":"uint256"},
    {"name":"harvestDate","type":"uint256"},
    {"name":"expiryDate","type":"uint256"},
    {"name":"basePrice","type":"uint256"},
    {"name":"originHash","type":"bytes32"},
    {"name":"qualityHash","type":"bytes32"}],
   "outputs":[{"name":"batchId","type":"uint256"}]},
  {"type":"function","name":"transferBatch","stateMutability":"nonpayable","inputs":[
    {"name":"batchId","type":"uint256"},
    {"name":"from","type":"address"},
    {"name":"to","type":"address"},
    {"name":"totalPrice","type":"uint256"},
    {"name":"transferHash","type":"bytes32"}],
   "outputs":[]},
  {"type":"function","name":"registerStakeholder","stateMutability":"nonpayable","inputs":[
    {"name":"account","type":"address"},
    {"name":"role","type":"uint8"},
    {"name":"name","type":"string"},
    {"name":"dataHash","type":"bytes32"}],
   "outputs":[]},
  {"type":"event","name":"BatchCreated","anonymous":false,"inputs":[
    {"name":"batchId","type":"uint256","indexed":true},
    {"name":"owner","type":"address","indexed":true},
    {"name":"originHash","type":"bytes32","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"BatchTransferred","anonymous":false,"inputs":[
    {"name":"batchId","type":"uint256","indexed":true},
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"totalPrice","type":"uint256","indexed":false},
    {"name":"transferHash","type":"bytes32","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"StakeholderRegistered","anonymous":false,"inputs":[
    {"name":"account","type":"address","indexed":true},
    {"name":"role","type":"uint8","indexed":false},
    {"name":"name","type":"string","indexed":false}]}
]`

const (
	MethodCreateBatch         = "createBatch"
	MethodTransferBatch       = "transferBatch"
	MethodRegisterStakeholder = "registerStakeholder"

	EventBatchCreated          = "BatchCreated"
	EventBatchTransferred      = "BatchTransferred"
	EventStakeholderRegistered = "StakeholderRegistered"
)

// ParseContract parses ContractABI.
func ParseContract() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(ContractABI))
}
