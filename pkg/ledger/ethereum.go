package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	pkgerrors "github.com/pkg/errors"
)

type EthereumConfig struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	// PrivateKey is the hex-encoded key of the service signing account.
	PrivateKey string
	// GasLimit of zero estimates gas per transaction.
	GasLimit uint64
}

// EthereumBackend talks to an EVM node over JSON-RPC and signs with the
// service account key.
type EthereumBackend struct {
	client   *ethclient.Client
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	signer   types.Signer
	gasLimit uint64
}

func DialEthereum(ctx context.Context, cfg EthereumConfig) (*EthereumBackend, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, pkgerrors.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "invalid ledger private key")
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to dial ledger node %s", cfg.RPCURL)
	}

	return &EthereumBackend{
		client:   client,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(cfg.ContractAddress),
		signer:   types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		gasLimit: cfg.GasLimit,
	}, nil
}

func (b *EthereumBackend) Account() common.Address {
	return b.from
}

func (b *EthereumBackend) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return b.client.PendingNonceAt(ctx, account)
}

func (b *EthereumBackend) Send(ctx context.Context, nonce uint64, data []byte) (common.Hash, error) {
	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, pkgerrors.Wrap(err, "failed to suggest gas price")
	}

	gas := b.gasLimit
	if gas == 0 {
		gas, err = b.client.EstimateGas(ctx, ethereum.CallMsg{From: b.from, To: &b.contract, Data: data})
		if err != nil {
			return common.Hash{}, pkgerrors.Wrap(err, "failed to estimate gas")
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &b.contract,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, b.signer, b.key)
	if err != nil {
		return common.Hash{}, pkgerrors.Wrap(err, "failed to sign transaction")
	}

	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

func (b *EthereumBackend) Receipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	r, err := b.client.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrReceiptPending
	}
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		TxHash:      r.TxHash,
		BlockNumber: r.BlockNumber.Uint64(),
		Logs:        r.Logs,
	}
	if r.Status == types.ReceiptStatusFailed {
		receipt.Reverted = true
		receipt.RevertReason = b.revertReason(ctx, txHash, r.BlockNumber)
	}
	return receipt, nil
}

// revertReason replays the call at the receipt's block. The node only reports
// a reason through the call error, so an empty string means none is available.
func (b *EthereumBackend) revertReason(ctx context.Context, txHash common.Hash, block *big.Int) string {
	tx, _, err := b.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return ""
	}
	_, err = b.client.CallContract(ctx, ethereum.CallMsg{
		From:     b.from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}, block)
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "execution reverted: ")
}

func (b *EthereumBackend) Ping(ctx context.Context) error {
	_, err := b.client.BlockNumber(ctx)
	return err
}

func (b *EthereumBackend) Close() {
	b.client.Close()
}
