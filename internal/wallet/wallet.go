// Package wallet broadcasts swap transactions produced by the aggregator
// and waits for their confirmation.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrTxReverted is returned by WaitMined when the transaction was included
// but its receipt reports failure.
var ErrTxReverted = errors.New("wallet: transaction reverted")

// receiptPollInterval is how often WaitMined polls for a receipt.
const receiptPollInterval = 3 * time.Second

// Wallet signs and broadcasts transactions from one externally owned
// account over a JSON-RPC connection.
type Wallet struct {
	rpc        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// New dials the RPC endpoint and derives the wallet address from the
// hex-encoded private key.
func New(rpcURL, privateKeyHex string, chainID int64) (*Wallet, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("wallet: dial RPC: %w", err)
	}

	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("wallet: parse private key: %w", err)
	}

	return &Wallet{
		rpc:        rpc,
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// Address returns the wallet's account address.
func (w *Wallet) Address() common.Address { return w.address }

// Close releases the RPC connection.
func (w *Wallet) Close() { w.rpc.Close() }

// Broadcast signs a transaction carrying the aggregator's calldata and
// submits it, returning the transaction hash. Gas settings come from the
// quote when present; zero gas or gasPrice falls back to node estimates.
func (w *Wallet) Broadcast(ctx context.Context, to common.Address, data []byte, value *big.Int, gas uint64, gasPrice *big.Int) (string, error) {
	nonce, err := w.rpc.PendingNonceAt(ctx, w.address)
	if err != nil {
		return "", fmt.Errorf("wallet: get nonce: %w", err)
	}

	if gasPrice == nil || gasPrice.Sign() == 0 {
		gasPrice, err = w.rpc.SuggestGasPrice(ctx)
		if err != nil {
			return "", fmt.Errorf("wallet: suggest gas price: %w", err)
		}
	}
	if gas == 0 {
		gas, err = w.rpc.EstimateGas(ctx, toCallMsg(w.address, to, data, value, gasPrice))
		if err != nil {
			return "", fmt.Errorf("wallet: estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(w.chainID), w.privateKey)
	if err != nil {
		return "", fmt.Errorf("wallet: sign tx: %w", err)
	}

	if err := w.rpc.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("wallet: send tx: %w", err)
	}

	return signed.Hash().Hex(), nil
}

// WaitMined polls for the receipt of txHash until the transaction is
// included or ctx is done. The caller bounds the wait through ctx.
func (w *Wallet) WaitMined(ctx context.Context, txHash string) (*types.Receipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.rpc.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", ErrTxReverted, txHash)
			}
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("wallet: receipt %s: %w", txHash, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wallet: waiting for %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func toCallMsg(from, to common.Address, data []byte, value, gasPrice *big.Int) ethereum.CallMsg {
	return ethereum.CallMsg{
		From:     from,
		To:       &to,
		Value:    value,
		GasPrice: gasPrice,
		Data:     data,
	}
}
