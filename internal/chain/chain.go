// Package chain binds the governance engine to an ERC-20 contract on an
// Ethereum JSON-RPC node. The custody key held by the service signs every
// token movement and every approved proposal call.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/stheg/dao-market-referrals-program/internal/config"
)

const defaultReceiptTimeout = 2 * time.Minute

var (
	ErrReverted       = errors.New("transaction reverted")
	ErrMissingKey     = errors.New("custody key not set")
	ErrTransferFailed = errors.New("token returned false")
)

// Backend is the subset of *ethclient.Client the service needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client signs and sends transactions from the custody account.
type Client struct {
	Backend        Backend
	Key            *ecdsa.PrivateKey
	From           common.Address
	ChainID        *big.Int
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// NewClient derives the sender from key and reads the chain id from backend.
func NewClient(ctx context.Context, backend Backend, key *ecdsa.PrivateKey) (*Client, error) {
	if key == nil {
		return nil, ErrMissingKey
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return &Client{
		Backend:        backend,
		Key:            key,
		From:           crypto.PubkeyToAddress(key.PublicKey),
		ChainID:        chainID,
		ReceiptTimeout: defaultReceiptTimeout,
		PollInterval:   time.Second,
	}, nil
}

// Close releases the backend connection when the backend holds one, as
// *ethclient.Client does.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if closer, ok := c.Backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Dial connects to cfg.RPCURL and loads the custody key from the
// environment variable named by cfg.KeyEnv.
func Dial(ctx context.Context, cfg config.ChainConfig) (*Client, error) {
	key, err := LoadKey(cfg.KeyEnv)
	if err != nil {
		return nil, err
	}
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	c, err := NewClient(ctx, ec, key)
	if err != nil {
		ec.Close()
		return nil, err
	}
	if cfg.ReceiptTimeout > 0 {
		c.ReceiptTimeout = cfg.ReceiptTimeout
	}
	return c, nil
}

// LoadKey reads a hex private key from the named environment variable.
func LoadKey(env string) (*ecdsa.PrivateKey, error) {
	raw := strings.TrimSpace(os.Getenv(env))
	if raw == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrMissingKey, env)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse key from %s: %w", env, err)
	}
	return key, nil
}

// Call runs a read-only call against the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.Backend.CallContract(ctx, ethereum.CallMsg{From: c.From, To: &to, Data: data}, nil)
}

// Send signs a legacy transaction carrying data to the given address and
// waits for its receipt. A receipt with failed status is ErrReverted.
func (c *Client) Send(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	nonce, err := c.Backend.PendingNonceAt(ctx, c.From)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gas, err := c.Backend.EstimateGas(ctx, ethereum.CallMsg{From: c.From, To: &to, Data: data})
	if err != nil {
		// estimation runs the call, so a revert surfaces here first
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.ChainID), c.Key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := c.Backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, signed.Hash().Hex())
	}
	return receipt, nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	timeout := c.ReceiptTimeout
	if timeout <= 0 {
		timeout = defaultReceiptTimeout
	}
	interval := c.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, err := c.Backend.TransactionReceipt(ctx, hash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
