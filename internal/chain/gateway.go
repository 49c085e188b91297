package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// GatewayConfig holds RPC retry and polling settings.
type GatewayConfig struct {
	PollInterval time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Gateway submits signed transactions and reads receipts and views. Transient
// RPC failures are retried here; sending a transaction is attempted once.
type Gateway struct {
	client *Client
	cfg    GatewayConfig
	logger *zap.Logger
}

// NewGateway builds a Gateway over a connected client.
func NewGateway(client *Client, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Gateway{client: client, cfg: cfg, logger: logger}
}

// ChainID returns the chain ID of the connected network.
func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	var chainID *big.Int
	err := g.retry(ctx, "chain id", func(ctx context.Context) error {
		var err error
		chainID, err = g.client.ChainID(ctx)
		return err
	})
	return chainID, err
}

// Submit signs and broadcasts a call (to != nil) or a contract creation
// (to == nil). Gas estimation reverts surface as *RevertError.
func (g *Gateway) Submit(ctx context.Context, signer *Signer, to *common.Address, data []byte) (PendingTx, error) {
	if signer == nil {
		return PendingTx{}, fmt.Errorf("signer is nil")
	}
	from := signer.Address()

	var nonce uint64
	if err := g.retry(ctx, "pending nonce", func(ctx context.Context) error {
		var err error
		nonce, err = g.client.PendingNonceAt(ctx, from)
		return err
	}); err != nil {
		return PendingTx{}, fmt.Errorf("get nonce: %w", err)
	}

	var gasPrice *big.Int
	if err := g.retry(ctx, "gas price", func(ctx context.Context) error {
		var err error
		gasPrice, err = g.client.SuggestGasPrice(ctx)
		return err
	}); err != nil {
		return PendingTx{}, fmt.Errorf("get gas price: %w", err)
	}

	var gasLimit uint64
	msg := ethereum.CallMsg{From: from, To: to, GasPrice: gasPrice, Data: data}
	if err := g.retry(ctx, "estimate gas", func(ctx context.Context) error {
		var err error
		gasLimit, err = g.client.EstimateGas(ctx, msg)
		return classifyRevert(err)
	}); err != nil {
		return PendingTx{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := signer.SignTx(tx)
	if err != nil {
		return PendingTx{}, err
	}
	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return PendingTx{}, fmt.Errorf("send tx: %w", err)
	}

	pending := PendingTx{
		Hash:        signed.Hash(),
		From:        from,
		To:          to,
		Nonce:       nonce,
		SubmittedAt: time.Now().UTC(),
	}
	if to == nil {
		pending.ContractAddress = crypto.CreateAddress(from, nonce)
	}

	g.logger.Debug("tx submitted",
		zap.String("tx", pending.Hash.Hex()),
		zap.String("from", from.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gasLimit),
	)
	return pending, nil
}

// AwaitMined polls for the receipt until it exists or ctx ends.
func (g *Gateway) AwaitMined(ctx context.Context, pending PendingTx) (*types.Receipt, error) {
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(ctx, pending.Hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			g.logger.Warn("receipt poll failed", zap.String("tx", pending.Hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Receipt fetches the receipt of a mined transaction.
func (g *Gateway) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := g.retry(ctx, "receipt", func(ctx context.Context) error {
		var err error
		receipt, err = g.client.TransactionReceipt(ctx, txHash)
		return err
	})
	return receipt, err
}

// Call runs a read-only eth_call against the latest block.
func (g *Gateway) Call(ctx context.Context, from common.Address, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	msg := ethereum.CallMsg{From: from, To: &to, Data: data}
	err := g.retry(ctx, "call", func(ctx context.Context) error {
		var err error
		out, err = g.client.CallContract(ctx, msg, nil)
		return classifyRevert(err)
	})
	return out, err
}

// FilterLogs returns logs of addresses in [fromBlock, toBlock].
func (g *Gateway) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	var logs []types.Log
	err := g.retry(ctx, "filter logs", func(ctx context.Context) error {
		var err error
		logs, err = g.client.FilterLogs(ctx, fromBlock, toBlock, addresses, topic0)
		return err
	})
	return logs, err
}

// LatestBlockNumber returns the chain head.
func (g *Gateway) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := g.retry(ctx, "latest block", func(ctx context.Context) error {
		var err error
		number, err = g.client.LatestBlockNumber(ctx)
		return err
	})
	return number, err
}

// BlockTimestamp returns a block's timestamp.
func (g *Gateway) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	var ts uint64
	err := g.retry(ctx, "block timestamp", func(ctx context.Context) error {
		var err error
		ts, err = g.client.BlockTimestamp(ctx, number)
		return err
	})
	return ts, err
}

func (g *Gateway) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	return withRetry(ctx, g.cfg.MaxRetries, g.cfg.RetryBackoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && retryable(err) {
			g.logger.Warn("rpc failed", zap.String("op", op), zap.Error(err))
		}
		return err
	})
}
