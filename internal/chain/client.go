// internal/chain/client.go
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
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"reliefledger/internal/domain"
)

type Config struct {
	RPCURL       string
	ChainID      *big.Int
	GasLimit     uint64
	MaxGasPrice  *big.Int
	ReceiptWait  time.Duration
	PollInterval time.Duration
}

// Client wraps JSON-RPC access to the ledger network. All failures surface
// as domain.ErrLedgerUnavailable; a single RPC failure must never crash a
// caller.
type Client struct {
	eth    *ethclient.Client
	logger *zap.Logger
	cfg    Config
}

func Dial(ctx context.Context, rpcURL string, logger *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrLedgerUnavailable, rpcURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", domain.ErrLedgerUnavailable, err)
	}

	cfg := Config{
		RPCURL:       rpcURL,
		ChainID:      chainID,
		GasLimit:     90000, // transfer plus a short memo payload
		MaxGasPrice:  big.NewInt(100e9),
		ReceiptWait:  90 * time.Second,
		PollInterval: 3 * time.Second,
	}

	logger.Info("ledger client initialized",
		zap.String("rpc", rpcURL),
		zap.String("chain_id", chainID.String()))

	return &Client{eth: eth, logger: logger, cfg: cfg}, nil
}

func (c *Client) unavailable(stage string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrLedgerUnavailable, stage, err)
}

// Balance returns the native-token balance of an address in wei.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, c.unavailable("balance", err)
	}
	return bal, nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, c.unavailable("latest block", err)
	}
	return n, nil
}

// BlockByNumber fetches a block with full transaction bodies.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	block, err := c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, c.unavailable(fmt.Sprintf("block %d", number), err)
	}
	return block, nil
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, c.unavailable("receipt", err)
	}
	return receipt, nil
}

// Sender recovers the from-address of a transaction.
func (c *Client) Sender(tx *types.Transaction) (string, error) {
	sender, err := types.Sender(types.LatestSignerForChainID(c.cfg.ChainID), tx)
	if err != nil {
		return "", fmt.Errorf("failed to recover sender: %w", err)
	}
	return sender.Hex(), nil
}

// SignAndSend signs and submits a transfer carrying the memo as calldata and
// returns the transaction hash.
func (c *Client) SignAndSend(ctx context.Context, privateKeyHex, to string, amountWei *big.Int, memo []byte) (string, error) {
	if privateKeyHex == "" {
		return "", domain.ErrSigningUnavailable
	}

	key, from, err := parseSigningKey(privateKeyHex)
	if err != nil {
		return "", err
	}

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", c.unavailable("nonce", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", c.unavailable("gas price", err)
	}
	if gasPrice.Cmp(c.cfg.MaxGasPrice) > 0 {
		gasPrice = c.cfg.MaxGasPrice
	}

	tx := types.NewTransaction(nonce, common.HexToAddress(to), amountWei, c.cfg.GasLimit, gasPrice, memo)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.cfg.ChainID), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return "", c.unavailable("send", err)
	}

	txHash := signedTx.Hash().Hex()
	c.logger.Info("transaction submitted",
		zap.String("tx_hash", txHash),
		zap.String("to", to),
		zap.String("gas_price", gasPrice.String()))

	return txHash, nil
}

// WaitForReceipt polls until the transaction is mined or the bounded wait
// expires. This is the one deliberately slow path: explicit payments block
// here while the caller shows a processing state.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	hash := common.HexToHash(txHash)

	deadline := time.NewTimer(c.cfg.ReceiptWait)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Warn("receipt lookup failed",
				zap.String("tx_hash", txHash),
				zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return nil, fmt.Errorf("%w: no receipt for %s after %s", domain.ErrLedgerUnavailable, txHash, c.cfg.ReceiptWait)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
