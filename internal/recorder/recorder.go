// internal/recorder/recorder.go
package recorder

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reliefledger/internal/amount"
	"reliefledger/internal/domain"
)

// ChainSubmitter is the slice of the ledger client the recorder needs.
type ChainSubmitter interface {
	SignAndSend(ctx context.Context, privateKeyHex, to string, amountWei *big.Int, memo []byte) (string, error)
	WaitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
}

// Recorder turns a logical payment event into a canonical transaction
// record. When a signing key and chain access are available it submits a
// real transfer and waits for confirmation; otherwise it derives a stable
// fallback hash so every payment still gets a unique identifier. Stateless
// across calls.
type Recorder struct {
	chain      ChainSubmitter // nil when no RPC endpoint is configured
	signingKey string
	fundWallet string
	clock      func() time.Time
	logger     *zap.Logger
}

func New(chain ChainSubmitter, signingKey, fundWallet string, logger *zap.Logger) *Recorder {
	return &Recorder{
		chain:      chain,
		signingKey: signingKey,
		fundWallet: fundWallet,
		clock:      time.Now,
		logger:     logger,
	}
}

func (r *Recorder) Record(ctx context.Context, p domain.Payment, sendReal bool) (domain.TransactionRecord, error) {
	if p.Amount <= 0 {
		return domain.TransactionRecord{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidPayment)
	}
	if p.ExternalRef == "" {
		return domain.TransactionRecord{}, fmt.Errorf("%w: external reference is required", domain.ErrInvalidPayment)
	}

	now := r.clock().UTC()
	rec := domain.TransactionRecord{
		ID:            uuid.New().String(),
		Donor:         donorLabel(p.PayerName),
		Region:        regionLabel(p.Region),
		Amount:        amount.Format(decimal.NewFromFloat(p.Amount), "₹"),
		Status:        domain.TxStatusPending,
		Timestamp:     now,
		PaymentRef:    p.ExternalRef,
		PaymentMethod: p.Method,
		FiatAmount:    fmt.Sprintf("%.2f", p.Amount),
		PayerContact:  p.PayerContact,
		Description:   p.Description,
	}

	if sendReal && r.signingKey != "" && r.chain != nil {
		if hash, block, status, ok := r.submit(ctx, p); ok {
			rec.Hash = hash
			rec.Status = status
			rec.BlockNumber = block
			return rec, nil
		}
	}

	rec.Hash = FallbackHash(p.ExternalRef, p.Amount, now)
	return rec, nil
}

// submit sends the transfer and blocks until a receipt is obtained or the
// bounded wait expires. Submission errors downgrade to the fallback path;
// a submitted-but-unconfirmed transaction keeps its real hash and stays
// pending.
func (r *Recorder) submit(ctx context.Context, p domain.Payment) (string, *int64, domain.TxStatus, bool) {
	memo := []byte(fmt.Sprintf("AID|%s|%.2f|%s", p.ExternalRef, p.Amount, p.Region))

	txHash, err := r.chain.SignAndSend(ctx, r.signingKey, r.fundWallet, big.NewInt(0), memo)
	if err != nil {
		r.logger.Warn("chain submission failed, using derived hash",
			zap.String("ref", p.ExternalRef),
			zap.Error(err))
		return "", nil, "", false
	}

	receipt, err := r.chain.WaitForReceipt(ctx, txHash)
	if err != nil {
		r.logger.Info("transaction submitted but unconfirmed, leaving pending",
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return txHash, nil, domain.TxStatusPending, true
	}

	block := receipt.BlockNumber.Int64()
	if receipt.Status == types.ReceiptStatusSuccessful {
		return txHash, &block, domain.TxStatusVerified, true
	}

	r.logger.Warn("transaction reverted on chain", zap.String("tx_hash", txHash))
	return txHash, &block, domain.TxStatusPending, true
}

// FallbackHash derives a stable transaction hash for payments that never
// reached the chain. The timestamp is part of the input, so two payments
// with identical reference and amount still get distinct hashes.
func FallbackHash(externalRef string, amt float64, ts time.Time) string {
	seed := fmt.Sprintf("%s|%.2f|%d", externalRef, amt, ts.UnixNano())
	return crypto.Keccak256Hash([]byte(seed)).Hex()
}

func donorLabel(payerName string) string {
	if payerName == "" {
		return "Anonymous Donor"
	}
	return payerName
}

func regionLabel(region string) string {
	if region == "" {
		return "Multiple Regions"
	}
	return region
}
