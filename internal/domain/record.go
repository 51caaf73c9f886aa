// internal/domain/record.go
package domain

import "time"

// TxStatus represents the confirmation status of an aid transaction
type TxStatus string

const (
	TxStatusPending  TxStatus = "pending"
	TxStatusVerified TxStatus = "verified"
)

// TransactionRecord is the canonical unit of the aid ledger. Hash is the
// dedup key: either a real chain transaction hash or a deterministic hash
// derived from the payment reference when no chain submission happened. Two
// records with the same hash are the same logical event.
type TransactionRecord struct {
	ID          string    `bson:"txnId" json:"id"`
	Donor       string    `bson:"donor" json:"donor"`
	Region      string    `bson:"region" json:"region"`
	Amount      string    `bson:"amount" json:"amount"`
	Hash        string    `bson:"hash" json:"hash"`
	Status      TxStatus  `bson:"status" json:"status"`
	BlockNumber *int64    `bson:"blockNumber,omitempty" json:"blockNumber,omitempty"`
	Timestamp   time.Time `bson:"timestamp" json:"timestamp"`

	// Persistence-only fields, never part of the public ledger view
	PaymentRef    string `bson:"paymentRef,omitempty" json:"-"`
	PaymentMethod string `bson:"paymentMethod,omitempty" json:"-"`
	FiatAmount    string `bson:"fiatAmount,omitempty" json:"-"`
	PayerContact  string `bson:"payerContact,omitempty" json:"-"`
	Description   string `bson:"description,omitempty" json:"-"`
}

// Payment is a logical payment event entering through the explicit path.
// Validation of payer claims happens upstream; only amount and external
// reference are required here.
type Payment struct {
	Amount       float64
	ExternalRef  string
	PayerName    string
	PayerContact string
	Region       string
	Description  string
	Method       string
}
