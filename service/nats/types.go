package nats

import (
	"time"

	"github.com/brojonat/nodedash/service/transfer"
	"github.com/shopspring/decimal"
)

// TransactionEvent represents a transfer published to NATS.
// This is published to the subject "txns.{recipient_address}" in JetStream.
type TransactionEvent struct {
	ID string `json:"id"`

	// Node information
	Sender           int    `json:"sender"`
	Recipient        int    `json:"recipient"`
	SenderAddress    string `json:"sender_address"`
	RecipientAddress string `json:"recipient_address"` // subject token

	Amount decimal.Decimal `json:"amount"`
	Origin string          `json:"origin"`

	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// FromTransaction converts an applied transfer to a TransactionEvent for publishing.
// Email addresses stay local and are not published.
func FromTransaction(txn transfer.Transaction) *TransactionEvent {
	return &TransactionEvent{
		ID:               txn.ID,
		Sender:           txn.Sender,
		Recipient:        txn.Recipient,
		SenderAddress:    txn.SenderAddress,
		RecipientAddress: txn.RecipientAddress,
		Amount:           txn.Amount,
		Origin:           string(txn.Origin),
		Timestamp:        txn.Timestamp,
		PublishedAt:      time.Now().UTC(),
	}
}

// Transaction converts the event back into a transfer so subscribers can
// replay it.
func (e *TransactionEvent) Transaction() transfer.Transaction {
	return transfer.Transaction{
		ID:               e.ID,
		Sender:           e.Sender,
		Recipient:        e.Recipient,
		SenderAddress:    e.SenderAddress,
		RecipientAddress: e.RecipientAddress,
		Amount:           e.Amount,
		Timestamp:        e.Timestamp,
		Origin:           transfer.OriginRemote,
	}
}

// Subject returns the subject the event is published on.
func (e *TransactionEvent) Subject() string {
	return SubjectPrefix + e.RecipientAddress
}
