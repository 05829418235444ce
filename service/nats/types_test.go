package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/nodedash/service/transfer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTransaction() transfer.Transaction {
	return transfer.Transaction{
		ID:               "TX-1",
		Sender:           1,
		Recipient:        2,
		SenderAddress:    "SenderAddr111",
		RecipientAddress: "RecipientAddr222",
		Amount:           decimal.RequireFromString("250.5"),
		SenderEmail:      "alice@example.com",
		RecipientEmail:   "bob@example.com",
		Timestamp:        time.Date(2025, 1, 2, 10, 30, 45, 0, time.UTC),
		Origin:           transfer.OriginLocal,
	}
}

func TestFromTransaction(t *testing.T) {
	event := FromTransaction(sampleTransaction())

	assert.Equal(t, "TX-1", event.ID)
	assert.Equal(t, 2, event.Recipient)
	assert.Equal(t, "txns.RecipientAddr222", event.Subject())
	assert.Equal(t, "local", event.Origin)
	assert.False(t, event.PublishedAt.IsZero())

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "alice@example.com")
	assert.Contains(t, string(data), `"amount":"250.5"`)
}

func TestTransactionEvent_Transaction(t *testing.T) {
	txn := FromTransaction(sampleTransaction()).Transaction()

	assert.Equal(t, "TX-1", txn.ID)
	assert.Equal(t, 1, txn.Sender)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("250.5")))
	assert.Equal(t, transfer.OriginRemote, txn.Origin)
	assert.Empty(t, txn.SenderEmail)
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, m.PublishTransaction(ctx, FromTransaction(sampleTransaction())))
	assert.Equal(t, 1, m.GetPublishedEventCount())
	assert.Len(t, m.GetPublishedEventsForRecipient("RecipientAddr222"), 1)
	assert.Empty(t, m.GetPublishedEventsForRecipient("nobody"))

	m.SetPublishError(errors.New("nats down"))
	assert.Error(t, m.PublishTransaction(ctx, FromTransaction(sampleTransaction())))
	assert.Equal(t, 1, m.GetPublishedEventCount())

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}
