package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher sends applied transfers to NATS.
type Publisher interface {
	// PublishTransaction publishes event on "txns.{recipient_address}".
	PublishTransaction(ctx context.Context, event *TransactionEvent) error

	Close() error
}

const (
	StreamName     = "TRANSACTIONS"
	StreamSubjects = "txns.*"
	SubjectPrefix  = "txns."

	// StreamRetention bounds how long simulated transfers are kept.
	StreamRetention = 24 * time.Hour

	// DuplicateWindow is how long JetStream remembers a transaction id.
	DuplicateWindow = 10 * time.Minute
)

// JetStreamPublisher publishes transfers to an in-memory JetStream stream.
// Each message carries the transaction id as its Nats-Msg-Id, so the server
// drops a transfer published twice within DuplicateWindow.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewPublisher connects to natsURL and creates or updates the stream.
func NewPublisher(natsURL string, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("nodedash-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(ctx, StreamConfig()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream %s: %w", StreamName, err)
	}

	logger.Info("NATS publisher initialized", "url", natsURL, "stream", StreamName)
	return &JetStreamPublisher{nc: nc, js: js, logger: logger}, nil
}

// StreamConfig is the stream the dashboard publishes into.
func StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Simulated transfers between dashboard nodes",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.MemoryStorage,
		Replicas:    1,
	}
}

// NewMsg encodes event as a JetStream message.
func NewMsg(event *TransactionEvent) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction event: %w", err)
	}
	msg := nats.NewMsg(event.Subject())
	msg.Header.Set(nats.MsgIdHdr, event.ID)
	msg.Data = data
	return msg, nil
}

func (p *JetStreamPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	msg, err := NewMsg(event)
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to publish transaction %s: %w", event.ID, err)
	}
	if ack.Duplicate {
		p.logger.Warn("stream already had transaction", "id", event.ID, "seq", ack.Sequence)
		return nil
	}

	p.logger.Debug("published transaction event",
		"subject", msg.Subject,
		"id", event.ID,
		"seq", ack.Sequence,
	)
	return nil
}

// Close closes the NATS connection.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
