package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/nodedash/service/registry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User-facing failures. Each leaves all balances unchanged.
var (
	ErrInvalidNode          = errors.New("invalid nodes selected")
	ErrSameNode             = errors.New("sender and recipient cannot be the same")
	ErrInvalidEmail         = errors.New("a valid email address is required")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrDuplicateTransaction = errors.New("transaction already exists")
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Amount limits, checked before any balance comparison.
const (
	MaxAmountDecimals      = 8
	MaxAmountIntegerDigits = 20
)

// Origin records where a transaction came from.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Transaction is an applied transfer. Never mutated once created.
type Transaction struct {
	ID               string          `json:"id"`
	Sender           int             `json:"sender"`
	Recipient        int             `json:"recipient"`
	SenderAddress    string          `json:"sender_address"`
	RecipientAddress string          `json:"recipient_address"`
	Amount           decimal.Decimal `json:"amount"`
	SenderEmail      string          `json:"sender_email,omitempty"`
	RecipientEmail   string          `json:"recipient_email,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	Origin           Origin          `json:"origin"`
}

// Request is a transfer as submitted by a user. Sender and Recipient are
// node references accepted by registry.Resolve.
type Request struct {
	ID             string
	Sender         string
	Recipient      string
	Amount         decimal.Decimal
	SenderEmail    string
	RecipientEmail string
}

// Options tune validation.
type Options struct {
	// RequireEmails rejects requests without both email addresses.
	RequireEmails bool
}

// Simulator validates and applies balance transfers between registry nodes
// and keeps the append-only transaction log.
type Simulator struct {
	registry *registry.Registry
	now      func() time.Time
	logger   *slog.Logger

	// mu serializes validate+apply+append so a duplicate id can never be
	// applied twice.
	mu     sync.Mutex
	ledger *Ledger
}

// NewSimulator creates a Simulator. A nil now uses time.Now.
func NewSimulator(reg *registry.Registry, now func() time.Time, logger *slog.Logger) *Simulator {
	if now == nil {
		now = time.Now
	}
	return &Simulator{
		registry: reg,
		now:      now,
		logger:   logger,
		ledger:   NewLedger(),
	}
}

// Ledger returns the transaction log.
func (s *Simulator) Ledger() *Ledger {
	return s.ledger
}

// Transfer validates req and, if valid, moves the balance and records the
// transaction. On any error nothing changes.
func (s *Simulator) Transfer(ctx context.Context, req Request, opts Options) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}

	sender := strings.TrimSpace(req.Sender)
	recipient := strings.TrimSpace(req.Recipient)
	if sender != "" && strings.EqualFold(sender, recipient) {
		return Transaction{}, ErrSameNode
	}

	src, err := s.registry.Resolve(sender)
	if err != nil {
		return Transaction{}, fmt.Errorf("sender %q: %w", sender, ErrInvalidNode)
	}
	dst, err := s.registry.Resolve(recipient)
	if err != nil {
		return Transaction{}, fmt.Errorf("recipient %q: %w", recipient, ErrInvalidNode)
	}
	if src.ID == dst.ID {
		return Transaction{}, ErrSameNode
	}

	if err := validateEmails(req.SenderEmail, req.RecipientEmail, opts.RequireEmails); err != nil {
		return Transaction{}, err
	}

	if !ValidAmount(req.Amount) {
		return Transaction{}, ErrInvalidAmount
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = "TX-" + uuid.NewString()
	}

	txn := Transaction{
		ID:               id,
		Sender:           src.ID,
		Recipient:        dst.ID,
		SenderAddress:    src.Address,
		RecipientAddress: dst.Address,
		Amount:           req.Amount,
		SenderEmail:      strings.TrimSpace(req.SenderEmail),
		RecipientEmail:   strings.TrimSpace(req.RecipientEmail),
		Timestamp:        s.now().UTC(),
		Origin:           OriginLocal,
	}

	if err := s.apply(txn); err != nil {
		return Transaction{}, err
	}

	s.logger.InfoContext(ctx, "transfer applied",
		"id", txn.ID,
		"sender", txn.Sender,
		"recipient", txn.Recipient,
		"amount", txn.Amount.String(),
	)
	return txn, nil
}

// Replay applies a transaction received from the event feed. It goes through
// the same balance checks as Transfer; a transaction whose id is already in
// the ledger is skipped and reported as applied=false with no error.
func (s *Simulator) Replay(ctx context.Context, txn Transaction) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if txn.ID == "" {
		return false, errors.New("replayed transaction has no id")
	}
	if txn.Sender == txn.Recipient {
		return false, ErrSameNode
	}
	if !ValidAmount(txn.Amount) {
		return false, ErrInvalidAmount
	}

	src, err := s.registry.Get(txn.Sender)
	if err != nil {
		return false, fmt.Errorf("sender %d: %w", txn.Sender, ErrInvalidNode)
	}
	dst, err := s.registry.Get(txn.Recipient)
	if err != nil {
		return false, fmt.Errorf("recipient %d: %w", txn.Recipient, ErrInvalidNode)
	}

	txn.SenderAddress = src.Address
	txn.RecipientAddress = dst.Address
	txn.Origin = OriginRemote
	if txn.Timestamp.IsZero() {
		txn.Timestamp = s.now().UTC()
	}

	if err := s.apply(txn); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			s.logger.DebugContext(ctx, "skipping replayed duplicate", "id", txn.ID)
			return false, nil
		}
		return false, err
	}

	s.logger.InfoContext(ctx, "transfer replayed",
		"id", txn.ID,
		"sender", txn.Sender,
		"recipient", txn.Recipient,
		"amount", txn.Amount.String(),
	)
	return true, nil
}

func (s *Simulator) apply(txn Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ledger.Has(txn.ID) {
		return fmt.Errorf("%s: %w", txn.ID, ErrDuplicateTransaction)
	}

	if err := s.registry.ApplyTransfer(txn.Sender, txn.Recipient, txn.Amount); err != nil {
		switch {
		case errors.Is(err, registry.ErrInsufficientBalance):
			return ErrInsufficientBalance
		case errors.Is(err, registry.ErrSameNode):
			return ErrSameNode
		case errors.Is(err, registry.ErrNodeNotFound):
			return ErrInvalidNode
		default:
			return err
		}
	}

	s.ledger.append(txn)
	return nil
}

// ValidAmount reports whether amount is positive and within the supported
// precision and magnitude.
func ValidAmount(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	exp := int64(amount.Exponent())
	if exp < -MaxAmountDecimals {
		return false
	}
	return int64(amount.NumDigits())+exp <= MaxAmountIntegerDigits
}

func validateEmails(sender, recipient string, required bool) error {
	for _, email := range []string{sender, recipient} {
		email = strings.TrimSpace(email)
		if email == "" {
			if required {
				return ErrInvalidEmail
			}
			continue
		}
		if !ValidEmail(email) {
			return ErrInvalidEmail
		}
	}
	return nil
}

// ValidEmail reports whether email looks like local@domain.tld.
func ValidEmail(email string) bool {
	return emailRegex.MatchString(strings.ToLower(email))
}
