package transfer

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/nodedash/service/registry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 1, 2, 10, 30, 45, 0, time.UTC)

func newTestSimulator(t *testing.T, count int) (*Simulator, *registry.Registry) {
	t.Helper()
	reg, err := registry.New(registry.SeedParams{
		Count:          count,
		Host:           "51.158.253.120",
		BasePort:       3000,
		InitialBalance: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewSimulator(reg, func() time.Time { return fixedNow }, logger), reg
}

func balance(t *testing.T, reg *registry.Registry, id int) string {
	t.Helper()
	n, err := reg.Get(id)
	require.NoError(t, err)
	return n.Balance.String()
}

func TestTransfer_MovesBalance(t *testing.T) {
	sim, reg := newTestSimulator(t, 2)

	txn, err := sim.Transfer(context.Background(), Request{
		ID:        "TX-1",
		Sender:    "1",
		Recipient: "2",
		Amount:    decimal.NewFromInt(250),
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "750", balance(t, reg, 1))
	assert.Equal(t, "1250", balance(t, reg, 2))
	assert.True(t, reg.TotalBalance().Equal(decimal.NewFromInt(2000)))

	assert.Equal(t, "TX-1", txn.ID)
	assert.Equal(t, 1, txn.Sender)
	assert.Equal(t, 2, txn.Recipient)
	assert.Equal(t, OriginLocal, txn.Origin)
	assert.Equal(t, fixedNow, txn.Timestamp)
	assert.NotEmpty(t, txn.SenderAddress)

	assert.Equal(t, 1, sim.Ledger().Len())
	assert.Equal(t, "250", sim.Ledger().TotalAmount().String())
}

func TestTransfer_GeneratesID(t *testing.T) {
	sim, _ := newTestSimulator(t, 2)

	txn, err := sim.Transfer(context.Background(), Request{
		Sender:    "node1",
		Recipient: "node2",
		Amount:    decimal.RequireFromString("0.00000001"),
	}, Options{})
	require.NoError(t, err)
	assert.Regexp(t, `^TX-[0-9a-f-]{36}$`, txn.ID)
}

func TestTransfer_ResolvesAddresses(t *testing.T) {
	sim, reg := newTestSimulator(t, 3)
	n3, _ := reg.Get(3)

	txn, err := sim.Transfer(context.Background(), Request{
		Sender:    "node-1",
		Recipient: n3.Address,
		Amount:    decimal.NewFromInt(10),
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, txn.Recipient)
	assert.Equal(t, "1010", balance(t, reg, 3))
}

func TestTransfer_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		opts    Options
		wantErr error
	}{
		{
			name:    "same node",
			req:     Request{Sender: "1", Recipient: "1", Amount: decimal.NewFromInt(1)},
			wantErr: ErrSameNode,
		},
		{
			name:    "same node unknown id",
			req:     Request{Sender: "42", Recipient: "42", Amount: decimal.NewFromInt(1)},
			wantErr: ErrSameNode,
		},
		{
			name:    "same node different spelling",
			req:     Request{Sender: "1", Recipient: "node1", Amount: decimal.NewFromInt(1)},
			wantErr: ErrSameNode,
		},
		{
			name:    "unknown sender",
			req:     Request{Sender: "42", Recipient: "1", Amount: decimal.NewFromInt(1)},
			wantErr: ErrInvalidNode,
		},
		{
			name:    "unknown recipient",
			req:     Request{Sender: "1", Recipient: "nope", Amount: decimal.NewFromInt(1)},
			wantErr: ErrInvalidNode,
		},
		{
			name:    "bad sender email",
			req:     Request{Sender: "1", Recipient: "2", Amount: decimal.NewFromInt(1), SenderEmail: "alice@", RecipientEmail: "bob@example.com"},
			wantErr: ErrInvalidEmail,
		},
		{
			name:    "missing required email",
			req:     Request{Sender: "1", Recipient: "2", Amount: decimal.NewFromInt(1), SenderEmail: "alice@example.com"},
			opts:    Options{RequireEmails: true},
			wantErr: ErrInvalidEmail,
		},
		{
			name:    "zero amount",
			req:     Request{Sender: "1", Recipient: "2", Amount: decimal.Zero},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			req:     Request{Sender: "1", Recipient: "2", Amount: decimal.NewFromInt(-5)},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "too many decimal places",
			req:     Request{Sender: "1", Recipient: "2", Amount: decimal.RequireFromString("0.000000001")},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "huge exponent",
			req:     Request{Sender: "1", Recipient: "2", Amount: decimal.RequireFromString("1e30000000")},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "tiny exponent",
			req:     Request{Sender: "1", Recipient: "2", Amount: decimal.RequireFromString("1e-30000000")},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "insufficient balance",
			req:     Request{Sender: "1", Recipient: "2", Amount: decimal.RequireFromString("1000.00000001")},
			wantErr: ErrInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, reg := newTestSimulator(t, 2)

			_, err := sim.Transfer(context.Background(), tt.req, tt.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, "1000", balance(t, reg, 1))
			assert.Equal(t, "1000", balance(t, reg, 2))
			assert.Equal(t, 0, sim.Ledger().Len())
		})
	}
}

func TestTransfer_DuplicateID(t *testing.T) {
	sim, reg := newTestSimulator(t, 2)
	req := Request{ID: "TX-dup", Sender: "1", Recipient: "2", Amount: decimal.NewFromInt(5)}

	_, err := sim.Transfer(context.Background(), req, Options{})
	require.NoError(t, err)

	_, err = sim.Transfer(context.Background(), req, Options{})
	assert.ErrorIs(t, err, ErrDuplicateTransaction)
	assert.Equal(t, "995", balance(t, reg, 1))
	assert.Equal(t, 1, sim.Ledger().Len())
}

func TestTransfer_CancelledContext(t *testing.T) {
	sim, reg := newTestSimulator(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Transfer(ctx, Request{Sender: "1", Recipient: "2", Amount: decimal.NewFromInt(5)}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "1000", balance(t, reg, 1))
}

func TestTransfer_ConcurrentConservesTotal(t *testing.T) {
	sim, reg := newTestSimulator(t, 3)

	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := i%3 + 1
			to := (i+2)%3 + 1
			_, _ = sim.Transfer(context.Background(), Request{
				Sender:    strconv.Itoa(from),
				Recipient: strconv.Itoa(to),
				Amount:    decimal.NewFromInt(7),
			}, Options{})
		}(i)
	}
	wg.Wait()

	assert.True(t, reg.TotalBalance().Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, 300, sim.Ledger().Len())
}

func TestReplay(t *testing.T) {
	sim, reg := newTestSimulator(t, 2)
	txn := Transaction{ID: "TX-remote", Sender: 2, Recipient: 1, Amount: decimal.NewFromInt(100)}

	applied, err := sim.Replay(context.Background(), txn)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "1100", balance(t, reg, 1))
	assert.Equal(t, "900", balance(t, reg, 2))

	got, ok := sim.Ledger().Get("TX-remote")
	require.True(t, ok)
	assert.Equal(t, OriginRemote, got.Origin)
	assert.Equal(t, fixedNow, got.Timestamp)

	// The same transaction arriving again is ignored.
	applied, err = sim.Replay(context.Background(), txn)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "1100", balance(t, reg, 1))
}

func TestReplay_Rejections(t *testing.T) {
	sim, reg := newTestSimulator(t, 2)

	tests := []struct {
		name    string
		txn     Transaction
		wantErr error
	}{
		{"same node", Transaction{ID: "a", Sender: 1, Recipient: 1, Amount: decimal.NewFromInt(1)}, ErrSameNode},
		{"unknown node", Transaction{ID: "b", Sender: 1, Recipient: 9, Amount: decimal.NewFromInt(1)}, ErrInvalidNode},
		{"bad amount", Transaction{ID: "c", Sender: 1, Recipient: 2, Amount: decimal.Zero}, ErrInvalidAmount},
		{"huge amount", Transaction{ID: "e", Sender: 1, Recipient: 2, Amount: decimal.RequireFromString("1e1000000000")}, ErrInvalidAmount},
		{"sub-satoshi amount", Transaction{ID: "f", Sender: 1, Recipient: 2, Amount: decimal.RequireFromString("0.123456789")}, ErrInvalidAmount},
		{"overdraw", Transaction{ID: "d", Sender: 1, Recipient: 2, Amount: decimal.NewFromInt(5000)}, ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := sim.Replay(context.Background(), tt.txn)
			assert.False(t, applied)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := sim.Replay(context.Background(), Transaction{Sender: 1, Recipient: 2, Amount: decimal.NewFromInt(1)})
	assert.Error(t, err)

	assert.Equal(t, "1000", balance(t, reg, 1))
	assert.Equal(t, 0, sim.Ledger().Len())
}

func TestLedger_NewestFirst(t *testing.T) {
	sim, _ := newTestSimulator(t, 2)
	for _, id := range []string{"TX-a", "TX-b", "TX-c"} {
		_, err := sim.Transfer(context.Background(), Request{ID: id, Sender: "1", Recipient: "2", Amount: decimal.NewFromInt(1)}, Options{})
		require.NoError(t, err)
	}

	all := sim.Ledger().Transactions(0)
	require.Len(t, all, 3)
	assert.Equal(t, "TX-c", all[0].ID)
	assert.Equal(t, "TX-a", all[2].ID)

	two := sim.Ledger().Transactions(2)
	require.Len(t, two, 2)
	assert.Equal(t, "TX-b", two[1].ID)

	assert.Equal(t, "3", sim.Ledger().TotalAmount().String())
	_, ok := sim.Ledger().Get("TX-zzz")
	assert.False(t, ok)
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		amount string
		want   bool
	}{
		{"1", true},
		{"0.00000001", true},
		{"99999999999999999999", true},
		{"99999999999999999999.12345678", true},
		{"100000000000000000000", false},
		{"1e20", false},
		{"1e19", true},
		{"0.000000001", false},
		{"0", false},
		{"-1", false},
		{"1e30000000", false},
		{"1e-30000000", false},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidAmount(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("alice@example.com"))
	assert.True(t, ValidEmail("Alice@Example.COM"))
	assert.False(t, ValidEmail("alice@example"))
	assert.False(t, ValidEmail("alice example@x.com"))
	assert.False(t, ValidEmail("@example.com"))
}
