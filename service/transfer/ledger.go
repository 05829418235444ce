package transfer

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger is the append-only transaction log.
type Ledger struct {
	mu    sync.RWMutex
	txns  []Transaction
	ids   map[string]struct{}
	total decimal.Decimal
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		ids:   make(map[string]struct{}),
		total: decimal.Zero,
	}
}

func (l *Ledger) append(txn Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txns = append(l.txns, txn)
	l.ids[txn.ID] = struct{}{}
	l.total = l.total.Add(txn.Amount)
}

// Has reports whether a transaction with id was recorded.
func (l *Ledger) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

// Get returns the transaction with id.
func (l *Ledger) Get(id string) (Transaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.txns {
		if t.ID == id {
			return t, true
		}
	}
	return Transaction{}, false
}

// Transactions returns up to limit transactions, newest first. A limit of
// zero or less returns all of them.
func (l *Ledger) Transactions(limit int) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.txns)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Transaction, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.txns[i])
	}
	return out
}

// Len returns the number of recorded transactions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.txns)
}

// TotalAmount sums the amounts of every recorded transaction.
func (l *Ledger) TotalAmount() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
