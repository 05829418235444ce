package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var (
	// ErrNodeNotFound is returned when a node id or reference does not resolve.
	ErrNodeNotFound = errors.New("node not found")
	// ErrSameNode is returned when a transfer names the same node on both sides.
	ErrSameNode = errors.New("source and target node must differ")
	// ErrInsufficientBalance is returned when the source cannot cover the amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Node is a simulated wallet/peer entity.
type Node struct {
	ID        int             `json:"id"`
	Address   string          `json:"address"`
	Host      string          `json:"host"`
	Port      int             `json:"port"`
	Connected bool            `json:"connected"`
	Balance   decimal.Decimal `json:"balance"`
	Sent      decimal.Decimal `json:"sent"`
	Received  decimal.Decimal `json:"received"`
}

// SeedParams describes the initial node set.
type SeedParams struct {
	Count          int
	Host           string
	BasePort       int
	InitialBalance decimal.Decimal
}

// Registry is the in-memory node list. Balances change only through
// ApplyTransfer and connection flags only through SetConnected.
type Registry struct {
	mu    sync.RWMutex
	nodes []*Node
	byID  map[int]*Node
}

// New creates a registry seeded with params.Count nodes numbered from 1.
func New(params SeedParams) (*Registry, error) {
	r := &Registry{byID: make(map[int]*Node, params.Count)}
	for i := 0; i < params.Count; i++ {
		id := i + 1
		addr, err := NodeAddress(id)
		if err != nil {
			return nil, fmt.Errorf("failed to derive address for node %d: %w", id, err)
		}
		n := &Node{
			ID:        id,
			Address:   addr,
			Host:      params.Host,
			Port:      params.BasePort + i,
			Connected: true,
			Balance:   params.InitialBalance,
			Sent:      decimal.Zero,
			Received:  decimal.Zero,
		}
		r.nodes = append(r.nodes, n)
		r.byID[id] = n
	}
	return r, nil
}

// NodeAddress derives the display wallet address of a node. The address is a
// seed-derived public key, so it is stable across restarts and owns no key.
func NodeAddress(id int) (string, error) {
	pk, err := solanago.CreateWithSeed(solanago.SystemProgramID, fmt.Sprintf("node-%d", id), solanago.SystemProgramID)
	if err != nil {
		return "", err
	}
	return pk.String(), nil
}

// List returns copies of all nodes in id order.
func (r *Registry) List() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Node, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = *n
	}
	return out
}

// Len returns the number of nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Get returns a copy of the node with the given id.
func (r *Registry) Get(id int) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.byID[id]
	if !ok {
		return Node{}, fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
	}
	return *n, nil
}

// Resolve looks a node up by numeric id ("3"), name ("node3", "node-3")
// or wallet address.
func (r *Registry) Resolve(ref string) (Node, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Node{}, fmt.Errorf("empty node reference: %w", ErrNodeNotFound)
	}

	if id, ok := parseNodeRef(ref); ok {
		return r.Get(id)
	}

	if _, err := solanago.PublicKeyFromBase58(ref); err == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, n := range r.nodes {
			if n.Address == ref {
				return *n, nil
			}
		}
	}

	return Node{}, fmt.Errorf("node %q: %w", ref, ErrNodeNotFound)
}

func parseNodeRef(ref string) (int, bool) {
	s := strings.ToLower(ref)
	s = strings.TrimPrefix(s, "node")
	s = strings.TrimPrefix(s, "-")
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// TotalBalance sums all node balances.
func (r *Registry) TotalBalance() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := decimal.Zero
	for _, n := range r.nodes {
		total = total.Add(n.Balance)
	}
	return total
}

// ConnectedCount returns how many nodes are flagged connected.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, n := range r.nodes {
		if n.Connected {
			count++
		}
	}
	return count
}

// ApplyTransfer debits from and credits to by amount. Existence, distinctness
// and coverage are re-checked under the lock; on error nothing changes.
func (r *Registry) ApplyTransfer(from, to int, amount decimal.Decimal) error {
	if from == to {
		return ErrSameNode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.byID[from]
	if !ok {
		return fmt.Errorf("source node %d: %w", from, ErrNodeNotFound)
	}
	dst, ok := r.byID[to]
	if !ok {
		return fmt.Errorf("target node %d: %w", to, ErrNodeNotFound)
	}
	if src.Balance.LessThan(amount) {
		return fmt.Errorf("node %d has %s: %w", from, src.Balance.StringFixed(8), ErrInsufficientBalance)
	}

	src.Balance = src.Balance.Sub(amount)
	src.Sent = src.Sent.Add(amount)
	dst.Balance = dst.Balance.Add(amount)
	dst.Received = dst.Received.Add(amount)
	return nil
}

// SetConnected flips the connection flag of every node.
func (r *Registry) SetConnected(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.nodes {
		n.Connected = connected
	}
}
