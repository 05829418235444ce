// Package link is the dashboard's connection to a transaction feed. It keeps
// a WebSocket open to the feed, marks every node connected while the socket
// is up, and redials after a fixed delay whenever it drops.
package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/nodedash/service/console"
	"github.com/brojonat/nodedash/service/sim"
	"github.com/brojonat/nodedash/service/transfer"
	"github.com/gorilla/websocket"
)

// Message types carried on the feed and on the dashboard socket.
const (
	TypeTransaction = "TRANSACTION"
	TypeCommand     = "COMMAND"
)

// Message is one frame of the feed.
type Message struct {
	Type        string                `json:"type"`
	Transaction *transfer.Transaction `json:"transaction,omitempty"`
	Command     *console.Entry        `json:"command,omitempty"`
}

// State is the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Connectivity receives connection flag changes. *registry.Registry
// implements it.
type Connectivity interface {
	SetConnected(connected bool)
}

// TransactionHandler consumes a transaction from the feed.
type TransactionHandler func(ctx context.Context, txn transfer.Transaction) error

// Dialer opens the feed socket. *websocket.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options configures a Stub.
type Options struct {
	URL        string
	RetryDelay time.Duration
	Dialer     Dialer
	Nodes      Connectivity
	Handler    TransactionHandler
	// OnState, if set, is called after every state change.
	OnState func(State)
}

// Stub is the reconnecting feed connection.
type Stub struct {
	opts   Options
	sched  *sim.Scheduler
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	received int
}

// New creates a Stub. A nil Dialer uses websocket.DefaultDialer.
func New(opts Options, sched *sim.Scheduler, logger *slog.Logger) (*Stub, error) {
	if opts.URL == "" {
		return nil, errors.New("feed URL is required")
	}
	if opts.RetryDelay <= 0 {
		return nil, errors.New("retry delay must be positive")
	}
	if opts.Nodes == nil {
		return nil, errors.New("connectivity target is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Stub{
		opts:   opts,
		sched:  sched,
		logger: logger,
		state:  StateDisconnected,
	}, nil
}

// State returns the current connection state.
func (s *Stub) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of dials made so far.
func (s *Stub) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Received returns the number of transaction messages read from the feed.
func (s *Stub) Received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// Run connects and reconnects until ctx is cancelled. There is no backoff
// and no attempt limit.
func (s *Stub) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting feed connection", "url", s.opts.URL, "retry_delay", s.opts.RetryDelay)
	for {
		if err := s.session(ctx); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "feed connection lost", "error", err)
		}
		s.setState(StateDisconnected)

		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "feed connection stopped")
			return nil
		}

		wake := make(chan struct{})
		task := s.sched.After(s.opts.RetryDelay, func() { close(wake) })
		select {
		case <-ctx.Done():
			task.Cancel()
			s.logger.InfoContext(ctx, "feed connection stopped")
			return nil
		case <-wake:
		}
	}
}

func (s *Stub) session(ctx context.Context) error {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	s.setState(StateConnecting)

	conn, _, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial feed: %w", err)
	}
	defer conn.Close()

	s.setState(StateConnected)
	s.logger.InfoContext(ctx, "feed connected", "url", s.opts.URL)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read feed: %w", err)
		}
		s.dispatch(ctx, data)
	}
}

func (s *Stub) dispatch(ctx context.Context, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.WarnContext(ctx, "skipping malformed feed message", "error", err)
		return
	}
	if msg.Type != TypeTransaction || msg.Transaction == nil {
		s.logger.DebugContext(ctx, "ignoring feed message", "type", msg.Type)
		return
	}

	s.mu.Lock()
	s.received++
	s.mu.Unlock()

	if s.opts.Handler == nil {
		return
	}
	if err := s.opts.Handler(ctx, *msg.Transaction); err != nil {
		s.logger.WarnContext(ctx, "feed transaction rejected",
			"id", msg.Transaction.ID,
			"error", err,
		)
	}
}

func (s *Stub) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	switch state {
	case StateConnected:
		s.opts.Nodes.SetConnected(true)
	case StateDisconnected:
		s.opts.Nodes.SetConnected(false)
	}
	if changed && s.opts.OnState != nil {
		s.opts.OnState(state)
	}
}
