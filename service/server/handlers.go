package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/brojonat/nodedash/service/console"
	"github.com/brojonat/nodedash/service/metrics"
	"github.com/brojonat/nodedash/service/monitor"
	"github.com/brojonat/nodedash/service/registry"
	"github.com/brojonat/nodedash/service/transfer"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a transfer or command
	maxCommandLength   = 1024
	defaultListLimit   = 50
	maxListLimit       = 1000
	balancePlaces      = 8
)

// applyFunc is called after a transfer has been applied.
type applyFunc func(ctx context.Context, txn transfer.Transaction)

// nodeRef accepts a node reference as either a JSON string or number.
type nodeRef string

func (n *nodeRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = nodeRef(s)
		return nil
	}
	var id json.Number
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("node reference must be a string or number")
	}
	*n = nodeRef(id.String())
	return nil
}

// transferRequest is the body of both transfer endpoints.
type transferRequest struct {
	ID             string          `json:"id"`
	Sender         nodeRef         `json:"sender"`
	Recipient      nodeRef         `json:"recipient"`
	Amount         decimal.Decimal `json:"amount"`
	SenderEmail    string          `json:"senderEmail"`
	RecipientEmail string          `json:"recipientEmail"`
}

func (r transferRequest) toRequest() transfer.Request {
	return transfer.Request{
		ID:             r.ID,
		Sender:         string(r.Sender),
		Recipient:      string(r.Recipient),
		Amount:         r.Amount,
		SenderEmail:    r.SenderEmail,
		RecipientEmail: r.RecipientEmail,
	}
}

// legacyResponse is the {success, error} contract of POST /api/transaction.
type legacyResponse struct {
	Success     bool                  `json:"success"`
	Error       string                `json:"error,omitempty"`
	Transaction *transfer.Transaction `json:"transaction,omitempty"`
}

// handleLegacyTransaction returns a handler for the dashboard's transfer form.
// POST /api/transaction
func handleLegacyTransaction(sim *transfer.Simulator, applied applyFunc, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transferRequest
		if msg, ok := decodeJSON(w, r, &req); !ok {
			logger.Debug("failed to decode transaction request", "error", msg)
			writeJSON(w, legacyResponse{Success: false, Error: msg}, http.StatusBadRequest)
			return
		}

		txn, err := sim.Transfer(r.Context(), req.toRequest(), transfer.Options{RequireEmails: true})
		if err != nil {
			recordRejected(m)
			logger.Debug("transaction rejected", "sender", req.Sender, "recipient", req.Recipient, "error", err)
			writeJSON(w, legacyResponse{Success: false, Error: transferMessage(err)}, transferStatus(err))
			return
		}

		applied(r.Context(), txn)
		writeJSON(w, legacyResponse{Success: true, Transaction: &txn}, http.StatusOK)
	})
}

// handleCreateTransfer returns a handler that applies a transfer.
// Emails are optional here.
// POST /api/v1/transfers
func handleCreateTransfer(sim *transfer.Simulator, applied applyFunc, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transferRequest
		if msg, ok := decodeJSON(w, r, &req); !ok {
			logger.Debug("failed to decode transfer request", "error", msg)
			writeError(w, msg, http.StatusBadRequest)
			return
		}

		txn, err := sim.Transfer(r.Context(), req.toRequest(), transfer.Options{})
		if err != nil {
			recordRejected(m)
			logger.Debug("transfer rejected", "sender", req.Sender, "recipient", req.Recipient, "error", err)
			writeError(w, transferMessage(err), transferStatus(err))
			return
		}

		applied(r.Context(), txn)
		writeJSON(w, txn, http.StatusCreated)
	})
}

func recordRejected(m *metrics.Metrics) {
	if m != nil {
		m.RecordTransfer(string(transfer.OriginLocal), "rejected", 0)
	}
}

var transferErrors = []error{
	transfer.ErrSameNode,
	transfer.ErrInvalidNode,
	transfer.ErrInvalidEmail,
	transfer.ErrInvalidAmount,
	transfer.ErrInsufficientBalance,
	transfer.ErrDuplicateTransaction,
}

// transferMessage maps a transfer error to its user-facing text.
func transferMessage(err error) string {
	for _, target := range transferErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "request failed"
}

func transferStatus(err error) int {
	if errors.Is(err, transfer.ErrDuplicateTransaction) {
		return http.StatusConflict
	}
	for _, target := range transferErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// nodeResponse is the JSON response format for a node. Amounts are fixed to
// eight decimal places.
type nodeResponse struct {
	ID        int    `json:"id"`
	Address   string `json:"address"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Connected bool   `json:"connected"`
	Balance   string `json:"balance"`
	Sent      string `json:"sent"`
	Received  string `json:"received"`
}

func nodeToResponse(n registry.Node) nodeResponse {
	return nodeResponse{
		ID:        n.ID,
		Address:   n.Address,
		Host:      n.Host,
		Port:      n.Port,
		Connected: n.Connected,
		Balance:   n.Balance.StringFixed(balancePlaces),
		Sent:      n.Sent.StringFixed(balancePlaces),
		Received:  n.Received.StringFixed(balancePlaces),
	}
}

// handleListNodes returns a handler that lists every node.
// GET /api/v1/nodes
func handleListNodes(reg *registry.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nodes := reg.List()

		connected := 0
		resp := make([]nodeResponse, len(nodes))
		for i, n := range nodes {
			resp[i] = nodeToResponse(n)
			if n.Connected {
				connected++
			}
		}

		logger.Debug("nodes listed", "count", len(resp))

		writeJSON(w, map[string]interface{}{
			"nodes":         resp,
			"count":         len(resp),
			"connected":     connected,
			"total_balance": reg.TotalBalance().StringFixed(balancePlaces),
		}, http.StatusOK)
	})
}

// handleGetNode returns a handler that looks up one node by id, name or address.
// GET /api/v1/nodes/{id}
func handleGetNode(reg *registry.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := r.PathValue("id")
		n, err := reg.Resolve(ref)
		if err != nil {
			logger.Debug("node not found", "ref", ref, "error", err)
			writeError(w, "node not found", http.StatusNotFound)
			return
		}
		writeJSON(w, nodeToResponse(n), http.StatusOK)
	})
}

// handleListTransactions returns a handler that lists applied transfers, newest first.
// GET /api/v1/transactions?limit=N
func handleListTransactions(ledger *transfer.Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		txns := ledger.Transactions(limit)
		logger.Debug("transactions listed", "count", len(txns))

		writeJSON(w, map[string]interface{}{
			"transactions": txns,
			"count":        len(txns),
			"total":        ledger.Len(),
			"total_amount": ledger.TotalAmount().StringFixed(balancePlaces),
			"limit":        limit,
		}, http.StatusOK)
	})
}

// parseLimit parses the limit query parameter (default 50, max 1000).
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("invalid limit parameter: must be an integer")
	}
	if limit < 1 {
		return 0, errorf("limit must be at least 1")
	}
	if limit > maxListLimit {
		return 0, errorf("limit cannot exceed %d", maxListLimit)
	}
	return limit, nil
}

// handleListCommands returns a handler that lists the command history.
// GET /api/v1/commands
func handleListCommands(c *console.Console, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		history := c.History()
		logger.Debug("commands listed", "count", len(history))
		writeJSON(w, map[string]interface{}{
			"commands": history,
			"count":    len(history),
			"running":  c.Running(),
		}, http.StatusOK)
	})
}

// handleSubmitCommand returns a handler that submits a free-text or preset command.
// POST /api/v1/commands
func handleSubmitCommand(c *console.Console, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Command string `json:"command"`
			Preset  string `json:"preset"`
		}
		if msg, ok := decodeJSON(w, r, &req); !ok {
			logger.Debug("failed to decode command request", "error", msg)
			writeError(w, msg, http.StatusBadRequest)
			return
		}

		if err := validateCommand(req.Command); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var (
			entry console.Entry
			err   error
		)
		if req.Preset != "" {
			entry, err = c.SubmitPreset(r.Context(), req.Preset)
		} else {
			entry, err = c.Submit(r.Context(), req.Command)
		}
		switch {
		case errors.Is(err, console.ErrEmptyCommand), errors.Is(err, console.ErrUnknownPreset):
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, console.ErrClosed):
			writeError(w, "console is shutting down", http.StatusServiceUnavailable)
			return
		case err != nil:
			logger.Error("failed to submit command", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, entry, http.StatusAccepted)
	})
}

// validateCommand rejects oversized input and control characters other than
// whitespace.
func validateCommand(command string) error {
	if len(command) > maxCommandLength {
		return errorf("command too long: maximum length is %d characters", maxCommandLength)
	}
	for _, r := range command {
		if r == 0 || (r < 0x20 && r != '\t' && r != '\n' && r != '\r') {
			return errorf("invalid characters in command: control characters not allowed")
		}
	}
	return nil
}

// handleGetCommand returns a handler that fetches one command entry.
// GET /api/v1/commands/{id}
func handleGetCommand(c *console.Console, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		entry, ok := c.Get(id)
		if !ok {
			logger.Debug("command not found", "id", id)
			writeError(w, "command not found", http.StatusNotFound)
			return
		}
		writeJSON(w, entry, http.StatusOK)
	})
}

// handleClearCommands returns a handler that clears the listed history.
// DELETE /api/v1/commands
func handleClearCommands(c *console.Console, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := c.Clear()
		logger.Info("command history cleared", "count", n)
		writeJSON(w, map[string]interface{}{"cleared": n}, http.StatusOK)
	})
}

// handleListPresets returns a handler that lists the canned commands.
// GET /api/v1/commands/presets
func handleListPresets() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"presets": console.Presets()}, http.StatusOK)
	})
}

// feedResponse reports the transaction feed connection.
type feedResponse struct {
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Received int    `json:"received"`
}

type networkStatusResponse struct {
	monitor.Status
	ConnectedNodes int           `json:"connected_nodes"`
	TotalNodes     int           `json:"total_nodes"`
	Feed           *feedResponse `json:"feed,omitempty"`
}

func toNetworkStatus(st monitor.Status, feed *feedResponse) networkStatusResponse {
	resp := networkStatusResponse{Status: st, TotalNodes: len(st.Nodes), Feed: feed}
	for _, n := range st.Nodes {
		if n.Connected {
			resp.ConnectedNodes++
		}
	}
	return resp
}

// handleNetworkStatus returns a handler that reports the latest snapshot.
// GET /api/v1/network/status
func handleNetworkStatus(mon *monitor.Monitor, feed func() *feedResponse, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, toNetworkStatus(mon.Status(), feed()), http.StatusOK)
	})
}

// handleRefreshNetwork returns a handler that draws a new snapshot.
// POST /api/v1/network/refresh
func handleRefreshNetwork(mon *monitor.Monitor, feed func() *feedResponse, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := mon.Refresh()
		logger.Debug("network status refreshed on demand", "active_connections", st.ActiveConnections)
		writeJSON(w, toNetworkStatus(st, feed()), http.StatusOK)
	})
}

// handleGetSettings returns a handler that reports the node settings.
// GET /api/v1/settings
func handleGetSettings(mon *monitor.Monitor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, mon.Settings(), http.StatusOK)
	})
}

// handleUpdateSettings returns a handler that replaces the node settings.
// PUT /api/v1/settings
func handleUpdateSettings(mon *monitor.Monitor, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req monitor.Settings
		if msg, ok := decodeJSON(w, r, &req); !ok {
			logger.Debug("failed to decode settings", "error", msg)
			writeError(w, msg, http.StatusBadRequest)
			return
		}

		if err := mon.UpdateSettings(req); err != nil {
			writeError(w, strings.ReplaceAll(err.Error(), "\n", "; "), http.StatusBadRequest)
			return
		}
		writeJSON(w, mon.Settings(), http.StatusOK)
	})
}

// decodeJSON reads a size-limited JSON body into dst. On failure it returns
// the message to show the caller.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) (string, bool) {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "request body too large: maximum size is 1MB", false
		}
		return "invalid request body: must be valid JSON", false
	}
	return "", true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

// commandBase returns the first two words of a command, used as a metric label.
func commandBase(command string) string {
	fields := strings.Fields(command)
	if len(fields) > 2 {
		fields = fields[:2]
	}
	base := strings.Join(fields, " ")
	if _, ok := console.LookupOutput(base); !ok {
		return "other"
	}
	return base
}
