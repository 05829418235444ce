// Package client is the HTTP client for the node dashboard API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Node is a simulated node as reported by the server. Amounts are decimal
// strings fixed to eight places.
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

// Transaction is an applied transfer.
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
	Origin           string          `json:"origin"`
}

// TransferRequest is a transfer to submit. Sender and Recipient accept a node
// id ("3"), a name ("node3") or a wallet address.
type TransferRequest struct {
	ID             string          `json:"id,omitempty"`
	Sender         string          `json:"sender"`
	Recipient      string          `json:"recipient"`
	Amount         decimal.Decimal `json:"amount"`
	SenderEmail    string          `json:"senderEmail,omitempty"`
	RecipientEmail string          `json:"recipientEmail,omitempty"`
}

// Command is a console history entry.
type Command struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Timestamp   time.Time  `json:"timestamp"`
	Status      string     `json:"status"` // running, success, error
	Output      string     `json:"output,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Done reports whether the command has an outcome.
func (c *Command) Done() bool {
	return c.Status == "success" || c.Status == "error"
}

// Preset is a canned console command.
type Preset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
}

// Settings is the node configuration.
type Settings struct {
	Port           int    `json:"port"`
	Peers          int    `json:"peers"`
	MaxConnections int    `json:"max_connections"`
	SyncInterval   int    `json:"sync_interval"`
	NetworkMode    string `json:"network_mode"`
}

// NodeStatus is one node row of the network status.
type NodeStatus struct {
	ID        int    `json:"id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Connected bool   `json:"connected"`
	LatencyMS int    `json:"latency_ms"`
}

// FeedStatus describes the server's connection to the transaction feed.
type FeedStatus struct {
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Received int    `json:"received"`
}

// NetworkStatus is the latest network snapshot.
type NetworkStatus struct {
	NetworkMode       string       `json:"network_mode"`
	ActiveConnections int          `json:"active_connections"`
	MaxConnections    int          `json:"max_connections"`
	SyncProgress      float64      `json:"sync_progress"`
	Nodes             []NodeStatus `json:"nodes"`
	UpdatedAt         time.Time    `json:"updated_at"`
	ConnectedNodes    int          `json:"connected_nodes"`
	TotalNodes        int          `json:"total_nodes"`
	Feed              *FeedStatus  `json:"feed,omitempty"`
}

// Client is the HTTP client for the node dashboard service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new dashboard client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Nodes lists every node.
func (c *Client) Nodes(ctx context.Context) ([]Node, error) {
	var response struct {
		Nodes []Node `json:"nodes"`
	}
	if err := c.do(ctx, "GET", "/api/v1/nodes", nil, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return response.Nodes, nil
}

// Node looks up one node by id, name or address.
func (c *Client) Node(ctx context.Context, ref string) (*Node, error) {
	var node Node
	if err := c.do(ctx, "GET", "/api/v1/nodes/"+url.PathEscape(ref), nil, http.StatusOK, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// Transfer moves an amount between two nodes.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*Transaction, error) {
	var txn Transaction
	if err := c.do(ctx, "POST", "/api/v1/transfers", req, http.StatusCreated, &txn); err != nil {
		return nil, err
	}
	c.logger.Debug("transfer applied", "id", txn.ID, "sender", txn.Sender, "recipient", txn.Recipient)
	return &txn, nil
}

// Transactions lists up to limit applied transfers, newest first. A limit of
// zero uses the server default.
func (c *Client) Transactions(ctx context.Context, limit int) ([]Transaction, error) {
	path := "/api/v1/transactions"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var response struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return response.Transactions, nil
}

// SubmitCommand logs a free-text console command. The returned entry is
// still running.
func (c *Client) SubmitCommand(ctx context.Context, command string) (*Command, error) {
	return c.submit(ctx, map[string]string{"command": command})
}

// SubmitPreset logs the command of a preset.
func (c *Client) SubmitPreset(ctx context.Context, presetID string) (*Command, error) {
	return c.submit(ctx, map[string]string{"preset": presetID})
}

func (c *Client) submit(ctx context.Context, body map[string]string) (*Command, error) {
	var cmd Command
	if err := c.do(ctx, "POST", "/api/v1/commands", body, http.StatusAccepted, &cmd); err != nil {
		return nil, err
	}
	c.logger.Debug("command submitted", "id", cmd.ID, "command", cmd.Command)
	return &cmd, nil
}

// Command fetches one console entry.
func (c *Client) Command(ctx context.Context, id string) (*Command, error) {
	var cmd Command
	if err := c.do(ctx, "GET", "/api/v1/commands/"+url.PathEscape(id), nil, http.StatusOK, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// Commands lists the console history, newest first.
func (c *Client) Commands(ctx context.Context) ([]Command, error) {
	var response struct {
		Commands []Command `json:"commands"`
	}
	if err := c.do(ctx, "GET", "/api/v1/commands", nil, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return response.Commands, nil
}

// ClearCommands empties the console history and returns how many entries
// were removed.
func (c *Client) ClearCommands(ctx context.Context) (int, error) {
	var response struct {
		Cleared int `json:"cleared"`
	}
	if err := c.do(ctx, "DELETE", "/api/v1/commands", nil, http.StatusOK, &response); err != nil {
		return 0, err
	}
	return response.Cleared, nil
}

// AwaitCommand polls a console entry every interval until it has an outcome
// or ctx is done.
func (c *Client) AwaitCommand(ctx context.Context, id string, interval time.Duration) (*Command, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cmd, err := c.Command(ctx, id)
		if err != nil {
			return nil, err
		}
		if cmd.Done() {
			return cmd, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for command %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Presets lists the canned console commands.
func (c *Client) Presets(ctx context.Context) ([]Preset, error) {
	var response struct {
		Presets []Preset `json:"presets"`
	}
	if err := c.do(ctx, "GET", "/api/v1/commands/presets", nil, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return response.Presets, nil
}

// NetworkStatus returns the latest network snapshot.
func (c *Client) NetworkStatus(ctx context.Context) (*NetworkStatus, error) {
	var st NetworkStatus
	if err := c.do(ctx, "GET", "/api/v1/network/status", nil, http.StatusOK, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RefreshNetwork asks the server to draw a new network snapshot.
func (c *Client) RefreshNetwork(ctx context.Context) (*NetworkStatus, error) {
	var st NetworkStatus
	if err := c.do(ctx, "POST", "/api/v1/network/refresh", nil, http.StatusOK, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Settings returns the node configuration.
func (c *Client) Settings(ctx context.Context) (*Settings, error) {
	var s Settings
	if err := c.do(ctx, "GET", "/api/v1/settings", nil, http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSettings replaces the node configuration.
func (c *Client) UpdateSettings(ctx context.Context, s Settings) (*Settings, error) {
	var updated Settings
	if err := c.do(ctx, "PUT", "/api/v1/settings", s, http.StatusOK, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "GET", "/health", nil, http.StatusOK, nil)
}

// AwaitTransaction streams applied transfers touching address (all transfers
// if address is empty) and returns the first one matcher accepts.
func (c *Client) AwaitTransaction(ctx context.Context, address string, matcher func(*Transaction) bool) (*Transaction, error) {
	u := c.baseURL + "/api/v1/stream/transactions"
	if address != "" {
		u += "/" + url.PathEscape(address)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the default client timeout.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if event != "" && event != "transaction" {
				continue
			}
			var txn Transaction
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &txn); err != nil {
				c.logger.Warn("skipping malformed stream event", "error", err)
				continue
			}
			if matcher == nil || matcher(&txn) {
				return &txn, nil
			}
		}
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("waiting for transaction: %w", ctx.Err())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream failed: %w", err)
	}
	return nil, fmt.Errorf("stream closed before a matching transaction arrived")
}

// do sends a JSON request and decodes the response into out when the status
// matches want.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
