package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/brojonat/nodedash/service/link"
	"github.com/gorilla/websocket"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream live dashboard events over the WebSocket",
		Description: `Connects to the dashboard socket and prints every TRANSACTION and COMMAND
event. Events can be narrowed with --type and with jq filters, which run
against the whole event object; all filters must be truthy.

Example:
  nodedash watch --type TRANSACTION --jq '.transaction.amount | tonumber > 100'
  nodedash watch --jq '.command.status == "error"' --count 1`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Only show events of this type (TRANSACTION or COMMAND)",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter an event must satisfy (repeatable)",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Exit after this many matching events (0 means never)",
			},
		},
		Action: func(c *cli.Context) error {
			eventType := strings.ToUpper(c.String("type"))
			if eventType != "" && eventType != link.TypeTransaction && eventType != link.TypeCommand {
				return fmt.Errorf("unknown event type %q", c.String("type"))
			}

			filters, err := compileJQFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			wsURL, err := socketURL(c.String("server-url"))
			if err != nil {
				return err
			}

			// Create context that cancels on interrupt
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
			}
			defer conn.Close()

			// Unblock the read when interrupted
			go func() {
				<-ctx.Done()
				conn.Close()
			}()

			if !c.Bool("json") {
				fmt.Fprintf(c.App.ErrWriter, "Connected to %s (Ctrl+C to stop)\n\n", wsURL)
			}

			return watchEvents(ctx, c, conn, eventType, filters, c.Int("count"))
		},
	}
}

func watchEvents(ctx context.Context, c *cli.Context, conn *websocket.Conn, eventType string, filters []*gojq.Code, limit int) error {
	matched := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("error reading events: %w", err)
		}

		var msg link.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "Skipping malformed event: %v\n", err)
			continue
		}
		if eventType != "" && msg.Type != eventType {
			continue
		}

		var raw interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		if !matchesJQ(filters, raw) {
			continue
		}

		if c.Bool("json") {
			fmt.Fprintln(c.App.Writer, string(data))
		} else {
			printEvent(c, msg)
		}

		matched++
		if limit > 0 && matched >= limit {
			return nil
		}
	}
}

// socketURL turns the dashboard base URL into its /ws endpoint.
func socketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func compileJQFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// matchesJQ reports whether every filter's first result is truthy for v.
func matchesJQ(filters []*gojq.Code, v interface{}) bool {
	for _, code := range filters {
		iter := code.Run(v)
		result, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := result.(error); isErr {
			return false
		}
		if !isTruthy(result) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printEvent(c *cli.Context, msg link.Message) {
	w := c.App.Writer
	switch {
	case msg.Transaction != nil:
		txn := msg.Transaction
		fmt.Fprintf(w, "[TRANSACTION] %s node%d -> node%d %s (%s)\n",
			txn.ID, txn.Sender, txn.Recipient, txn.Amount.String(), txn.Origin)
	case msg.Command != nil:
		cmd := msg.Command
		fmt.Fprintf(w, "[COMMAND] %-8s %s\n", cmd.Status, cmd.Command)
		if cmd.Output != "" {
			for _, line := range strings.Split(cmd.Output, "\n") {
				fmt.Fprintf(w, "          %s\n", line)
			}
		}
	default:
		fmt.Fprintf(w, "[%s]\n", msg.Type)
	}
}
