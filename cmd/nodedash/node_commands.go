package main

import (
	"fmt"
	"time"

	"github.com/brojonat/nodedash/client"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

func nodeCommands() *cli.Command {
	return &cli.Command{
		Name:  "nodes",
		Usage: "Node registry commands",
		Subcommands: []*cli.Command{
			nodesListCommand(),
			nodesGetCommand(),
		},
	}
}

func nodesListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List every node with its balance",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			nodes, err := cl.Nodes(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list nodes: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c, nodes)
			}

			total := decimal.Zero
			fmt.Fprintf(c.App.Writer, "%-4s %-22s %-4s %16s  %s\n", "ID", "ENDPOINT", "UP", "BALANCE", "ADDRESS")
			for _, n := range nodes {
				up := "no"
				if n.Connected {
					up = "yes"
				}
				fmt.Fprintf(c.App.Writer, "%-4d %-22s %-4s %16s  %s\n",
					n.ID, fmt.Sprintf("%s:%d", n.Host, n.Port), up, n.Balance.StringFixed(2), n.Address)
				total = total.Add(n.Balance)
			}
			fmt.Fprintf(c.App.Writer, "\n%d node(s), total balance %s\n", len(nodes), total.StringFixed(2))
			return nil
		},
	}
}

func nodesGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Aliases:   []string{"show"},
		Usage:     "Show one node",
		ArgsUsage: "NODE (id, name such as node3, or address)",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("node reference is required")
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			node, err := cl.Node(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get node: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c, node)
			}

			w := c.App.Writer
			fmt.Fprintln(w, rule)
			fmt.Fprintf(w, "Node %d\n", node.ID)
			fmt.Fprintln(w, rule)
			fmt.Fprintf(w, "Address:    %s\n", node.Address)
			fmt.Fprintf(w, "Endpoint:   %s:%d\n", node.Host, node.Port)
			fmt.Fprintf(w, "Connected:  %t\n", node.Connected)
			fmt.Fprintf(w, "Balance:    %s\n", node.Balance.String())
			fmt.Fprintf(w, "Sent:       %s\n", node.Sent.String())
			fmt.Fprintf(w, "Received:   %s\n", node.Received.String())
			fmt.Fprintln(w, rule)
			return nil
		},
	}
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Move an amount from one node to another",
		ArgsUsage: "SENDER RECIPIENT AMOUNT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "id",
				Usage: "Transaction id (generated by the server if empty)",
			},
			&cli.StringFlag{
				Name:  "sender-email",
				Usage: "Sender email address",
			},
			&cli.StringFlag{
				Name:  "recipient-email",
				Usage: "Recipient email address",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("sender, recipient and amount are required")
			}
			amount, err := decimal.NewFromString(c.Args().Get(2))
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.Args().Get(2), err)
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}

			txn, err := cl.Transfer(c.Context, client.TransferRequest{
				ID:             c.String("id"),
				Sender:         c.Args().Get(0),
				Recipient:      c.Args().Get(1),
				Amount:         amount,
				SenderEmail:    c.String("sender-email"),
				RecipientEmail: c.String("recipient-email"),
			})
			if err != nil {
				return fmt.Errorf("transfer failed: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c, txn)
			}
			printTransaction(c, txn)
			return nil
		},
	}
}

func transactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "transactions",
		Aliases: []string{"txns"},
		Usage:   "List applied transfers, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of transactions",
				Value:   20,
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			txns, err := cl.Transactions(c.Context, c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c, txns)
			}
			if len(txns) == 0 {
				fmt.Fprintln(c.App.Writer, "No transactions")
				return nil
			}
			for _, txn := range txns {
				fmt.Fprintf(c.App.Writer, "%s  %-44s node%d -> node%d  %s (%s)\n",
					txn.Timestamp.Format(time.RFC3339), txn.ID, txn.Sender, txn.Recipient, txn.Amount.String(), txn.Origin)
			}
			return nil
		},
	}
}

func printTransaction(c *cli.Context, txn *client.Transaction) {
	w := c.App.Writer
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "✓ Transfer applied")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "ID:          %s\n", txn.ID)
	fmt.Fprintf(w, "From:        node%d (%s)\n", txn.Sender, txn.SenderAddress)
	fmt.Fprintf(w, "To:          node%d (%s)\n", txn.Recipient, txn.RecipientAddress)
	fmt.Fprintf(w, "Amount:      %s\n", txn.Amount.String())
	fmt.Fprintf(w, "Origin:      %s\n", txn.Origin)
	if !txn.Timestamp.IsZero() {
		fmt.Fprintf(w, "Timestamp:   %s\n", txn.Timestamp.Format(time.RFC3339))
	}
	fmt.Fprintln(w, rule)
}
