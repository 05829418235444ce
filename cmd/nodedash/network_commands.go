package main

import (
	"fmt"

	"github.com/brojonat/nodedash/client"
	"github.com/urfave/cli/v2"
)

func networkCommands() *cli.Command {
	return &cli.Command{
		Name:  "network",
		Usage: "Network status and node settings",
		Subcommands: []*cli.Command{
			networkStatusCommand(),
			settingsCommand(),
		},
	}
}

func networkStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the latest network snapshot",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "refresh",
				Aliases: []string{"r"},
				Usage:   "Draw a new snapshot first",
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			var st *client.NetworkStatus
			if c.Bool("refresh") {
				st, err = cl.RefreshNetwork(c.Context)
			} else {
				st, err = cl.NetworkStatus(c.Context)
			}
			if err != nil {
				return fmt.Errorf("failed to get network status: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c, st)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Network:      %s\n", st.NetworkMode)
			fmt.Fprintf(w, "Connections:  %d/%d\n", st.ActiveConnections, st.MaxConnections)
			fmt.Fprintf(w, "Nodes up:     %d/%d\n", st.ConnectedNodes, st.TotalNodes)
			fmt.Fprintf(w, "Sync:         %.1f%%\n", st.SyncProgress)
			if st.Feed != nil {
				fmt.Fprintf(w, "Feed:         %s (attempts %d, received %d)\n", st.Feed.State, st.Feed.Attempts, st.Feed.Received)
			}
			fmt.Fprintln(w)
			for _, n := range st.Nodes {
				latency := "-"
				if n.Connected {
					latency = fmt.Sprintf("%dms", n.LatencyMS)
				}
				fmt.Fprintf(w, "  node%-3d %s:%d  %s\n", n.ID, n.Host, n.Port, latency)
			}
			return nil
		},
	}
}

func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or update the node settings",
		Description: `Without flags, prints the current settings. Any flag given is applied
on top of the current settings and the result is saved.

Example:
  nodedash network settings --network-mode testnet --max-connections 20`,
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "Node port (1-65535)"},
			&cli.IntFlag{Name: "peers", Usage: "Peer count"},
			&cli.IntFlag{Name: "max-connections", Usage: "Connection cap"},
			&cli.IntFlag{Name: "sync-interval", Usage: "Sync interval in seconds"},
			&cli.StringFlag{Name: "network-mode", Usage: "mainnet, testnet or devnet"},
		},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			s, err := cl.Settings(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get settings: %w", err)
			}

			changed := false
			if c.IsSet("port") {
				s.Port, changed = c.Int("port"), true
			}
			if c.IsSet("peers") {
				s.Peers, changed = c.Int("peers"), true
			}
			if c.IsSet("max-connections") {
				s.MaxConnections, changed = c.Int("max-connections"), true
			}
			if c.IsSet("sync-interval") {
				s.SyncInterval, changed = c.Int("sync-interval"), true
			}
			if c.IsSet("network-mode") {
				s.NetworkMode, changed = c.String("network-mode"), true
			}

			if changed {
				s, err = cl.UpdateSettings(c.Context, *s)
				if err != nil {
					return fmt.Errorf("failed to update settings: %w", err)
				}
			}

			if c.Bool("json") {
				return printJSON(c, s)
			}
			w := c.App.Writer
			fmt.Fprintf(w, "Port:             %d\n", s.Port)
			fmt.Fprintf(w, "Peers:            %d\n", s.Peers)
			fmt.Fprintf(w, "Max connections:  %d\n", s.MaxConnections)
			fmt.Fprintf(w, "Sync interval:    %ds\n", s.SyncInterval)
			fmt.Fprintf(w, "Network mode:     %s\n", s.NetworkMode)
			return nil
		},
	}
}
