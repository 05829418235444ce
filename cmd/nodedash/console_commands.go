package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/nodedash/client"
	"github.com/urfave/cli/v2"
)

func consoleCommands() *cli.Command {
	return &cli.Command{
		Name:    "commands",
		Aliases: []string{"console"},
		Usage:   "Node console commands",
		Subcommands: []*cli.Command{
			execCommand(),
			historyCommand(),
			getCommandCommand(),
			presetsCommand(),
			clearCommand(),
		},
	}
}

func execCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Aliases:   []string{"run"},
		Usage:     "Submit a console command and wait for its outcome",
		ArgsUsage: "COMMAND...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "preset",
				Aliases: []string{"p"},
				Usage:   "Submit a preset by id instead of free text",
			},
			&cli.BoolFlag{
				Name:  "no-wait",
				Usage: "Return as soon as the command is accepted",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long to wait for the outcome",
				Value:   30 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "How often to poll for the outcome",
				Value: 250 * time.Millisecond,
			},
		},
		Action: func(c *cli.Context) error {
			preset := c.String("preset")
			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if preset == "" && text == "" {
				return fmt.Errorf("a command or --preset is required")
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}

			var cmd *client.Command
			if preset != "" {
				cmd, err = cl.SubmitPreset(c.Context, preset)
			} else {
				cmd, err = cl.SubmitCommand(c.Context, text)
			}
			if err != nil {
				return fmt.Errorf("failed to submit command: %w", err)
			}

			if !c.Bool("no-wait") {
				ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
				defer cancel()
				cmd, err = cl.AwaitCommand(ctx, cmd.ID, c.Duration("poll-interval"))
				if err != nil {
					return fmt.Errorf("failed to await command: %w", err)
				}
			}

			if c.Bool("json") {
				return printJSON(c, cmd)
			}
			printCommand(c, cmd)
			if cmd.Status == "error" {
				return cli.Exit("command failed", 1)
			}
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"history", "ls"},
		Usage:   "Show the console history, newest first",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			cmds, err := cl.Commands(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list commands: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c, cmds)
			}
			if len(cmds) == 0 {
				fmt.Fprintln(c.App.Writer, "No commands")
				return nil
			}
			for _, cmd := range cmds {
				fmt.Fprintf(c.App.Writer, "%s  %-8s %s\n", cmd.Timestamp.Format(time.RFC3339), cmd.Status, cmd.Command)
			}
			return nil
		},
	}
}

func getCommandCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one console entry",
		ArgsUsage: "COMMAND_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("command id is required")
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			cmd, err := cl.Command(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get command: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c, cmd)
			}
			printCommand(c, cmd)
			return nil
		},
	}
}

func presetsCommand() *cli.Command {
	return &cli.Command{
		Name:  "presets",
		Usage: "List the preset commands",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			presets, err := cl.Presets(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list presets: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c, presets)
			}
			for _, p := range presets {
				fmt.Fprintf(c.App.Writer, "%-8s %-42s %s\n", p.ID, p.Command, p.Description)
			}
			return nil
		},
	}
}

func clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Clear the console history",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			n, err := cl.ClearCommands(c.Context)
			if err != nil {
				return fmt.Errorf("failed to clear history: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c, map[string]int{"cleared": n})
			}
			fmt.Fprintf(c.App.Writer, "Cleared %d command(s)\n", n)
			return nil
		},
	}
}

func printCommand(c *cli.Context, cmd *client.Command) {
	w := c.App.Writer
	fmt.Fprintf(w, "$ %s\n", cmd.Command)
	fmt.Fprintf(w, "  id:     %s\n", cmd.ID)
	fmt.Fprintf(w, "  status: %s\n", cmd.Status)
	if cmd.Output != "" {
		fmt.Fprintf(w, "\n%s\n", cmd.Output)
	}
}
