package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"market-feed/src/grpc_control"
	"market-feed/src/helpers"

	"github.com/spf13/cobra"
)

// ctlCmd groups the remote-control calls. Feed calls go to an observer,
// source calls to a server; both listen on grpc.host:grpc.port.
func ctlCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running observer or server over gRPC",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "gRPC address (defaults to grpc.host:grpc.port)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-call timeout")

	// call dials the control server and prints the reply as JSON.
	call := func(cmd *cobra.Command, fn func(ctx context.Context, c *grpc_control.Client) (map[string]any, error)) error {
		target := addr
		if target == "" {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			target = net.JoinHostPort(conf.Grpc.Host, strconv.Itoa(conf.Grpc.Port))
		}
		client, err := grpc_control.NewClient(target)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		reply, err := fn(ctx, client)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}

	noArgs := func(use, short string, fn func(*grpc_control.Client, context.Context) (map[string]any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, func(ctx context.Context, c *grpc_control.Client) (map[string]any, error) {
					return fn(c, ctx)
				})
			},
		}
	}

	cmd.AddCommand(
		noArgs("state", "Print the feed state", (*grpc_control.Client).State),
		noArgs("pause", "Pause delivery", (*grpc_control.Client).Pause),
		noArgs("resume", "Stop replay and resume live delivery", (*grpc_control.Client).StopAndResume),
		noArgs("clear", "Stop replay and clear received data", (*grpc_control.Client).StopAndClear),
		replayCmd(call),
		&cobra.Command{
			Use:   "speed <factor>",
			Short: "Change the replay speed",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				speed, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return fmt.Errorf("invalid speed %q: %w", args[0], err)
				}
				return call(cmd, func(ctx context.Context, c *grpc_control.Client) (map[string]any, error) {
					return c.SetSpeed(ctx, speed)
				})
			},
		},
		&cobra.Command{
			Use:   "symbols <symbol>...",
			Short: "Replace the observed symbols",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, func(ctx context.Context, c *grpc_control.Client) (map[string]any, error) {
					return c.SetSymbols(ctx, args)
				})
			},
		},
		sourcesCmd(call, noArgs),
	)
	return cmd
}

// -----------------------------------------------------------------------------

type ctlCall func(*cobra.Command, func(context.Context, *grpc_control.Client) (map[string]any, error)) error

func replayCmd(call ctlCall) *cobra.Command {
	var speed float64
	cmd := &cobra.Command{
		Use:   "replay <from>",
		Short: "Replay history from a time (epoch millis, a date, RFC 3339 or -<duration>)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := replayFrom(args[0], time.Now())
			if err != nil {
				return err
			}
			return call(cmd, func(ctx context.Context, c *grpc_control.Client) (map[string]any, error) {
				return c.Replay(ctx, from, speed)
			})
		},
	}
	cmd.Flags().Float64Var(&speed, "speed", 1, "replay speed factor")
	return cmd
}

// replayFrom resolves "-90m" against now and any other spelling through
// helpers.ParseTime, returning epoch millis.
func replayFrom(arg string, now time.Time) (int64, error) {
	if len(arg) > 1 && arg[0] == '-' {
		if d, err := time.ParseDuration(arg[1:]); err == nil {
			return now.Add(-d).UnixMilli(), nil
		}
	}
	from, err := helpers.ParseTime(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid replay time %q: %w", arg, err)
	}
	return from, nil
}

// -----------------------------------------------------------------------------

func sourcesCmd(call ctlCall, noArgs func(string, string, func(*grpc_control.Client, context.Context) (map[string]any, error)) *cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage the data sources of a running server",
	}

	var typ string
	add := &cobra.Command{
		Use:   "add <name> <symbol>...",
		Short: "Add and start a source",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, func(ctx context.Context, c *grpc_control.Client) (map[string]any, error) {
				return c.AddSource(ctx, args[0], typ, args[1:])
			})
		},
	}
	add.Flags().StringVar(&typ, "type", "synthetic", "source type (synthetic or yahoo)")

	cmd.AddCommand(
		noArgs("list", "List the running sources", (*grpc_control.Client).ListSources),
		add,
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Stop and remove a source",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, func(ctx context.Context, c *grpc_control.Client) (map[string]any, error) {
					return c.RemoveSource(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "update <name> <symbol>...",
			Short: "Replace the symbols of a source",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, func(ctx context.Context, c *grpc_control.Client) (map[string]any, error) {
					return c.UpdateSymbols(ctx, args[0], args[1:])
				})
			},
		},
	)
	return cmd
}
