package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"procodus.dev/tempglobe/pkg/api"
)

var submitCmd = &cobra.Command{
	Use:   "submit <location-id> <temperature>",
	Short: "Submit one reading over gRPC",
	Args:  cobra.ExactArgs(2),
	RunE:  runSubmit,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the current snapshot, then stream new readings",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(submitCmd, watchCmd)

	for _, c := range []*cobra.Command{submitCmd, watchCmd} {
		c.Flags().String("addr", "localhost:9090", "server gRPC address")
		c.Flags().Duration("timeout", 5*time.Second, "per-call timeout")
	}

	_ = viper.BindPFlag("client.addr", submitCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("client.timeout", submitCmd.Flags().Lookup("timeout"))
}

func dialClient(cmd *cobra.Command) (*api.Client, func(), time.Duration, error) {
	addr, _ := cmd.Flags().GetString("addr")
	if !cmd.Flags().Changed("addr") && viper.IsSet("client.addr") {
		addr = viper.GetString("client.addr")
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	conn, err := api.Dial(addr)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	return api.NewClient(conn), func() { _ = conn.Close() }, timeout, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid location id %q: %w", args[0], err)
	}

	temperature, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid temperature %q: %w", args[1], err)
	}

	client, closeConn, timeout, err := dialClient(cmd)
	if err != nil {
		return err
	}
	defer closeConn()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	resp, err := client.Submit(ctx, api.NewSubmitRequest(id, temperature))
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("submission rejected: %s", resp.Reason)
	}
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	client, closeConn, timeout, err := dialClient(cmd)
	if err != nil {
		return err
	}
	defer closeConn()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// open the stream first so nothing between snapshot and stream is lost
	stream, err := client.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	snapCtx, cancel := context.WithTimeout(ctx, timeout)
	snap, err := client.Snapshot(snapCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if err := printJSON(out, snap); err != nil {
		return err
	}

	for {
		m, err := stream.Recv()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), status.Code(err) == codes.Canceled:
			return nil
		default:
			return fmt.Errorf("watch stream ended: %w", err)
		}

		if err := printJSON(out, m); err != nil {
			return err
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}
