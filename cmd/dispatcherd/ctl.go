package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/dispatcher/internal/rpcapi"
)

var (
	ctlControlAddr string
	ctlStatusURL   string
)

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Operate a running dispatcher over its loopback control endpoint",
}

var ctlAddWorkerCmd = &cobra.Command{
	Use:   "add-worker <address>...",
	Short: "Register one or more worker addresses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControlClient(func(ctx context.Context, c rpcapi.ControlServiceClient) error {
			_, err := c.AddWorkers(ctx, &rpcapi.AddWorkersRequest{Addresses: args})
			return err
		})
	},
}

var ctlRemoveWorkerCmd = &cobra.Command{
	Use:   "remove-worker <address>...",
	Short: "Remove one or more worker addresses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControlClient(func(ctx context.Context, c rpcapi.ControlServiceClient) error {
			_, err := c.RemoveWorkers(ctx, &rpcapi.RemoveWorkersRequest{Addresses: args})
			return err
		})
	},
}

var ctlStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the dispatcher's current worker pool status",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(ctlStatusURL)
		if err != nil {
			return fmt.Errorf("failed to reach status endpoint: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		var pretty map[string]interface{}
		if err := json.Unmarshal(body, &pretty); err != nil {
			fmt.Println(string(body))
			return nil
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	ctlCmd.PersistentFlags().StringVar(&ctlControlAddr, "control-addr", "127.0.0.1:7444", "dispatcher control endpoint address")
	ctlCmd.PersistentFlags().StringVar(&ctlStatusURL, "status-url", "http://127.0.0.1:7445/status", "dispatcher status endpoint URL")

	ctlCmd.AddCommand(ctlAddWorkerCmd)
	ctlCmd.AddCommand(ctlRemoveWorkerCmd)
	ctlCmd.AddCommand(ctlStatusCmd)
}

func withControlClient(fn func(ctx context.Context, c rpcapi.ControlServiceClient) error) error {
	conn, err := grpc.NewClient(ctlControlAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		rpcapi.DialOption(),
	)
	if err != nil {
		return fmt.Errorf("failed to dial control endpoint: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return fn(ctx, rpcapi.NewControlServiceClient(conn))
}
