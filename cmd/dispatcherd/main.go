// Command dispatcherd runs the proving-service dispatcher: a gRPC
// reverse proxy that multiplexes proof requests across a pool of
// single-slot prover workers.
//
// Command shape grounded on the teacher's cmd/pyproc/main.go cobra root
// command plus subcommands, retargeted from project scaffolding to
// serving and operating a running dispatcher.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "dispatcherd",
	Short:   "Dispatcher for a proving-service worker pool",
	Long:    `dispatcherd forwards proof requests to a pool of prover workers, handling worker health, exclusive occupancy, retries, and rate limiting.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ctlCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
