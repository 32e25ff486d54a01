package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/espalier/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve <pipeline>",
	Short: "Start the HTTP server",
	Long:  `Exposes the pipeline over HTTP: POST /runs executes it, GET /runs/{id} reads an outcome back.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.ServeOptions{Options: engineOptions(cmd, args)}
		opts.Port, _ = cmd.Flags().GetInt("port")
		opts.Metrics, _ = cmd.Flags().GetBool("metrics")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return cli.Serve(ctx, opts)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().Bool("metrics", true, "Expose Prometheus metrics on /metrics")
}
