package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/espalier/internal/cli"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <pipeline>",
	Short: "Run a pipeline once",
	Long: `Loads the pipeline file, runs it with the given inputs and prints the outcome.
Inputs are given as name=value pairs; values that parse as JSON keep their type.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.RunOptions{Options: engineOptions(cmd, args)}
		opts.Inputs, _ = cmd.Flags().GetStringArray("input")
		opts.InputsJSON, _ = cmd.Flags().GetString("inputs")
		opts.RunID, _ = cmd.Flags().GetString("run-id")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Partial, _ = cmd.Flags().GetBool("partial")
		opts.Timeout, _ = cmd.Flags().GetDuration("timeout")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return cli.Run(ctx, opts, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayP("input", "i", nil, "Input as name=value (repeatable)")
	runCmd.Flags().String("inputs", "", "Inputs as a JSON object")
	runCmd.Flags().String("run-id", "", "Run ID to record the outcome under (default: random)")
	runCmd.Flags().Bool("json", false, "Print the outcome as JSON")
	runCmd.Flags().Bool("partial", false, "Keep values merged before a failure in the outcome")
	runCmd.Flags().Duration("timeout", 0, "Cancel the run after this long")
}
