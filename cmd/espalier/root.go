package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/aretw0/espalier/internal/cli"
	"github.com/aretw0/espalier/internal/presentation/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// EnvEncryptionKey provides the default for --encryption-key.
const EnvEncryptionKey = "ESPALIER_ENCRYPTION_KEY"

var rootCmd = &cobra.Command{
	Use:   "espalier",
	Short: "espalier runs graphs of LLM nodes",
	Long: `espalier executes pipelines of native, Lua and external-process nodes as a
dependency graph, running independent nodes concurrently over a shared context.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			tui.PrintBanner(os.Stdout)
		}
		_ = cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, cli.ErrRunFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "off", "Log level written to stderr: debug, info, warn, error or off")
	flags.String("commands", "", "Allow-list of process commands (default: commands.yaml next to the pipeline)")
	flags.String("redis-addr", "", "Record outcomes in Redis at this address")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database")
	flags.String("store-dir", "", "Record outcomes as JSON files in this directory")
	flags.String("encryption-key", os.Getenv(EnvEncryptionKey), "Encrypt stored outcomes with this AES-256 key (hex or base64)")
	flags.StringSlice("redact", nil, "Mask values whose names match these patterns before storing")
	flags.Duration("grace", 0, "Grace period for canceled nodes (default: pipeline setting)")
	flags.Int("max-concurrency", 0, "Maximum nodes running at once (default: pipeline setting)")
}

// engineOptions reads the shared flags.
func engineOptions(cmd *cobra.Command, args []string) cli.Options {
	flags := cmd.Flags()
	opts := cli.Options{}
	if len(args) > 0 {
		opts.PipelinePath = args[0]
	}
	opts.LogLevel, _ = flags.GetString("log-level")
	opts.CommandsPath, _ = flags.GetString("commands")
	opts.RedisAddr, _ = flags.GetString("redis-addr")
	opts.RedisPassword, _ = flags.GetString("redis-password")
	opts.RedisDB, _ = flags.GetInt("redis-db")
	opts.StoreDir, _ = flags.GetString("store-dir")
	opts.EncryptionKey, _ = flags.GetString("encryption-key")
	opts.Redact, _ = flags.GetStringSlice("redact")
	opts.GracePeriod, _ = flags.GetDuration("grace")
	opts.MaxConcurrency, _ = flags.GetInt("max-concurrency")
	return opts
}
