// Package cmd implements the CLI commands for xdp-dispatcher.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"xdp-dispatcher/logging"
)

// Global flags.
var (
	globalBPFRoot   string
	globalLog       string
	globalLogFormat string
	globalDebug     bool
)

// rootCmd is the base command for xdp-dispatcher.
var rootCmd = &cobra.Command{
	Use:   "xdp-dispatcher",
	Short: "Multiplex XDP programs onto a fixed ten-slot in-kernel dispatcher",
	Long: `xdp-dispatcher is a userspace control plane for sharing one network
interface's XDP hook among several independently-authored programs. It
composes and swaps a fixed ten-slot in-kernel dispatcher, using the BPF
filesystem as the cross-process source of truth for which extension
occupies which slot.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

// GetBPFRoot returns the configured BPF filesystem root.
func GetBPFRoot() string {
	if globalBPFRoot != "" {
		return globalBPFRoot
	}
	return "/sys/fs/bpf/xdp-dispatcher"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalBPFRoot, "bpf-root", "", "BPF filesystem root for dispatcher state (default: /sys/fs/bpf/xdp-dispatcher)")
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "set the log file path")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for log output (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
}

func setupLogging() {
	logOutput := os.Stderr
	if globalLog != "" {
		f, err := os.OpenFile(globalLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err == nil {
			logOutput = f
		}
	}

	logLevel := slog.LevelInfo
	if globalDebug {
		logLevel = slog.LevelDebug
	}

	logger := logging.NewLogger(logging.Config{
		Level:  logLevel,
		Format: globalLogFormat,
		Output: logOutput,
	})
	logging.SetDefault(logger)
}
