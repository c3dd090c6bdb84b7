package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"xdp-dispatcher/dispatcher"
	"xdp-dispatcher/logging"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Forcibly remove an interface's dispatcher state",
	Long: `Cleanup is an operator escape hatch: it removes every revision
directory and the NIC-level link for the target interface outright,
regardless of which participants believe they still hold a slot. It
does not attempt the graceful recomposition a participant's own exit
performs, and should only be used to recover a dispatcher stuck in a
bad state.`,
	RunE: runCleanup,
}

var (
	cleanupIface string
	cleanupAll   bool
)

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().StringVar(&cleanupIface, "iface", "", "network interface to tear down (required)")
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "confirm removal of all dispatcher state for this interface")
	cleanupCmd.MarkFlagRequired("iface")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if !cleanupAll {
		return fmt.Errorf("cleanup is destructive, pass --all to confirm")
	}

	logging.Default().Warn("forcibly removing dispatcher state", "iface", cleanupIface, "bpf_root", GetBPFRoot())

	if err := dispatcher.Purge(GetBPFRoot(), cleanupIface); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "removed dispatcher state for %s\n", cleanupIface)
	return nil
}
