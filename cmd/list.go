package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"xdp-dispatcher/dispatcher"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the extensions currently installed on an interface's dispatcher",
	Long: `List opens the current revision of the target interface's dispatcher
read-only and prints the installed extensions, their priorities, and
owning ebpf_ids. It does not load or bind any kernel object.`,
	RunE: runList,
}

var listIface string

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listIface, "iface", "", "network interface to inspect (required)")
	listCmd.MarkFlagRequired("iface")
}

func runList(cmd *cobra.Command, args []string) error {
	slots, err := dispatcher.List(GetBPFRoot(), listIface)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	if len(slots) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no extensions installed on %s\n", listIface)
		return nil
	}

	for _, s := range slots {
		fmt.Fprintf(cmd.OutOrStdout(), "slot %d: priority=%d ebpf_id=%s program=%s\n", s.Slot, s.Priority, s.EbpfID, s.ProgramName)
	}
	return nil
}
