package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"xdp-dispatcher/dispatcher"
	"xdp-dispatcher/idgen"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install a byte code's programs as dispatcher extensions",
	Long: `Install loads one byte code object and binds the named programs
within it onto the target interface's dispatcher at the given
priorities, composing with whatever other extensions already hold a
slot. The process blocks holding its participation until interrupted,
at which point its extensions are gracefully retired.`,
	RunE: runInstall,
}

var (
	installIface      string
	installBytecode   string
	installPriorities []string
)

func init() {
	rootCmd.AddCommand(installCmd)

	installCmd.Flags().StringVar(&installIface, "iface", "", "network interface to attach the dispatcher to (required)")
	installCmd.Flags().StringVar(&installBytecode, "bytecode", "", "path to the compiled eBPF object file (required)")
	installCmd.Flags().StringArrayVar(&installPriorities, "priority", nil, "program_name=priority, repeatable (required at least once)")

	installCmd.MarkFlagRequired("iface")
	installCmd.MarkFlagRequired("bytecode")
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	bytecode, err := os.ReadFile(installBytecode)
	if err != nil {
		return fmt.Errorf("read byte code: %w", err)
	}

	programs, err := parsePriorities(installPriorities)
	if err != nil {
		return err
	}
	if len(programs) == 0 {
		return fmt.Errorf("at least one --priority name=prio is required")
	}

	ebpfID, err := idgen.New()
	if err != nil {
		return fmt.Errorf("generate ebpf_id: %w", err)
	}

	set := dispatcher.NewProgramSet(ebpfID, bytecode)
	for _, p := range programs {
		set = set.WithPriority(p.name, p.priority)
	}

	handle, err := dispatcher.Install(ctx, installIface, []dispatcher.ProgramSet{set}, dispatcher.WithBPFRoot(GetBPFRoot()))
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}
	defer handle.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "installed ebpf_id=%s revision=%d on %s\n", ebpfID, handle.Revision(), installIface)
	for _, s := range handle.Slots() {
		fmt.Fprintf(cmd.OutOrStdout(), "  slot %d: priority=%d ebpf_id=%s program=%s\n", s.Slot, s.Priority, s.EbpfID, s.ProgramName)
	}

	<-ctx.Done()
	fmt.Fprintf(cmd.OutOrStdout(), "retiring ebpf_id=%s from %s\n", ebpfID, installIface)
	return nil
}

type namedPriority struct {
	name     string
	priority uint8
}

func parsePriorities(raw []string) ([]namedPriority, error) {
	out := make([]namedPriority, 0, len(raw))
	for _, r := range raw {
		name, prioStr, ok := strings.Cut(r, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --priority %q, want name=priority", r)
		}
		prio, err := strconv.ParseUint(prioStr, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid --priority %q: %w", r, err)
		}
		out = append(out, namedPriority{name: name, priority: uint8(prio)})
	}
	return out, nil
}
