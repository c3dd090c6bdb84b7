// xdp-dispatcher is a userspace control plane for sharing one network
// interface's XDP hook among several independently-authored eBPF
// programs.
//
// Commands:
//
//	install  - Load a byte code's programs as dispatcher extensions
//	list     - List the extensions installed on an interface's dispatcher
//	cleanup  - Forcibly remove an interface's dispatcher state
package main

import (
	"fmt"
	"os"

	"xdp-dispatcher/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "xdp-dispatcher:", err)
		os.Exit(1)
	}
}
