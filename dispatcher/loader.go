package dispatcher

import (
	"fmt"
	"log/slog"
	"path/filepath"

	dispatcherrors "xdp-dispatcher/errors"
	"xdp-dispatcher/pin"
	"xdp-dispatcher/revision"
)

// swapResult reports where the new revision landed, for the caller to
// log and for tests to assert against.
type swapResult struct {
	nextRevDir            string
	dispatcherLinkCreated bool
}

// loadAndSwap loads the dispatcher byte code configured for
// len(ordered) extensions, binds each ordered extension to its slot in
// priority order, pins everything under dispatcherDir's next revision,
// and atomically retargets (or creates) the NIC-level dispatcher_link.
//
// When an existing dispatcher_link is retargeted, the previous revision
// directory is removed afterwards (a removal failure is only logged);
// when the NIC link is created fresh, no previous revision directory is
// removed. Previous revision extension pins stay alive under the kernel's reference
// counting until every link and pin into them is gone, so packets in
// flight during the swap observe either the old or the new dispatcher,
// never a gap.
func loadAndSwap(loader kernelLoader, logger *slog.Logger, iface, dispatcherDir, currentExtDir string, bytecode []byte, ordered []extensionEntry) (*swapResult, error) {
	cfg := newDispatcherConfig(len(ordered))

	nextRevDir, err := revision.AllocateNext(dispatcherDir)
	if err != nil {
		return nil, err
	}

	dispatcherProg, err := loader.LoadDispatcher(bytecode, cfg)
	if err != nil {
		return nil, err
	}
	defer dispatcherProg.Close()

	for i, entry := range ordered {
		src := sourceFor(entry)

		slotLink, err := src.bindToSlot(loader, dispatcherProg, i)
		if err != nil {
			return nil, dispatcherrors.WrapWithDetail(err, dispatcherrors.ErrKernelLoad, "bind extension to slot", fmt.Sprintf("slot %d (%s/%s)", i, entry.attrs.EbpfID, entry.attrs.ProgramName))
		}

		linkPin := filepath.Join(nextRevDir, fmt.Sprintf("link_%d", i))
		if err := slotLink.Pin(linkPin); err != nil {
			return nil, dispatcherrors.WrapWithDetail(err, dispatcherrors.ErrIO, "pin slot link", linkPin)
		}

		extPin := filepath.Join(nextRevDir, pin.Encode(entry.attrs))
		if err := entry.prog.Pin(extPin); err != nil {
			return nil, dispatcherrors.WrapWithDetail(err, dispatcherrors.ErrIO, "pin extension", extPin)
		}

		logger.Debug("bound extension to slot", "slot", i, "ebpf_id", entry.attrs.EbpfID, "program", entry.attrs.ProgramName)
	}

	dispatcherPin := filepath.Join(nextRevDir, "dispatcher_pin")
	if err := dispatcherProg.Pin(dispatcherPin); err != nil {
		return nil, dispatcherrors.WrapWithDetail(err, dispatcherrors.ErrIO, "pin dispatcher program", dispatcherPin)
	}

	result := &swapResult{nextRevDir: nextRevDir}

	dispatcherLinkPath := filepath.Join(dispatcherDir, "dispatcher_link")
	if existing, err := loader.LoadPinnedLink(dispatcherLinkPath); err == nil {
		if err := loader.UpdateLink(existing, dispatcherProg); err != nil {
			return nil, dispatcherrors.WrapWithIface(err, dispatcherrors.ErrKernelLoad, "retarget dispatcher link", iface)
		}
		if currentExtDir != "" {
			if err := revision.Cleanup(currentExtDir); err != nil {
				logger.Warn("failed to clean up previous revision", "path", currentExtDir, "error", err)
			}
		}
	} else {
		nicLink, err := loader.AttachNIC(iface, dispatcherProg)
		if err != nil {
			return nil, err
		}
		if err := nicLink.Pin(dispatcherLinkPath); err != nil {
			return nil, dispatcherrors.WrapWithDetail(err, dispatcherrors.ErrIO, "pin dispatcher link", dispatcherLinkPath)
		}
		result.dispatcherLinkCreated = true
	}

	return result, nil
}
