package dispatcher

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	dispatcherrors "xdp-dispatcher/errors"
	"xdp-dispatcher/pin"
	"xdp-dispatcher/revision"
)

// List reports the extensions occupying iface's dispatcher in the
// current revision, without loading or binding any kernel object. It
// only decodes pin file names, so it is safe to call from a process
// that never intends to participate in the dispatcher itself.
func List(bpfRoot, iface string) ([]SlotAssignment, error) {
	dispatcherDir := revision.Dir(bpfRoot, iface)

	currentRev, err := revision.CurrentRev(dispatcherDir)
	if err != nil {
		return nil, dispatcherrors.WrapWithIface(err, dispatcherrors.ErrIO, "read current revision", iface)
	}
	if currentRev == 0 {
		return nil, nil
	}

	extDir := filepath.Join(dispatcherDir, strconv.Itoa(currentRev))
	entries, err := os.ReadDir(extDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, dispatcherrors.WrapWithIface(err, dispatcherrors.ErrIO, "read revision directory", iface)
	}

	var attrs []pin.ExtensionAttrs
	for _, e := range entries {
		a, ok := pin.Decode(e.Name())
		if !ok {
			continue
		}
		attrs = append(attrs, a)
	}

	sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].Priority < attrs[j].Priority })

	slots := make([]SlotAssignment, len(attrs))
	for i, a := range attrs {
		slots[i] = SlotAssignment{
			Slot:        i,
			Priority:    a.Priority,
			EbpfID:      a.EbpfID,
			ProgramName: a.ProgramName,
			Loaded:      a.Loaded,
		}
	}
	return slots, nil
}
