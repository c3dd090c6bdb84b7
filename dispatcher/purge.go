package dispatcher

import (
	"os"

	dispatcherrors "xdp-dispatcher/errors"
	"xdp-dispatcher/lock"
	"xdp-dispatcher/revision"
)

// Purge removes every revision directory and the NIC link for iface
// outright, regardless of which participants still believe they own a
// slot. It is an operator escape hatch for a dispatcher stuck in a bad
// state and does not attempt the graceful recomposition Close performs.
func Purge(bpfRoot, iface string) error {
	dispatcherDir := revision.Dir(bpfRoot, iface)

	l, err := lock.Acquire(iface)
	if err != nil {
		return dispatcherrors.WrapWithIface(err, dispatcherrors.ErrLockUnavailable, "acquire lock", iface)
	}
	if err := l.Lock(); err != nil {
		return dispatcherrors.WrapWithIface(err, dispatcherrors.ErrLockUnavailable, "acquire lock", iface)
	}
	defer l.Unlock()

	if err := os.RemoveAll(dispatcherDir); err != nil {
		return dispatcherrors.WrapWithIface(err, dispatcherrors.ErrIO, "remove dispatcher state", iface)
	}
	return nil
}
