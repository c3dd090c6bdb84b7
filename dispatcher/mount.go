package dispatcher

import (
	"golang.org/x/sys/unix"

	dispatcherrors "xdp-dispatcher/errors"
)

// checkBPFFS verifies that path is mounted as a bpffs, so that pins
// written under it actually persist across process exit instead of
// silently living on whatever filesystem happens to be there.
func checkBPFFS(path string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return dispatcherrors.WrapWithDetail(err, dispatcherrors.ErrIO, "statfs bpf root", path)
	}
	if int64(st.Type) != unix.BPF_FS_MAGIC {
		return dispatcherrors.ErrBPFRootNotMounted
	}
	return nil
}
