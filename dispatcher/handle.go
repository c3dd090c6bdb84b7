package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cilium/ebpf"

	dispatcherrors "xdp-dispatcher/errors"
	"xdp-dispatcher/lock"
	"xdp-dispatcher/logging"
	"xdp-dispatcher/revision"
)

// Install loads and binds every extension in sets onto iface's
// dispatcher, composing them with whatever survives from the current
// revision, and returns a handle the caller must Close when it is
// done participating.
//
// Install is synchronous and must not be called concurrently with
// another Install or with Close on the same handle; distinct
// processes targeting the same iface serialize automatically via the
// interface's named lock.
func Install(ctx context.Context, iface string, sets []ProgramSet, opts ...Option) (*DispatcherHandle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if len(sets) == 0 {
		return nil, dispatcherrors.ErrNoProgramSets
	}

	logger := logging.WithIface(o.logger, iface)

	if !o.skipMountCheck {
		if err := checkBPFFS(o.bpfRoot); err != nil {
			return nil, err
		}
	}

	dispatcherDir := revision.Dir(o.bpfRoot, iface)
	if err := os.MkdirAll(dispatcherDir, 0o755); err != nil {
		return nil, dispatcherrors.WrapWithIface(err, dispatcherrors.ErrIO, "create dispatcher directory", iface)
	}

	l, err := lock.Acquire(iface)
	if err != nil {
		return nil, dispatcherrors.WrapWithIface(err, dispatcherrors.ErrLockUnavailable, "acquire lock", iface)
	}
	if err := l.LockContext(ctx, o.lockTimeout, lockRetryDelay); err != nil {
		return nil, dispatcherrors.WrapWithIface(err, dispatcherrors.ErrLockUnavailable, "acquire lock", iface)
	}
	defer func() {
		if err := l.Unlock(); err != nil {
			logger.Warn("failed to release dispatcher lock", "error", err)
		}
	}()

	currentRev, err := revision.CurrentRev(dispatcherDir)
	if err != nil {
		return nil, dispatcherrors.WrapWithIface(err, dispatcherrors.ErrIO, "read current revision", iface)
	}

	currentExtDir := filepath.Join(dispatcherDir, strconv.Itoa(currentRev))
	var prev []extensionEntry
	if _, err := os.Stat(currentExtDir); err == nil {
		prev, err = discoverExtensions(o.loader, currentExtDir)
		if err != nil {
			return nil, dispatcherrors.WrapWithIface(err, dispatcherrors.ErrIO, "discover extensions", iface)
		}
	} else if !os.IsNotExist(err) {
		return nil, dispatcherrors.WrapWithIface(err, dispatcherrors.ErrIO, "stat current revision", iface)
	} else {
		currentExtDir = ""
	}

	// Prior-extension descriptors are only needed while binding; once the
	// new revision's links and pins exist, the kernel keeps the underlying
	// objects alive without them.
	defer func() {
		for _, e := range prev {
			e.prog.Close()
		}
	}()

	result, err := compose(o.loader, prev, sets)
	if err != nil {
		return nil, dispatcherrors.WrapWithIface(err, errKindOf(err), "compose extensions", iface)
	}

	swap, err := loadAndSwap(o.loader, logger, iface, dispatcherDir, currentExtDir, o.dispatcherBytecode, result.ordered)
	if err != nil {
		for _, c := range result.ownedBytecode {
			c.Close()
		}
		return nil, err
	}

	logger.Info("installed dispatcher revision", "revision_dir", swap.nextRevDir, "extensions", len(result.ordered), "new_nic_link", swap.dispatcherLinkCreated)

	nextRev, err := strconv.Atoi(filepath.Base(swap.nextRevDir))
	if err != nil {
		nextRev = currentRev + 1
	}

	slots := make([]SlotAssignment, len(result.ordered))
	for i, e := range result.ordered {
		slots[i] = SlotAssignment{
			Slot:        i,
			Priority:    e.attrs.Priority,
			EbpfID:      e.attrs.EbpfID,
			ProgramName: e.attrs.ProgramName,
			Loaded:      e.attrs.Loaded,
		}
	}

	return &DispatcherHandle{
		iface:              iface,
		bpfRoot:            o.bpfRoot,
		logger:             logger,
		loader:             o.loader,
		dispatcherBytecode: o.dispatcherBytecode,
		revision:           nextRev,
		slots:              slots,
		ownedBytecode:      result.ownedBytecode,
		ownedPriorities:    result.ownedPriorities,
	}, nil
}

// errKindOf recovers the ErrorKind from an already-typed error, or
// falls back to InvalidConfig for unexpected bare errors surfaced by
// compose's validation path.
func errKindOf(err error) dispatcherrors.ErrorKind {
	if kind, ok := dispatcherrors.GetKind(err); ok {
		return kind
	}
	return dispatcherrors.ErrInvalidConfig
}

// ByteCode returns the loaded collection for ebpfID if this handle is
// the one that loaded it this call, giving the owning participant
// access to its own maps.
func (h *DispatcherHandle) ByteCode(ebpfID string) (*ebpf.Collection, bool) {
	c, ok := h.ownedBytecode[ebpfID]
	if !ok {
		return nil, false
	}
	return c.Collection(), true
}

// Close performs a best-effort recomposition of iface's dispatcher
// omitting this handle's own extensions, then releases the kernel
// handles this call opened. Failures are logged at warn level; Close
// never panics and always returns nil so callers may defer it
// unconditionally.
func (h *DispatcherHandle) Close() error {
	if err := h.cleanup(); err != nil {
		h.logger.Warn("dispatcher cleanup failed", "error", err)
	}
	for ebpfID, c := range h.ownedBytecode {
		if err := c.Close(); err != nil {
			h.logger.Warn("failed to close owned collection", "ebpf_id", ebpfID, "error", err)
		}
	}
	return nil
}

// cleanup recomposes iface's dispatcher from its current revision
// minus this handle's own extensions. If nothing remains, the
// dispatcher link and revision directory are removed outright.
func (h *DispatcherHandle) cleanup() error {
	dispatcherDir := revision.Dir(h.bpfRoot, h.iface)

	l, err := lock.Acquire(h.iface)
	if err != nil {
		return err
	}
	if err := l.Lock(); err != nil {
		return err
	}
	defer l.Unlock()

	currentRev, err := revision.CurrentRev(dispatcherDir)
	if err != nil {
		return err
	}
	currentExtDir := filepath.Join(dispatcherDir, strconv.Itoa(currentRev))

	discovered, err := discoverExtensions(h.loader, currentExtDir)
	if err != nil {
		return err
	}
	defer func() {
		for _, e := range discovered {
			e.prog.Close()
		}
	}()

	var remaining []extensionEntry
	for _, e := range discovered {
		key := extensionKey{EbpfID: e.attrs.EbpfID, ProgramName: e.attrs.ProgramName}
		if owned, ok := h.ownedPriorities[key]; ok && owned == e.attrs.Priority {
			continue
		}
		remaining = append(remaining, e)
	}

	if len(remaining) == 0 {
		if err := os.Remove(filepath.Join(dispatcherDir, "dispatcher_link")); err != nil && !os.IsNotExist(err) {
			return err
		}
		return revision.Cleanup(currentExtDir)
	}

	result, err := compose(h.loader, remaining, nil)
	if err != nil {
		return err
	}

	_, err = loadAndSwap(h.loader, h.logger, h.iface, dispatcherDir, currentExtDir, h.dispatcherBytecode, result.ordered)
	return err
}
