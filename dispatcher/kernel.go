package dispatcher

import (
	"bytes"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/vishvananda/netlink"

	dispatcherrors "xdp-dispatcher/errors"
)

// kernelProgram is a loaded eBPF program, pinnable independently of
// any link bound to it.
type kernelProgram interface {
	Pin(path string) error
	Close() error
}

// kernelLink is a live attachment of a program to a hook point or to
// another program's extension point, pinnable to the BPF filesystem.
type kernelLink interface {
	Pin(path string) error
	Close() error
}

// dispatcherProgram is a loaded, verified dispatcher program, ready to
// accept extensions at its named slots.
type dispatcherProgram interface {
	kernelProgram
	// slotName returns the attachment target name for slot i, e.g. "prog3".
	slotName(i int) string
}

// kernelLoader is the seam between dispatcher's pure composition logic
// and the real kernel. Tests substitute a fake implementation so that
// slot arithmetic, pin-path bookkeeping, and priority ordering can be
// exercised without a running kernel or an XDP-capable NIC.
type kernelLoader interface {
	// LoadDispatcher parses and verify-loads the dispatcher byte code,
	// baking in cfg as its CONFIG global.
	LoadDispatcher(bytecode []byte, cfg DispatcherConfig) (dispatcherProgram, error)
	// LoadExtensions loads one collection from bytecode and returns its
	// named programs, plus a handle the caller must Close when the
	// collection is no longer needed.
	LoadExtensions(bytecode []byte, names []string) (map[string]kernelProgram, *collectionHandle, error)
	// LoadPinnedExtension reopens a previously pinned extension program.
	LoadPinnedExtension(path string) (kernelProgram, error)
	// BindSlot attaches ext to the dispatcher's slot-th attachment
	// point, returning the resulting link.
	BindSlot(d dispatcherProgram, slot int, ext kernelProgram) (kernelLink, error)
	// AttachNIC attaches the dispatcher program to iface.
	AttachNIC(iface string, d dispatcherProgram) (kernelLink, error)
	// LoadPinnedLink reopens a previously pinned link.
	LoadPinnedLink(path string) (kernelLink, error)
	// UpdateLink retargets an existing link to point at a new
	// dispatcher program, atomically from the NIC's perspective.
	UpdateLink(l kernelLink, d dispatcherProgram) error
}

// collectionHandle keeps a loaded collection's maps alive for the
// lifetime of a DispatcherHandle's ownership of that byte code.
type collectionHandle struct {
	coll *ebpf.Collection
}

// Collection returns the underlying loaded collection, giving the
// owning participant access to its own maps.
func (c *collectionHandle) Collection() *ebpf.Collection {
	return c.coll
}

func (c *collectionHandle) Close() error {
	if c.coll != nil {
		c.coll.Close()
	}
	return nil
}

// realLoader implements kernelLoader against an actual kernel via
// cilium/ebpf.
type realLoader struct{}

type realProgram struct {
	prog *ebpf.Program
}

func (p *realProgram) Close() error { return p.prog.Close() }

func (p *realProgram) Pin(path string) error { return p.prog.Pin(path) }

type realDispatcherProgram struct {
	coll *ebpf.Collection
	prog *ebpf.Program
}

func (d *realDispatcherProgram) Close() error { d.coll.Close(); return nil }

func (d *realDispatcherProgram) Pin(path string) error { return d.prog.Pin(path) }

func (d *realDispatcherProgram) slotName(i int) string { return fmt.Sprintf("prog%d", i) }

type realLink struct {
	l link.Link
}

func (l *realLink) Pin(path string) error { return l.l.Pin(path) }

func (l *realLink) Close() error { return l.l.Close() }

const dispatcherProgramName = "dispatcher"

func (realLoader) LoadDispatcher(bytecode []byte, cfg DispatcherConfig) (dispatcherProgram, error) {
	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(bytecode))
	if err != nil {
		return nil, dispatcherrors.Wrap(err, dispatcherrors.ErrKernelLoad, "parse dispatcher bytecode")
	}

	if v, ok := spec.Variables["CONFIG"]; ok {
		if err := v.Set(cfg); err != nil {
			return nil, dispatcherrors.Wrap(err, dispatcherrors.ErrKernelLoad, "set dispatcher config")
		}
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, dispatcherrors.WrapWithDetail(err, dispatcherrors.ErrKernelLoad, "load dispatcher collection", "verifier rejected dispatcher program")
	}

	prog, ok := coll.Programs[dispatcherProgramName]
	if !ok {
		coll.Close()
		return nil, dispatcherrors.New(dispatcherrors.ErrKernelLoad, "load dispatcher collection", "collection has no \"dispatcher\" program")
	}

	return &realDispatcherProgram{coll: coll, prog: prog}, nil
}

func (realLoader) LoadExtensions(bytecode []byte, names []string) (map[string]kernelProgram, *collectionHandle, error) {
	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(bytecode))
	if err != nil {
		return nil, nil, dispatcherrors.Wrap(err, dispatcherrors.ErrKernelLoad, "parse extension bytecode")
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, nil, dispatcherrors.WrapWithDetail(err, dispatcherrors.ErrKernelLoad, "load extension collection", "verifier rejected extension program")
	}

	out := make(map[string]kernelProgram, len(names))
	for _, name := range names {
		prog, ok := coll.Programs[name]
		if !ok {
			coll.Close()
			return nil, nil, dispatcherrors.New(dispatcherrors.ErrKernelLoad, "load extension collection", fmt.Sprintf("collection has no %q program", name))
		}
		out[name] = &realProgram{prog: prog}
	}

	return out, &collectionHandle{coll: coll}, nil
}

func (realLoader) LoadPinnedExtension(path string) (kernelProgram, error) {
	prog, err := ebpf.LoadPinnedProgram(path, nil)
	if err != nil {
		return nil, dispatcherrors.WrapWithDetail(err, dispatcherrors.ErrMissingPinComponent, "load pinned extension", path)
	}
	return &realProgram{prog: prog}, nil
}

func (realLoader) BindSlot(d dispatcherProgram, slot int, ext kernelProgram) (kernelLink, error) {
	rd, ok := d.(*realDispatcherProgram)
	if !ok {
		return nil, dispatcherrors.New(dispatcherrors.ErrKernelLoad, "bind slot", "dispatcher program is not kernel-backed")
	}
	rp, ok := ext.(*realProgram)
	if !ok {
		return nil, dispatcherrors.New(dispatcherrors.ErrKernelLoad, "bind slot", "extension program is not kernel-backed")
	}

	l, err := link.AttachFreplace(rd.prog, rd.slotName(slot), rp.prog)
	if err != nil {
		return nil, dispatcherrors.WrapWithDetail(err, dispatcherrors.ErrKernelLoad, "bind slot", rd.slotName(slot))
	}
	return &realLink{l: l}, nil
}

func (realLoader) AttachNIC(iface string, d dispatcherProgram) (kernelLink, error) {
	nlLink, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, dispatcherrors.WrapWithIface(err, dispatcherrors.ErrKernelLoad, "resolve interface", iface)
	}

	rd, ok := d.(*realDispatcherProgram)
	if !ok {
		return nil, dispatcherrors.New(dispatcherrors.ErrKernelLoad, "attach nic", "dispatcher program is not kernel-backed")
	}

	l, err := link.AttachXDP(link.XDPOptions{
		Program:   rd.prog,
		Interface: nlLink.Attrs().Index,
	})
	if err != nil {
		return nil, dispatcherrors.WrapWithIface(err, dispatcherrors.ErrKernelLoad, "attach dispatcher to nic", iface)
	}
	return &realLink{l: l}, nil
}

func (realLoader) LoadPinnedLink(path string) (kernelLink, error) {
	l, err := link.LoadPinnedLink(path, nil)
	if err != nil {
		return nil, dispatcherrors.WrapWithDetail(err, dispatcherrors.ErrMissingPinComponent, "load pinned link", path)
	}
	return &realLink{l: l}, nil
}

func (realLoader) UpdateLink(kl kernelLink, d dispatcherProgram) error {
	rl, ok := kl.(*realLink)
	if !ok {
		return dispatcherrors.New(dispatcherrors.ErrKernelLoad, "update link", "link is not kernel-backed")
	}
	rd, ok := d.(*realDispatcherProgram)
	if !ok {
		return dispatcherrors.New(dispatcherrors.ErrKernelLoad, "update link", "dispatcher program is not kernel-backed")
	}
	if err := rl.l.Update(rd.prog); err != nil {
		return dispatcherrors.Wrap(err, dispatcherrors.ErrKernelLoad, "update link")
	}
	return nil
}
