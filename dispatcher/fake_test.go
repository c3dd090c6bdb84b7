package dispatcher

import (
	"fmt"
	"os"
	"sync"

	dispatcherrors "xdp-dispatcher/errors"
)

// fakeLoader substitutes the real kernel for tests, exercising the
// same pin-path and priority-ordering logic without a running kernel
// or an XDP-capable NIC.
type fakeLoader struct {
	mu             sync.Mutex
	lastConfig     DispatcherConfig
	extensionCalls int
	linksByPath    map[string]*fakeLink
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		linksByPath: make(map[string]*fakeLink),
	}
}

type fakeProgram struct {
	name string
}

func (p *fakeProgram) Close() error { return nil }

func (p *fakeProgram) Pin(path string) error {
	return os.WriteFile(path, []byte(p.name), 0o644)
}

type fakeDispatcherProgram struct {
	cfg DispatcherConfig
}

func (d *fakeDispatcherProgram) Close() error { return nil }

func (d *fakeDispatcherProgram) Pin(path string) error { return os.WriteFile(path, nil, 0o644) }

func (d *fakeDispatcherProgram) slotName(i int) string { return fmt.Sprintf("prog%d", i) }

type fakeLink struct {
	loader *fakeLoader
	target *fakeDispatcherProgram
}

func (l *fakeLink) Pin(path string) error {
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return err
	}
	l.loader.mu.Lock()
	l.loader.linksByPath[path] = l
	l.loader.mu.Unlock()
	return nil
}

func (l *fakeLink) Close() error { return nil }

func (f *fakeLoader) LoadDispatcher(bytecode []byte, cfg DispatcherConfig) (dispatcherProgram, error) {
	f.mu.Lock()
	f.lastConfig = cfg
	f.mu.Unlock()
	return &fakeDispatcherProgram{cfg: cfg}, nil
}

func (f *fakeLoader) LoadExtensions(bytecode []byte, names []string) (map[string]kernelProgram, *collectionHandle, error) {
	f.mu.Lock()
	f.extensionCalls++
	f.mu.Unlock()

	out := make(map[string]kernelProgram, len(names))
	for _, name := range names {
		out[name] = &fakeProgram{name: name}
	}
	return out, &collectionHandle{}, nil
}

func (f *fakeLoader) LoadPinnedExtension(path string) (kernelProgram, error) {
	// Reopen from disk content, mirroring how a real pin survives the
	// loader that created it.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dispatcherrors.WrapWithDetail(err, dispatcherrors.ErrMissingPinComponent, "load pinned extension", path)
	}
	return &fakeProgram{name: string(data)}, nil
}

func (f *fakeLoader) BindSlot(d dispatcherProgram, slot int, ext kernelProgram) (kernelLink, error) {
	fd, ok := d.(*fakeDispatcherProgram)
	if !ok {
		return nil, fmt.Errorf("fakeLoader: not a fake dispatcher program")
	}
	return &fakeLink{loader: f, target: fd}, nil
}

func (f *fakeLoader) AttachNIC(iface string, d dispatcherProgram) (kernelLink, error) {
	fd, ok := d.(*fakeDispatcherProgram)
	if !ok {
		return nil, fmt.Errorf("fakeLoader: not a fake dispatcher program")
	}
	return &fakeLink{loader: f, target: fd}, nil
}

func (f *fakeLoader) LoadPinnedLink(path string) (kernelLink, error) {
	f.mu.Lock()
	l, ok := f.linksByPath[path]
	f.mu.Unlock()
	if !ok {
		return nil, dispatcherrors.WrapWithDetail(fmt.Errorf("not found"), dispatcherrors.ErrMissingPinComponent, "load pinned link", path)
	}
	return l, nil
}

func (f *fakeLoader) UpdateLink(kl kernelLink, d dispatcherProgram) error {
	fl, ok := kl.(*fakeLink)
	if !ok {
		return fmt.Errorf("fakeLoader: not a fake link")
	}
	fd, ok := d.(*fakeDispatcherProgram)
	if !ok {
		return fmt.Errorf("fakeLoader: not a fake dispatcher program")
	}
	f.mu.Lock()
	fl.target = fd
	f.mu.Unlock()
	return nil
}
