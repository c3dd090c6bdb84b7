package dispatcher

// extensionSource abstracts the two origins an extension program can
// have when it is about to be bound to a dispatcher slot: freshly
// loaded this call, or reopened from a previous revision's pin. Both
// ultimately bind via the same freplace attach primitive, and the
// resulting link and extension are pinned the same way for both; the
// distinction records whether the program's collection belongs to this
// call (a fresh extension's collection is kept on the handle for
// ByteCode access, a prior one's is not).
type extensionSource interface {
	bindToSlot(loader kernelLoader, d dispatcherProgram, slot int) (kernelLink, error)
}

// freshExtension is an extension loaded from a ProgramSet supplied to
// this Install call.
type freshExtension struct {
	prog kernelProgram
}

func (f freshExtension) bindToSlot(loader kernelLoader, d dispatcherProgram, slot int) (kernelLink, error) {
	return loader.BindSlot(d, slot, f.prog)
}

// priorExtension is an extension discovered from the current
// revision's pins, carried forward into the next one.
type priorExtension struct {
	prog kernelProgram
}

func (p priorExtension) bindToSlot(loader kernelLoader, d dispatcherProgram, slot int) (kernelLink, error) {
	return loader.BindSlot(d, slot, p.prog)
}

// sourceFor returns the extensionSource for an entry based on whether
// it was discovered from disk or freshly loaded this call.
func sourceFor(e extensionEntry) extensionSource {
	if e.attrs.Loaded {
		return priorExtension{prog: e.prog}
	}
	return freshExtension{prog: e.prog}
}
