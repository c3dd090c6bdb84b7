// Package dispatcher installs and retires XDP extension programs on a
// fixed ten-slot in-kernel dispatcher program, using the BPF filesystem
// as the cross-process source of truth for which extension occupies
// which slot.
package dispatcher

import (
	"log/slog"
	"time"

	"xdp-dispatcher/logging"
)

// MaxPrograms is the compile-time ceiling on extensions a single
// dispatcher instance can hold, dictated by the dispatcher byte code's
// ten exported attachment points (prog0 … prog9).
const MaxPrograms = 10

// defaultBPFRoot is the default BPF filesystem mount point under which
// every interface's dispatcher_{iface} directory is created.
const defaultBPFRoot = "/sys/fs/bpf/xdp-dispatcher"

// defaultLockTimeout bounds how long Install waits to acquire the
// interface's named lock before giving up. Close does not use it: its
// cleanup blocks on the lock until it is acquired.
const defaultLockTimeout = 10 * time.Second

// lockRetryDelay is the polling interval used while waiting on the
// interface's named lock under a timeout.
const lockRetryDelay = 50 * time.Millisecond

// defaultProceedOnMask is the chain-call-action bitmask applied to all
// ten slots: bit 2 and bit 31 of the XDP return code cause the
// dispatcher to proceed to the next slot rather than return to the
// kernel.
func defaultProceedOnMask() uint32 {
	return 1<<2 | 1<<31
}

// ProgramPriority names one program within a ProgramSet's byte code
// and the priority at which it should bind.
type ProgramPriority struct {
	Name     string
	Priority uint8
}

// ProgramSet describes one participant's byte code and the named
// programs within it that should become dispatcher extensions.
type ProgramSet struct {
	EbpfID   string
	Bytecode []byte
	Programs []ProgramPriority
}

// NewProgramSet starts a ProgramSet for the byte code blob identified
// by ebpfID. Call WithPriority to register the programs within it
// that should bind to the dispatcher.
func NewProgramSet(ebpfID string, bytecode []byte) ProgramSet {
	return ProgramSet{EbpfID: ebpfID, Bytecode: bytecode}
}

// WithPriority registers programName as a dispatcher extension at the
// given priority. Lower priority values bind earlier; ties are broken
// by call order.
func (p ProgramSet) WithPriority(programName string, priority uint8) ProgramSet {
	p.Programs = append(p.Programs, ProgramPriority{Name: programName, Priority: priority})
	return p
}

// DispatcherConfig is communicated to the dispatcher byte code at load
// time as its CONFIG global. Field order and types must match the
// byte code's expected layout exactly: a uint8 followed by a
// naturally-aligned [10]uint32, matching the C struct the dispatcher
// program reads.
type DispatcherConfig struct {
	NumProgsEnabled  uint8
	ChainCallActions [10]uint32
}

// newDispatcherConfig builds the config for a load of totalPrograms
// extensions, applying the default chain-call-action mask to every
// slot.
func newDispatcherConfig(totalPrograms int) DispatcherConfig {
	cfg := DispatcherConfig{NumProgsEnabled: uint8(totalPrograms)}
	mask := defaultProceedOnMask()
	for i := range cfg.ChainCallActions {
		cfg.ChainCallActions[i] = mask
	}
	return cfg
}

// options configures an Install call beyond its required iface and
// ProgramSets.
type options struct {
	bpfRoot            string
	lockTimeout        time.Duration
	logger             *slog.Logger
	dispatcherBytecode []byte
	loader             kernelLoader
	skipMountCheck     bool
}

func defaultOptions() options {
	return options{
		bpfRoot:            defaultBPFRoot,
		lockTimeout:        defaultLockTimeout,
		logger:             logging.Default(),
		dispatcherBytecode: embeddedDispatcherBytecode,
		loader:             realLoader{},
	}
}

// Option customizes Install's behavior.
type Option func(*options)

// WithBPFRoot overrides the BPF filesystem mount point under which
// dispatcher state is kept. Defaults to /sys/fs/bpf/xdp-dispatcher.
func WithBPFRoot(path string) Option {
	return func(o *options) { o.bpfRoot = path }
}

// WithLockTimeout bounds how long Install waits to acquire the
// interface's named lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// WithLogger overrides the logger used for this Install call and the
// resulting handle's Close.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDispatcherBytecode overrides the embedded dispatcher byte code,
// for loading a non-default build of the dispatcher program.
func WithDispatcherBytecode(bytecode []byte) Option {
	return func(o *options) { o.dispatcherBytecode = bytecode }
}

// withLoader overrides the kernel loading seam. Unexported: only test
// code within the package substitutes a fake loader.
func withLoader(loader kernelLoader) Option {
	return func(o *options) { o.loader = loader }
}

// withSkipMountCheck disables the bpffs statfs check. Unexported:
// tests run against a plain t.TempDir(), not a real bpffs mount.
func withSkipMountCheck() Option {
	return func(o *options) { o.skipMountCheck = true }
}

// DispatcherHandle is owned by the installing process for the
// lifetime of its participation in one interface's dispatcher. It is
// not safe to call Close concurrently with itself or with another
// Install targeting the same iface; callers serialize at the
// interface level via the named lock regardless, but a single
// process must not race its own handle against itself.
type DispatcherHandle struct {
	iface              string
	bpfRoot            string
	logger             *slog.Logger
	loader             kernelLoader
	dispatcherBytecode []byte
	revision           int
	slots              []SlotAssignment

	// ownedBytecode maps ebpf_id to the kernel collection this handle
	// loaded for it, giving the caller access to that byte code's own
	// maps via ByteCode.
	ownedBytecode map[string]*collectionHandle

	// ownedPriorities maps (ebpf_id, program_name) to the priority this
	// handle requested, used by Close to distinguish its own extensions
	// from ones owned by other processes when recomposing on drop.
	ownedPriorities map[extensionKey]uint8
}

// SlotAssignment reports which extension occupies one dispatcher slot
// after an Install call.
type SlotAssignment struct {
	Slot        int
	Priority    uint8
	EbpfID      string
	ProgramName string
	Loaded      bool
}

// Iface returns the network interface this handle's dispatcher is
// attached to.
func (h *DispatcherHandle) Iface() string {
	return h.iface
}

// Revision returns the revision number installed by this call.
func (h *DispatcherHandle) Revision() int {
	return h.revision
}

// Slots returns the slot assignments installed by this call, ordered
// by slot index.
func (h *DispatcherHandle) Slots() []SlotAssignment {
	return h.slots
}

// extensionKey identifies one extension slot by its (ebpf_id,
// program_name) pair, independent of priority.
type extensionKey struct {
	EbpfID      string
	ProgramName string
}
