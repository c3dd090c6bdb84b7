// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Slot and composition errors.
var (
	// ErrTooManyPrograms indicates the merged extension set exceeds the
	// ten-slot compile-time ceiling.
	ErrTooManyPrograms = &DispatcherError{
		Kind:   ErrSlotsExhausted,
		Detail: "total extensions exceed the maximum of 10 slots",
	}

	// ErrDuplicateProgram indicates two entries share an (ebpf_id, program_name) pair.
	ErrDuplicateProgram = &DispatcherError{
		Kind:   ErrInvalidConfig,
		Detail: "duplicate (ebpf_id, program_name) pair within a revision",
	}

	// ErrEmptyProgramSet indicates a ProgramSet with zero named programs was supplied.
	ErrEmptyProgramSet = &DispatcherError{
		Kind:   ErrInvalidConfig,
		Detail: "program set has no named programs",
	}

	// ErrNoProgramSets indicates an install was attempted with no program sets at all.
	ErrNoProgramSets = &DispatcherError{
		Kind:   ErrInvalidConfig,
		Detail: "no program sets provided",
	}

	// ErrEbpfIDContainsUnderscore indicates an ebpf_id violates the pin-name
	// encoding's reserved-character constraint.
	ErrEbpfIDContainsUnderscore = &DispatcherError{
		Kind:   ErrInvalidConfig,
		Detail: "ebpf_id must not contain underscores",
	}

	// ErrEbpfIDContainsSlash indicates an ebpf_id contains a path separator.
	ErrEbpfIDContainsSlash = &DispatcherError{
		Kind:   ErrInvalidConfig,
		Detail: "ebpf_id must not contain slashes",
	}

	// ErrProgramNameContainsSlash indicates a program name contains a path separator.
	ErrProgramNameContainsSlash = &DispatcherError{
		Kind:   ErrInvalidConfig,
		Detail: "program name must not contain slashes",
	}
)

// Filesystem and pin lifecycle errors.
var (
	// ErrRevisionDirMissing indicates the expected revision directory was
	// removed by a racing process before it could be read.
	ErrRevisionDirMissing = &DispatcherError{
		Kind:   ErrMissingPinComponent,
		Detail: "revision directory missing",
	}

	// ErrDispatcherLinkMissing indicates the NIC-level pinned link vanished
	// between the existence check and the open.
	ErrDispatcherLinkMissing = &DispatcherError{
		Kind:   ErrMissingPinComponent,
		Detail: "dispatcher link pin missing",
	}

	// ErrBPFRootNotMounted indicates bpf_root is not a bpffs mount point.
	ErrBPFRootNotMounted = &DispatcherError{
		Kind:   ErrIO,
		Detail: "bpf filesystem root is not a bpffs mount",
	}
)

// Lock errors.
var (
	// ErrLockHeldElsewhere indicates another process holds the interface lock.
	ErrLockHeldElsewhere = &DispatcherError{
		Kind:   ErrLockUnavailable,
		Detail: "dispatcher lock held by another process",
	}

	// ErrLockAlreadyHeld indicates a single process attempted to reacquire
	// its own interface lock re-entrantly.
	ErrLockAlreadyHeld = &DispatcherError{
		Kind:   ErrLockUnavailable,
		Detail: "dispatcher lock already held by this process",
	}
)

// Kernel interaction errors.
var (
	// ErrDispatcherVerifyFailed indicates the kernel verifier rejected the
	// dispatcher byte code.
	ErrDispatcherVerifyFailed = &DispatcherError{
		Kind:   ErrKernelLoad,
		Detail: "dispatcher program failed verification",
	}

	// ErrExtensionBindFailed indicates an extension could not be bound to
	// its assigned slot.
	ErrExtensionBindFailed = &DispatcherError{
		Kind:   ErrKernelLoad,
		Detail: "failed to bind extension to slot",
	}

	// ErrInterfaceNotFound indicates the named NIC does not exist.
	ErrInterfaceNotFound = &DispatcherError{
		Kind:   ErrKernelLoad,
		Detail: "network interface not found",
	}
)
