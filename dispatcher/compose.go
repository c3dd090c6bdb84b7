package dispatcher

import (
	"sort"

	dispatcherrors "xdp-dispatcher/errors"
	"xdp-dispatcher/pin"
)

// composeResult is the outcome of merging a revision's surviving
// extensions with a caller's new ProgramSets.
type composeResult struct {
	// ordered holds every extension in bind order: ascending priority,
	// and within a priority, extensions loaded from the previous
	// revision before freshly provided ones in caller order. This
	// ordering is what makes a no-op reinstall byte-identical.
	ordered []extensionEntry

	// ownedBytecode maps ebpf_id to the collection this call loaded for
	// it, for DispatcherHandle.ByteCode.
	ownedBytecode map[string]*collectionHandle

	// ownedPriorities maps (ebpf_id, program_name) to the priority this
	// call requested, for DispatcherHandle.Close to recognize its own
	// extensions later.
	ownedPriorities map[extensionKey]uint8
}

// compose merges prev (extensions discovered from the current
// revision) with sets (the caller's new program sets), enforcing the
// slot ceiling and the (ebpf_id, program_name) uniqueness invariant.
func compose(loader kernelLoader, prev []extensionEntry, sets []ProgramSet) (*composeResult, error) {
	buckets := make(map[uint8][]extensionEntry)
	seen := make(map[extensionKey]bool)

	for _, e := range prev {
		key := extensionKey{EbpfID: e.attrs.EbpfID, ProgramName: e.attrs.ProgramName}
		seen[key] = true
		buckets[e.attrs.Priority] = append(buckets[e.attrs.Priority], e)
	}

	total := len(prev)
	ownedBytecode := make(map[string]*collectionHandle)
	ownedPriorities := make(map[extensionKey]uint8)

	closeOwned := func() {
		for _, c := range ownedBytecode {
			c.Close()
		}
	}

	for _, set := range sets {
		if len(set.Programs) == 0 {
			closeOwned()
			return nil, dispatcherrors.ErrEmptyProgramSet
		}

		names := make([]string, len(set.Programs))
		for i, p := range set.Programs {
			names[i] = p.Name
		}

		progs, coll, err := loader.LoadExtensions(set.Bytecode, names)
		if err != nil {
			closeOwned()
			return nil, err
		}
		ownedBytecode[set.EbpfID] = coll

		for _, p := range set.Programs {
			attrs := pin.ExtensionAttrs{
				Priority:    p.Priority,
				EbpfID:      set.EbpfID,
				ProgramName: p.Name,
				Loaded:      false,
			}
			if err := pin.Validate(attrs); err != nil {
				closeOwned()
				return nil, err
			}

			key := extensionKey{EbpfID: set.EbpfID, ProgramName: p.Name}
			if seen[key] {
				closeOwned()
				return nil, dispatcherrors.ErrDuplicateProgram
			}
			seen[key] = true

			total++
			if total > MaxPrograms {
				closeOwned()
				return nil, dispatcherrors.ErrTooManyPrograms
			}

			buckets[p.Priority] = append(buckets[p.Priority], extensionEntry{attrs: attrs, prog: progs[p.Name]})
			ownedPriorities[key] = p.Priority
		}
	}

	priorities := make([]uint8, 0, len(buckets))
	for pr := range buckets {
		priorities = append(priorities, pr)
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	ordered := make([]extensionEntry, 0, total)
	for _, pr := range priorities {
		ordered = append(ordered, buckets[pr]...)
	}

	return &composeResult{
		ordered:         ordered,
		ownedBytecode:   ownedBytecode,
		ownedPriorities: ownedPriorities,
	}, nil
}
